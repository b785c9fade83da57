package session

import (
	"bytes"
	"context"
	"net"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/bobg/studentsync"
	"github.com/bobg/studentsync/codec"
	"github.com/bobg/studentsync/engine"
	"github.com/bobg/studentsync/pool/mem"
)

func startServer(t *testing.T, opts ...Option) (string, *mem.Pool) {
	t.Helper()

	p, err := mem.New(mem.DefaultKnowledgeSize)
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	e := engine.New(p, engine.WithLogger(logger))
	srv := NewServer(e, append([]Option{WithLogger(logger)}, opts...)...)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx, lis)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve: %s", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Serve did not return after cancel")
		}
	})

	return lis.Addr().String(), p
}

func dial(t *testing.T, addr string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, addr)
	require.NoError(t, err)
	return c
}

func exchange(t *testing.T, c *Client, mode studentsync.Mode, payload []byte) codec.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := c.Exchange(ctx, codec.Envelope{Mode: mode, Payload: payload})
	require.NoError(t, err)
	return out
}

func TestScenario(t *testing.T) {
	addr, _ := startServer(t)

	var (
		x = studentsync.FileRecord{Name: "x", Content: []byte("data-x")}
		y = studentsync.FileRecord{Name: "y", Content: []byte("data-y")}
	)

	a := dial(t, addr)
	defer a.Close()

	out := exchange(t, a, studentsync.ModeFilenames, codec.EncodeFilenameList([]string{"x", "y"}))
	require.Equal(t, studentsync.ModeFilenames, out.Mode)
	missing, err := codec.DecodeFilenameList(out.Payload)
	require.NoError(t, err)
	require.Equal(t, []string{"x", "y"}, missing)

	out = exchange(t, a, studentsync.ModeFileList, codec.EncodeFileList([]studentsync.FileRecord{x, y}))
	require.Equal(t, studentsync.ModeAck, out.Mode)
	require.Equal(t, engine.AckPayload, string(out.Payload))

	b := dial(t, addr)
	defer b.Close()

	out = exchange(t, b, studentsync.ModeFilenames, codec.EncodeFilenameList([]string{"x"}))
	missing, err = codec.DecodeFilenameList(out.Payload)
	require.NoError(t, err)
	require.Empty(t, missing)

	out = exchange(t, b, studentsync.ModePull, nil)
	require.Equal(t, studentsync.ModeFileList, out.Mode)
	files, err := codec.DecodeFileList(out.Payload)
	require.NoError(t, err)
	if diff := cmp.Diff([]studentsync.FileRecord{y}, files, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("pull mismatch (-want +got):\n%s", diff)
	}
}

func TestRemoteErrors(t *testing.T) {
	addr, _ := startServer(t)

	c := dial(t, addr)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.Exchange(ctx, codec.Envelope{Mode: studentsync.ModePull})
	require.ErrorIs(t, err, studentsync.ErrUnknownClient)

	_, err = c.Exchange(ctx, codec.Envelope{Mode: studentsync.ModeFileList, Payload: []byte{0x0a, 0x7f}})
	require.ErrorIs(t, err, studentsync.ErrDecode)

	// The connection survives errors.
	out := exchange(t, c, studentsync.ModeFilenames, nil)
	require.Equal(t, studentsync.ModeFilenames, out.Mode)
}

func TestForgetOnDisconnect(t *testing.T) {
	addr, p := startServer(t)

	c := dial(t, addr)
	exchange(t, c, studentsync.ModeFilenames, codec.EncodeFilenameList([]string{"a"}))
	require.Equal(t, 1, p.Clients())

	require.NoError(t, c.Close())
	require.Eventually(t, func() bool { return p.Clients() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestRemember(t *testing.T) {
	addr, p := startServer(t, WithForgetOnDisconnect(false))

	c := dial(t, addr)
	exchange(t, c, studentsync.ModeFilenames, codec.EncodeFilenameList([]string{"a"}))
	require.NoError(t, c.Close())

	// Give the server a moment to notice the disconnect.
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, p.Clients())
}

func TestMaxMessageSize(t *testing.T) {
	addr, p := startServer(t, WithMaxMessageSize(64))

	c := dial(t, addr)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	big := studentsync.FileRecord{Name: "big", Content: []byte(strings.Repeat("x", 1024))}
	_, err := c.Exchange(ctx, codec.Envelope{Mode: studentsync.ModeFileList, Payload: codec.EncodeFileList([]studentsync.FileRecord{big})})
	require.Error(t, err)
	require.NoError(t, ctx.Err(), "server should close the connection, not stall")
	require.Equal(t, 0, p.Len())
}

func TestMaxConns(t *testing.T) {
	addr, _ := startServer(t, WithMaxConns(1))

	first := dial(t, addr)
	exchange(t, first, studentsync.ModeFilenames, nil)

	second := dial(t, addr)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := second.Exchange(ctx, codec.Envelope{Mode: studentsync.ModeFilenames})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	second.Close()

	require.NoError(t, first.Close())

	third := dial(t, addr)
	defer third.Close()
	out := exchange(t, third, studentsync.ModeFilenames, nil)
	require.Equal(t, studentsync.ModeFilenames, out.Mode)
}

func TestLargePull(t *testing.T) {
	const size = 256 << 20

	addr, p := startServer(t, WithMaxMessageSize(size))

	recs := []studentsync.FileRecord{
		{Name: "big1", Content: bytes.Repeat([]byte{'a'}, 40<<20)},
		{Name: "big2", Content: bytes.Repeat([]byte{'b'}, 40<<20)},
	}
	require.NoError(t, p.Merge(context.Background(), recs))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := Dial(ctx, addr, WithMaxReplySize(size))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Exchange(ctx, codec.Envelope{Mode: studentsync.ModeFilenames})
	require.NoError(t, err)

	out, err := c.Exchange(ctx, codec.Envelope{Mode: studentsync.ModePull})
	require.NoError(t, err)
	files, err := codec.DecodeFileList(out.Payload)
	require.NoError(t, err)
	require.Len(t, files, 2)
	for i, f := range files {
		require.Equal(t, recs[i].Name, f.Name)
		require.True(t, bytes.Equal(recs[i].Content, f.Content), "content of %s differs", f.Name)
	}
}

// failingListener returns fail(n) from its nth call to Accept, when that is non-nil.
type failingListener struct {
	net.Listener
	fail func(n int) error

	mu    sync.Mutex
	calls int
}

func (l *failingListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	l.calls++
	n := l.calls
	l.mu.Unlock()

	if err := l.fail(n); err != nil {
		return nil, err
	}
	return l.Listener.Accept()
}

func newEngine(t *testing.T) *engine.Engine {
	p, err := mem.New(mem.DefaultKnowledgeSize)
	require.NoError(t, err)
	return engine.New(p, engine.WithLogger(zaptest.NewLogger(t)))
}

func TestAcceptRetry(t *testing.T) {
	inner, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	lis := &failingListener{
		Listener: inner,
		fail: func(n int) error {
			if n <= 2 {
				return &net.OpError{Op: "accept", Net: "tcp", Err: os.NewSyscallError("accept", syscall.EMFILE)}
			}
			return nil
		},
	}

	srv := NewServer(newEngine(t), WithLogger(zaptest.NewLogger(t)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx, lis)
	}()

	c := dial(t, inner.Addr().String())
	defer c.Close()
	out := exchange(t, c, studentsync.ModeFilenames, nil)
	require.Equal(t, studentsync.ModeFilenames, out.Mode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestAcceptFatal(t *testing.T) {
	inner, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	lis := &failingListener{
		Listener: inner,
		fail: func(n int) error {
			if n >= 2 {
				return errors.New("listener broken")
			}
			return nil
		},
	}

	// Connected before Serve starts, so the first Accept returns it.
	c := dial(t, inner.Addr().String())
	defer c.Close()

	srv := NewServer(newEngine(t), WithLogger(zaptest.NewLogger(t)), WithIdleTimeout(0))

	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(context.Background(), lis)
	}()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after a fatal accept error with a client connected")
	}

	// The idle client's connection was closed.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = c.Exchange(ctx, codec.Envelope{Mode: studentsync.ModeFilenames})
	require.Error(t, err)
	require.NoError(t, ctx.Err())
}
