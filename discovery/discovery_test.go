package discovery

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/bobg/studentsync"
)

func TestAnnouncementFormat(t *testing.T) {
	cases := []struct {
		addrs   []string
		payload string
	}{
		{addrs: nil, payload: ""},
		{addrs: []string{"192.168.1.5"}, payload: "192.168.1.5#"},
		{addrs: []string{"10.0.0.2", "192.168.1.5"}, payload: "10.0.0.2#192.168.1.5#"},
	}
	for _, c := range cases {
		got := string(EncodeAnnouncement(c.addrs))
		if got != c.payload {
			t.Errorf("EncodeAnnouncement(%v) = %q, want %q", c.addrs, got, c.payload)
		}
		if diff := cmp.Diff(c.addrs, DecodeAnnouncement([]byte(c.payload))); diff != "" {
			t.Errorf("DecodeAnnouncement(%q) mismatch (-want +got):\n%s", c.payload, diff)
		}
	}

	// No trailing delimiter, and stray empty elements.
	if diff := cmp.Diff([]string{"a", "b"}, DecodeAnnouncement([]byte("a##b"))); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

type fakeSender struct {
	mu       sync.Mutex
	fail     bool
	payloads chan string
}

func (s *fakeSender) Send(b []byte) error {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()

	s.payloads <- string(b)
	if fail {
		return errors.Wrap(studentsync.ErrTransport, "network unreachable")
	}
	return nil
}

func (s *fakeSender) Close() error { return nil }

func (s *fakeSender) setFail(fail bool) {
	s.mu.Lock()
	s.fail = fail
	s.mu.Unlock()
}

type fakeAddrs struct {
	mu    sync.Mutex
	addrs []string
}

func (a *fakeAddrs) HostAddrs() ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string{}, a.addrs...), nil
}

func (a *fakeAddrs) set(addrs ...string) {
	a.mu.Lock()
	a.addrs = addrs
	a.mu.Unlock()
}

func TestBroadcaster(t *testing.T) {
	var (
		clock      = clockwork.NewFakeClock()
		sender     = &fakeSender{payloads: make(chan string, 1)}
		addrs      = &fakeAddrs{addrs: []string{"10.0.0.1"}}
		core, logs = observer.New(zapcore.InfoLevel)
	)

	b := NewBroadcaster(addrs, sender, WithClock(clock), WithLogger(zap.New(core)), WithInterval(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- b.Run(ctx)
	}()

	next := func() string {
		t.Helper()
		select {
		case p := <-sender.payloads:
			return p
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for announcement")
		}
		return ""
	}
	tick := func() {
		clock.BlockUntil(1)
		clock.Advance(time.Second)
	}
	updates := func() int {
		return logs.FilterMessage("IP list updated").Len()
	}

	require.Equal(t, "10.0.0.1#", next())
	require.Equal(t, 1, updates())

	tick()
	require.Equal(t, "10.0.0.1#", next())
	require.Equal(t, 1, updates(), "unchanged list should not be reported")

	addrs.set("10.0.0.1", "192.168.0.7")
	tick()
	require.Equal(t, "10.0.0.1#192.168.0.7#", next())
	require.Equal(t, 2, updates())

	sender.setFail(true)
	tick()
	require.Equal(t, "10.0.0.1#192.168.0.7#", next())

	sender.setFail(false)
	tick()
	require.Equal(t, "10.0.0.1#192.168.0.7#", next(), "broadcaster should survive a send failure")
	require.Equal(t, 1, logs.FilterMessage("sending announcement").Len())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestInterfaceAddrs(t *testing.T) {
	addrs, err := InterfaceAddrs{IPv6: true}.HostAddrs()
	require.NoError(t, err)
	for _, addr := range addrs {
		ip := net.ParseIP(addr)
		require.NotNil(t, ip, "unparseable address %q", addr)
		require.False(t, ip.IsLoopback(), "loopback address %s", addr)
	}
}

func TestServe(t *testing.T) {
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Announcement, 1)
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, conn, func(a Announcement) error {
			got <- a
			return nil
		})
	}()

	out, err := net.Dial("udp4", conn.LocalAddr().String())
	require.NoError(t, err)
	defer out.Close()

	_, err = out.Write(EncodeAnnouncement([]string{"10.1.2.3", "10.4.5.6"}))
	require.NoError(t, err)

	select {
	case a := <-got:
		require.Equal(t, []string{"10.1.2.3", "10.4.5.6"}, a.Addrs)
		require.Equal(t, out.LocalAddr().String(), a.From)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for announcement")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestMulticastSenderRejectsUnicast(t *testing.T) {
	_, err := NewMulticastSender("127.0.0.1", DefaultPort, DefaultTTL)
	require.Error(t, err)
}
