package session

import (
	"context"
	stderrs "errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/libp2p/go-msgio"
	"github.com/pkg/errors"

	"github.com/bobg/studentsync/codec"
)

// Client is a connection to a Server.
type Client struct {
	mu   sync.Mutex // serializes exchanges
	conn net.Conn
	r    msgio.ReadCloser
	w    msgio.WriteCloser
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	maxReplySize int
}

// WithMaxReplySize limits the size of a reply frame the client will read.
// The default is DefaultMaxMessageSize.
// A server sends a pull reply holding every file the client lacks,
// so this must be large enough for the whole pool.
func WithMaxReplySize(n int) ClientOption {
	return func(c *clientConfig) {
		c.maxReplySize = n
	}
}

// Dial connects to the server at addr.
func Dial(ctx context.Context, addr string, opts ...ClientOption) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to %s", addr)
	}
	return NewClient(conn, opts...), nil
}

// NewClient produces a Client communicating over conn.
func NewClient(conn net.Conn, opts ...ClientOption) *Client {
	conf := clientConfig{maxReplySize: DefaultMaxMessageSize}
	for _, opt := range opts {
		opt(&conf)
	}
	return &Client{
		conn: conn,
		r:    msgio.NewReaderSize(conn, conf.maxReplySize),
		w:    msgio.NewWriter(conn),
	}
}

// Exchange sends in and waits for the reply.
// If ctx has a deadline it bounds the whole exchange;
// a server that suppresses its reply leaves Exchange waiting until then.
// A ModeError reply is returned as an error (see codec.Envelope.Err).
func (c *Client) Exchange(ctx context.Context, in codec.Envelope) (codec.Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return codec.Envelope{}, errors.Wrap(err, "setting deadline")
	}
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if err := c.w.WriteMsg(in.Encode()); err != nil {
		if cerr := ctxErr(ctx, err); cerr != nil {
			return codec.Envelope{}, cerr
		}
		return codec.Envelope{}, errors.Wrapf(err, "sending %s request", in.Mode)
	}

	msg, err := c.r.ReadMsg()
	if err != nil {
		if cerr := ctxErr(ctx, err); cerr != nil {
			return codec.Envelope{}, cerr
		}
		return codec.Envelope{}, errors.Wrapf(err, "reading reply to %s request", in.Mode)
	}
	defer c.r.ReleaseMsg(msg)

	out, err := codec.DecodeEnvelope(msg)
	if err != nil {
		return codec.Envelope{}, errors.Wrapf(err, "decoding reply to %s request", in.Mode)
	}
	out.Payload = append([]byte{}, out.Payload...)

	return out, out.Err()
}

// ctxErr returns the context error behind err, an I/O failure, if there is one.
func ctxErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	if _, ok := ctx.Deadline(); ok && stderrs.Is(err, os.ErrDeadlineExceeded) {
		return context.DeadlineExceeded
	}
	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
