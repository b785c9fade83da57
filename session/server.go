// Package session carries studentsync envelopes over TCP.
//
// Each message on a connection is a frame:
// a 4-byte big-endian length followed by that many bytes of encoded envelope.
// The server answers each request frame with one reply frame,
// unless its handler suppresses the reply.
// Requests on one connection are handled in order.
package session

import (
	"context"
	stderrs "errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/libp2p/go-msgio"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/bobg/studentsync"
	"github.com/bobg/studentsync/metrics"
)

// Defaults for Server.
const (
	DefaultAddr           = ":55553"
	DefaultMaxConns       = 200
	DefaultMaxMessageSize = 64 << 20
	DefaultIdleTimeout    = 5 * time.Minute
)

var (
	connsOpen = metrics.NewGauge(
		"connections",
		"session",
		"Number of open client connections",
		[]string{},
	).WithLabelValues()
	connsTotal = metrics.NewCounter(
		"connections_total",
		"session",
		"Number of accepted client connections",
		[]string{},
	).WithLabelValues()
)

// Handler processes request frames.
// *engine.Engine is a Handler.
type Handler interface {
	// HandleBytes returns the reply to in,
	// and false if there should be no reply.
	HandleBytes(ctx context.Context, client studentsync.ClientID, in []byte) ([]byte, bool)

	// Forget is called when a client disconnects,
	// if the server is so configured.
	Forget(ctx context.Context, client studentsync.ClientID)
}

// Server accepts client connections and passes their requests to a Handler.
type Server struct {
	h              Handler
	logger         *zap.Logger
	maxConns       int
	maxMessageSize int
	idleTimeout    time.Duration
	forget         bool

	wg sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMaxConns limits the number of simultaneous connections.
// Further connections wait to be accepted until one closes.
func WithMaxConns(n int) Option {
	return func(s *Server) {
		s.maxConns = n
	}
}

// WithMaxMessageSize limits the size of a request frame.
// A client sending a larger one is disconnected.
func WithMaxMessageSize(n int) Option {
	return func(s *Server) {
		s.maxMessageSize = n
	}
}

// WithIdleTimeout closes connections that send nothing for d.
// Zero disables the timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.idleTimeout = d
	}
}

// WithForgetOnDisconnect makes the server call Handler.Forget
// when a connection closes.
func WithForgetOnDisconnect(on bool) Option {
	return func(s *Server) {
		s.forget = on
	}
}

// NewServer produces a Server dispatching to h.
func NewServer(h Handler, opts ...Option) *Server {
	s := &Server{
		h:              h,
		logger:         zap.NewNop(),
		maxConns:       DefaultMaxConns,
		maxMessageSize: DefaultMaxMessageSize,
		idleTimeout:    DefaultIdleTimeout,
		forget:         true,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("session")
	return s
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", addr)
	}
	return s.Serve(ctx, lis)
}

// Serve accepts connections on lis until ctx is canceled
// or accepting fails with a non-temporary error.
// Temporary accept errors (such as running out of file descriptors)
// are retried with backoff.
// On return lis and all open connections are closed
// and their goroutines have finished.
// Cancellation is not an error.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	defer s.wg.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.maxConns > 0 {
		lis = netutil.LimitListener(lis, s.maxConns)
	}
	defer lis.Close()

	stop := context.AfterFunc(ctx, func() { lis.Close() })
	defer stop()

	s.logger.Info("listening", zap.Stringer("addr", lis.Addr()), zap.Int("max_conns", s.maxConns))

	var delay time.Duration
	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !isTemporary(err) {
				s.logger.Error("accepting connection", zap.Error(err))
				return errors.Wrap(err, "accepting connection")
			}

			if delay == 0 {
				delay = minAcceptDelay
			} else if delay *= 2; delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}
			s.logger.Warn("accepting connection, retrying", zap.Error(err), zap.Duration("delay", delay))

			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
			continue
		}
		delay = 0

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// Backoff bounds for temporary accept errors.
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

func isTemporary(err error) bool {
	var t interface{ Temporary() bool }
	return stderrs.As(err, &t) && t.Temporary()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	client := studentsync.ClientID(conn.RemoteAddr().String())
	logger := s.logger.With(zap.String("client", string(client)))

	connsTotal.Inc()
	connsOpen.Inc()
	defer connsOpen.Dec()

	logger.Info("client connected")
	defer logger.Info("client disconnected")

	if s.forget {
		defer s.h.Forget(context.Background(), client)
	}

	var (
		r = msgio.NewReaderSize(conn, s.maxMessageSize)
		w = msgio.NewWriter(conn)
	)

	for {
		if s.idleTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(s.idleTimeout)); err != nil {
				logger.Warn("setting read deadline", zap.Error(err))
				return
			}
		}

		msg, err := r.ReadMsg()
		if err != nil {
			if !stderrs.Is(err, io.EOF) && ctx.Err() == nil {
				logger.Warn("reading request", zap.Error(err))
			}
			return
		}

		out, ok := s.h.HandleBytes(ctx, client, msg)
		r.ReleaseMsg(msg)
		if !ok {
			continue
		}

		if err = w.WriteMsg(out); err != nil {
			logger.Warn("writing reply", zap.Error(err))
			return
		}
	}
}
