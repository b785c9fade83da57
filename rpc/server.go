package rpc

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	_ "google.golang.org/grpc/encoding/gzip" // Install the gzip compressor
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/bobg/studentsync"
	"github.com/bobg/studentsync/metrics"
)

var _ SyncServer = &Server{}

var requestDuration = metrics.NewHistogram(
	"request_duration_seconds",
	"rpc",
	"Time spent handling Exchange calls",
	[]string{"code"},
	nil,
)

// Handler processes encoded envelopes.
// *engine.Engine is a Handler.
type Handler interface {
	HandleBytes(ctx context.Context, client studentsync.ClientID, in []byte) ([]byte, bool)
}

// Server implements SyncServer by passing requests to a Handler.
// It never forgets clients:
// gRPC calls do not mark the end of a client's session.
type Server struct {
	h Handler
}

// NewServer produces a Server dispatching to h.
func NewServer(h Handler) *Server {
	return &Server{h: h}
}

// Exchange implements SyncServer.
func (s *Server) Exchange(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	out, ok := s.h.HandleBytes(ctx, clientID(ctx), req.GetValue())
	if !ok {
		return &wrapperspb.BytesValue{}, nil
	}
	return wrapperspb.Bytes(out), nil
}

func clientID(ctx context.Context) studentsync.ClientID {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(ClientMetadataKey); len(vals) > 0 && vals[0] != "" {
			return studentsync.ClientID(vals[0])
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return studentsync.ClientID(p.Addr.String())
	}
	return "unknown"
}

// ServerOptions are the options Serve gives its grpc.Server.
var ServerOptions = []grpc.ServerOption{
	grpc.KeepaliveParams(keepalive.ServerParameters{
		MaxConnectionIdle: 2 * time.Hour,
		Time:              time.Minute,
		Timeout:           3 * time.Minute,
	}),
}

// Serve runs a gRPC server for h on lis until ctx is canceled.
// Cancellation is not an error.
func Serve(ctx context.Context, lis net.Listener, h Handler, logger *zap.Logger, opts ...Option) error {
	logger = logger.Named("rpc")
	o := newOptions(opts)

	sopts := []grpc.ServerOption{
		grpc.UnaryInterceptor(logInterceptor(logger)),
		grpc.MaxRecvMsgSize(o.maxMessageSize),
		grpc.MaxSendMsgSize(o.maxMessageSize),
	}
	gs := grpc.NewServer(append(sopts, ServerOptions...)...)
	RegisterSyncServer(gs, NewServer(h))

	stop := context.AfterFunc(ctx, gs.GracefulStop)
	defer stop()

	logger.Info("listening", zap.Stringer("addr", lis.Addr()))

	if err := gs.Serve(lis); err != nil {
		return errors.Wrap(err, "serving gRPC")
	}
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func ListenAndServe(ctx context.Context, addr string, h Handler, logger *zap.Logger, opts ...Option) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", addr)
	}
	return Serve(ctx, lis, h, logger, opts...)
}

func logInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		elapsed := time.Since(start)

		code := "ok"
		if err != nil {
			code = "error"
		}
		requestDuration.WithLabelValues(code).Observe(elapsed.Seconds())

		logger.Debug("call",
			zap.String("method", info.FullMethod),
			zap.String("client", string(clientID(ctx))),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return resp, err
	}
}
