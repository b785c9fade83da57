package rpc

import (
	"context"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding/gzip"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/bobg/studentsync"
	"github.com/bobg/studentsync/codec"
)

// ErrNoReply is the error Client.Exchange returns
// when the server suppressed its reply.
var ErrNoReply = errors.New("no reply")

// Client talks to a Sync server.
type Client struct {
	cc             grpc.ClientConnInterface
	id             string
	maxMessageSize int
}

// NewClient produces a Client using cc.
// If id is non-empty it is sent as the client's identity,
// so that the server can recognize it across connections.
func NewClient(cc grpc.ClientConnInterface, id string, opts ...Option) *Client {
	o := newOptions(opts)
	return &Client{cc: cc, id: id, maxMessageSize: o.maxMessageSize}
}

// Dial connects to the Sync server at addr without transport security.
// The caller must close the returned connection.
func Dial(addr, id string, opts ...Option) (*Client, *grpc.ClientConn, error) {
	cc, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, errors.Wrapf(err, "connecting to %s", addr)
	}
	return NewClient(cc, id, opts...), cc, nil
}

// Exchange sends in and returns the reply.
// A ModeError reply is returned as an error (see codec.Envelope.Err).
func (c *Client) Exchange(ctx context.Context, in codec.Envelope) (codec.Envelope, error) {
	if c.id != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, ClientMetadataKey, c.id)
	}

	var (
		req  = wrapperspb.Bytes(in.Encode())
		resp = new(wrapperspb.BytesValue)
	)
	err := c.cc.Invoke(ctx, exchangeMethod, req, resp,
		grpc.UseCompressor(gzip.Name),
		grpc.MaxCallRecvMsgSize(c.maxMessageSize),
		grpc.MaxCallSendMsgSize(c.maxMessageSize),
	)
	if err != nil {
		switch status.Code(err) {
		case codes.Canceled, codes.DeadlineExceeded:
			if cerr := ctx.Err(); cerr != nil {
				return codec.Envelope{}, cerr
			}
		case codes.Unavailable:
			return codec.Envelope{}, errors.Wrapf(studentsync.ErrTransport, "sending %s request: %s", in.Mode, err)
		}
		return codec.Envelope{}, errors.Wrapf(err, "sending %s request", in.Mode)
	}
	if len(resp.Value) == 0 {
		return codec.Envelope{}, errors.Wrapf(ErrNoReply, "%s request", in.Mode)
	}

	out, err := codec.DecodeEnvelope(resp.Value)
	if err != nil {
		return codec.Envelope{}, errors.Wrapf(err, "decoding reply to %s request", in.Mode)
	}
	return out, out.Err()
}
