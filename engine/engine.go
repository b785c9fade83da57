// Package engine implements the studentsync reconciliation protocol.
//
// An Engine holds no per-connection state of its own.
// Everything it knows lives in a studentsync.Pool,
// keyed by the client identities the transports hand it,
// so a client may send its messages in any order and any number of times.
//
// The exchange that brings a client up to date is:
//
//	client                          server
//	FILENAMES [names it owns]  ->
//	                           <-   FILENAMES [names the server lacks]
//	FILELIST  [those files]    ->
//	                           <-   ACK
//	PULL                       ->
//	                           <-   FILELIST [files the client lacks]
package engine

import (
	"context"
	stderrs "errors"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bobg/studentsync"
	"github.com/bobg/studentsync/codec"
)

// AckPayload is the payload of the ModeAck reply to a push.
const AckPayload = "ok"

// Engine turns inbound envelopes into replies,
// updating its pool along the way.
// It is safe for concurrent use to the extent its pool is.
type Engine struct {
	pool         studentsync.Pool
	logger       *zap.Logger
	errorReplies bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger configures the engine's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithErrorReplies controls what HandleBytes does with an undecodable request.
// When true (the default) the peer gets a ModeError reply.
// When false the reply is suppressed,
// leaving the peer to time out.
// Other errors always produce a ModeError reply.
func WithErrorReplies(on bool) Option {
	return func(e *Engine) {
		e.errorReplies = on
	}
}

// New produces a new Engine operating on pool.
func New(pool studentsync.Pool, opts ...Option) *Engine {
	e := &Engine{
		pool:         pool,
		logger:       zap.NewNop(),
		errorReplies: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("engine")
	return e
}

// Handle computes the reply to in, sent by client.
func (e *Engine) Handle(ctx context.Context, client studentsync.ClientID, in codec.Envelope) (codec.Envelope, error) {
	messagesTotal.WithLabelValues(modeLabel(in.Mode)).Inc()

	switch in.Mode {
	case studentsync.ModeFilenames:
		return e.filenames(ctx, client, in.Payload)

	case studentsync.ModeFileList:
		return e.push(ctx, in.Payload)

	case studentsync.ModePull:
		return e.pull(ctx, client)
	}

	return codec.Envelope{}, errors.Wrapf(studentsync.ErrUnknownMode, "mode %s", in.Mode)
}

// The client reports what it has;
// the reply names what the server wants from it.
func (e *Engine) filenames(ctx context.Context, client studentsync.ClientID, payload []byte) (codec.Envelope, error) {
	names, err := codec.DecodeFilenameList(payload)
	if err != nil {
		return codec.Envelope{}, err
	}
	missing, err := e.pool.Report(ctx, client, names)
	if err != nil {
		return codec.Envelope{}, errors.Wrapf(err, "recording report from %s", client)
	}
	e.logger.Debug("filenames",
		zap.String("client", string(client)),
		zap.Int("reported", len(names)),
		zap.Int("missing", len(missing)),
	)
	return codec.Envelope{Mode: studentsync.ModeFilenames, Payload: codec.EncodeFilenameList(missing)}, nil
}

func (e *Engine) push(ctx context.Context, payload []byte) (codec.Envelope, error) {
	files, err := codec.DecodeFileList(payload)
	if err != nil {
		return codec.Envelope{}, err
	}
	if err = e.pool.Merge(ctx, files); err != nil {
		return codec.Envelope{}, errors.Wrap(err, "merging pushed files")
	}
	filesMerged.Add(float64(len(files)))
	for _, f := range files {
		e.logger.Info("received file", zap.String("name", f.Name), zap.Int("size", len(f.Content)))
	}
	return codec.Envelope{Mode: studentsync.ModeAck, Payload: []byte(AckPayload)}, nil
}

func (e *Engine) pull(ctx context.Context, client studentsync.ClientID) (codec.Envelope, error) {
	wanted, err := e.pool.Wanted(ctx, client)
	if err != nil {
		return codec.Envelope{}, errors.Wrapf(err, "computing files wanted by %s", client)
	}
	filesServed.Add(float64(len(wanted)))
	e.logger.Debug("pull", zap.String("client", string(client)), zap.Int("files", len(wanted)))
	return codec.Envelope{Mode: studentsync.ModeFileList, Payload: codec.EncodeFileList(wanted)}, nil
}

// HandleBytes decodes an envelope from in,
// handles it,
// and returns the encoded reply.
// The boolean is false when no reply should be sent
// (see WithErrorReplies).
// Errors are logged and answered with ModeError envelopes;
// they never escape.
func (e *Engine) HandleBytes(ctx context.Context, client studentsync.ClientID, in []byte) ([]byte, bool) {
	env, err := codec.DecodeEnvelope(in)
	if err == nil {
		var out codec.Envelope
		out, err = e.Handle(ctx, client, env)
		if err == nil {
			return out.Encode(), true
		}
	}

	errorsTotal.WithLabelValues(errorKind(err)).Inc()
	e.logger.Warn("request failed", zap.String("client", string(client)), zap.Error(err))

	if !e.errorReplies && stderrs.Is(err, studentsync.ErrDecode) {
		return nil, false
	}
	return codec.NewError(err).Encode(), true
}

// Forget discards what the engine knows about client.
// Transports call it when a client disconnects.
func (e *Engine) Forget(ctx context.Context, client studentsync.ClientID) {
	if err := e.pool.Forget(ctx, client); err != nil {
		e.logger.Warn("forgetting client", zap.String("client", string(client)), zap.Error(err))
	}
}
