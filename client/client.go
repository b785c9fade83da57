// Package client implements the client side of the studentsync protocol.
package client

import (
	"context"

	"github.com/pkg/errors"

	"github.com/bobg/studentsync"
	"github.com/bobg/studentsync/codec"
	"github.com/bobg/studentsync/engine"
)

// Exchanger sends one envelope and returns the reply.
// A ModeError reply is reported as an error.
// *session.Client and *rpc.Client are Exchangers.
type Exchanger interface {
	Exchange(context.Context, codec.Envelope) (codec.Envelope, error)
}

// Client speaks the studentsync protocol over an Exchanger.
type Client struct {
	x Exchanger
}

// New produces a Client using x.
func New(x Exchanger) *Client {
	return &Client{x: x}
}

// Report tells the server which files the client has
// and returns the ones the server lacks.
func (c *Client) Report(ctx context.Context, names []string) ([]string, error) {
	out, err := c.exchange(ctx, studentsync.ModeFilenames, codec.EncodeFilenameList(names), studentsync.ModeFilenames)
	if err != nil {
		return nil, err
	}
	missing, err := codec.DecodeFilenameList(out.Payload)
	return missing, errors.Wrap(err, "decoding missing-file list")
}

// Push sends files to the server.
func (c *Client) Push(ctx context.Context, files []studentsync.FileRecord) error {
	out, err := c.exchange(ctx, studentsync.ModeFileList, codec.EncodeFileList(files), studentsync.ModeAck)
	if err != nil {
		return err
	}
	if string(out.Payload) != engine.AckPayload {
		return errors.Wrapf(studentsync.ErrDecode, "unexpected acknowledgement %q", out.Payload)
	}
	return nil
}

// Pull fetches the files the server has that were absent from the client's last report.
func (c *Client) Pull(ctx context.Context) ([]studentsync.FileRecord, error) {
	out, err := c.exchange(ctx, studentsync.ModePull, nil, studentsync.ModeFileList)
	if err != nil {
		return nil, err
	}
	files, err := codec.DecodeFileList(out.Payload)
	return files, errors.Wrap(err, "decoding pulled files")
}

func (c *Client) exchange(ctx context.Context, mode studentsync.Mode, payload []byte, want studentsync.Mode) (codec.Envelope, error) {
	out, err := c.x.Exchange(ctx, codec.Envelope{Mode: mode, Payload: payload})
	if err != nil {
		return codec.Envelope{}, errors.Wrapf(err, "%s request", mode)
	}
	if out.Mode != want {
		return codec.Envelope{}, errors.Wrapf(studentsync.ErrUnknownMode, "got %s reply to %s request, want %s", out.Mode, mode, want)
	}
	return out, nil
}
