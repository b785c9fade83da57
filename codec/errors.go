package codec

import (
	stderrs "errors"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/bobg/studentsync"
)

// Error kinds carried in a ModeError payload.
const (
	kindInternal uint64 = iota
	kindDecode
	kindUnknownClient
	kindUnknownMode
)

const (
	errorKindField    protowire.Number = 1
	errorMessageField protowire.Number = 2
)

// NewError produces a ModeError envelope describing err.
func NewError(err error) Envelope {
	var kind uint64
	switch {
	case stderrs.Is(err, studentsync.ErrDecode):
		kind = kindDecode
	case stderrs.Is(err, studentsync.ErrUnknownClient):
		kind = kindUnknownClient
	case stderrs.Is(err, studentsync.ErrUnknownMode):
		kind = kindUnknownMode
	}

	var b []byte
	b = protowire.AppendTag(b, errorKindField, protowire.VarintType)
	b = protowire.AppendVarint(b, kind)
	b = protowire.AppendTag(b, errorMessageField, protowire.BytesType)
	b = protowire.AppendString(b, err.Error())

	return Envelope{Mode: studentsync.ModeError, Payload: b}
}

// RemoteError is an error reported by the other side of a connection.
type RemoteError struct {
	Msg  string
	kind error
}

func (e *RemoteError) Error() string {
	return "remote: " + e.Msg
}

// Unwrap makes the matching studentsync sentinel
// (ErrDecode, ErrUnknownClient, ErrUnknownMode)
// visible to errors.Is.
func (e *RemoteError) Unwrap() error {
	return e.kind
}

// Err returns nil unless e is a ModeError envelope,
// in which case it returns the *RemoteError it carries.
func (e Envelope) Err() error {
	if e.Mode != studentsync.ModeError {
		return nil
	}

	var (
		kind uint64
		msg  string
	)
	err := forEachField(e.Payload, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == errorKindField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, parseErr(n, "error kind")
			}
			kind = v
			return n, nil

		case num == errorMessageField && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return 0, parseErr(n, "error message")
			}
			msg = v
			return n, nil
		}
		return -1, nil
	})
	if err != nil {
		return errors.Wrap(err, "decoding error envelope")
	}

	rerr := &RemoteError{Msg: msg}
	switch kind {
	case kindDecode:
		rerr.kind = studentsync.ErrDecode
	case kindUnknownClient:
		rerr.kind = studentsync.ErrUnknownClient
	case kindUnknownMode:
		rerr.kind = studentsync.ErrUnknownMode
	}
	return rerr
}
