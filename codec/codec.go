// Package codec serializes the messages exchanged between studentsync clients and servers.
//
// All three shapes use the protocol-buffer wire format,
// written and parsed directly with protowire:
//
//	Envelope     { 1: varint mode, 2: bytes payload }
//	FilenameList { 1: repeated string name }
//	FileList     { 1: repeated FileRecord }
//	FileRecord   { 1: string name, 2: bytes content }
//
// Unknown fields are skipped.
package codec

import (
	"io"
	"math"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/bobg/studentsync"
)

// ErrTruncated is the error for input that ends in the middle of a field.
// It wraps studentsync.ErrDecode.
var ErrTruncated = errors.Wrap(studentsync.ErrDecode, "truncated")

const (
	envelopeModeField    protowire.Number = 1
	envelopePayloadField protowire.Number = 2

	listItemField protowire.Number = 1

	recordNameField    protowire.Number = 1
	recordContentField protowire.Number = 2
)

// Envelope is the outer message wrapper.
type Envelope struct {
	Mode    studentsync.Mode
	Payload []byte
}

// EncodeEnvelope serializes an envelope.
func EncodeEnvelope(mode studentsync.Mode, payload []byte) []byte {
	b := make([]byte, 0, len(payload)+16)
	b = protowire.AppendTag(b, envelopeModeField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(mode))
	b = protowire.AppendTag(b, envelopePayloadField, protowire.BytesType)
	b = protowire.AppendBytes(b, payload)
	return b
}

// Encode serializes e.
func (e Envelope) Encode() []byte {
	return EncodeEnvelope(e.Mode, e.Payload)
}

// DecodeEnvelope parses an envelope.
// The mode field is required;
// its value is not checked against the known modes.
func DecodeEnvelope(b []byte) (Envelope, error) {
	var (
		env     Envelope
		sawMode bool
	)
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == envelopeModeField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, parseErr(n, "mode")
			}
			// Negative modes arrive sign-extended to 64 bits.
			if m := int64(v); m < math.MinInt32 || m > math.MaxInt32 {
				return 0, errors.Wrapf(studentsync.ErrDecode, "mode %d out of range", m)
			}
			env.Mode = studentsync.Mode(int32(v))
			sawMode = true
			return n, nil

		case num == envelopePayloadField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, parseErr(n, "payload")
			}
			env.Payload = v
			return n, nil
		}
		return -1, nil
	})
	if err != nil {
		return Envelope{}, errors.Wrap(err, "decoding envelope")
	}
	if !sawMode {
		return Envelope{}, errors.Wrap(studentsync.ErrDecode, "envelope has no mode")
	}
	return env, nil
}

// EncodeFilenameList serializes a list of filenames.
func EncodeFilenameList(names []string) []byte {
	var b []byte
	for _, name := range names {
		b = protowire.AppendTag(b, listItemField, protowire.BytesType)
		b = protowire.AppendString(b, name)
	}
	return b
}

// DecodeFilenameList parses a list of filenames.
func DecodeFilenameList(b []byte) ([]string, error) {
	var names []string
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != listItemField {
			return -1, nil
		}
		if typ != protowire.BytesType {
			return 0, errors.Wrapf(studentsync.ErrDecode, "filename has wire type %d", typ)
		}
		v, n := protowire.ConsumeString(b)
		if n < 0 {
			return 0, parseErr(n, "filename")
		}
		names = append(names, v)
		return n, nil
	})
	return names, errors.Wrap(err, "decoding filename list")
}

// EncodeFileList serializes a list of FileRecords.
func EncodeFileList(files []studentsync.FileRecord) []byte {
	var b []byte
	for _, f := range files {
		var rec []byte
		rec = protowire.AppendTag(rec, recordNameField, protowire.BytesType)
		rec = protowire.AppendString(rec, f.Name)
		rec = protowire.AppendTag(rec, recordContentField, protowire.BytesType)
		rec = protowire.AppendBytes(rec, f.Content)

		b = protowire.AppendTag(b, listItemField, protowire.BytesType)
		b = protowire.AppendBytes(b, rec)
	}
	return b
}

// DecodeFileList parses a list of FileRecords.
// Content slices are copies and do not alias b.
func DecodeFileList(b []byte) ([]studentsync.FileRecord, error) {
	var files []studentsync.FileRecord
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != listItemField {
			return -1, nil
		}
		if typ != protowire.BytesType {
			return 0, errors.Wrapf(studentsync.ErrDecode, "file record has wire type %d", typ)
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return 0, parseErr(n, "file record")
		}
		rec, err := decodeFileRecord(v)
		if err != nil {
			return 0, errors.Wrapf(err, "file record %d", len(files))
		}
		files = append(files, rec)
		return n, nil
	})
	return files, errors.Wrap(err, "decoding file list")
}

func decodeFileRecord(b []byte) (studentsync.FileRecord, error) {
	var (
		rec     studentsync.FileRecord
		sawName bool
	)
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType || (num != recordNameField && num != recordContentField) {
			return -1, nil
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return 0, parseErr(n, "file record field")
		}
		if num == recordNameField {
			rec.Name = string(v)
			sawName = true
		} else {
			rec.Content = append([]byte{}, v...)
		}
		return n, nil
	})
	if err != nil {
		return studentsync.FileRecord{}, err
	}
	if !sawName {
		return studentsync.FileRecord{}, errors.Wrap(studentsync.ErrDecode, "file record has no name")
	}
	if rec.Content == nil {
		rec.Content = []byte{}
	}
	return rec, nil
}

// forEachField calls f with each field's number, wire type, and the bytes following its tag.
// The callback returns the length of the value it consumed,
// or -1 to have the field skipped.
func forEachField(b []byte, f func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return parseErr(n, "tag")
		}
		b = b[n:]

		n, err := f(num, typ, b)
		if err != nil {
			return err
		}
		if n < 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return parseErr(n, "unknown field")
			}
		}
		b = b[n:]
	}
	return nil
}

func parseErr(n int, what string) error {
	if errors.Is(protowire.ParseError(n), io.ErrUnexpectedEOF) {
		return errors.Wrap(ErrTruncated, what)
	}
	return errors.Wrapf(studentsync.ErrDecode, "%s: %s", what, protowire.ParseError(n))
}
