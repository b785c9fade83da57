package codec

import (
	"errors"
	"testing"
	"testing/quick"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/bobg/studentsync"
)

func TestFilenameListRoundTrip(t *testing.T) {
	f := func(names []string) bool {
		got, err := DecodeFilenameList(EncodeFilenameList(names))
		if err != nil {
			t.Logf("decoding %q: %s", names, err)
			return false
		}
		if diff := cmp.Diff(names, got, cmpopts.EquateEmpty()); diff != "" {
			t.Logf("mismatch (-want +got):\n%s", diff)
			return false
		}
		return true
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestFileListRoundTrip(t *testing.T) {
	f := func(files []studentsync.FileRecord) bool {
		got, err := DecodeFileList(EncodeFileList(files))
		if err != nil {
			t.Logf("decoding: %s", err)
			return false
		}
		if diff := cmp.Diff(files, got, cmpopts.EquateEmpty()); diff != "" {
			t.Logf("mismatch (-want +got):\n%s", diff)
			return false
		}
		return true
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestFileListEdgeCases(t *testing.T) {
	binary := make([]byte, 70000)
	for i := range binary {
		binary[i] = byte(i * 7)
	}

	cases := []struct {
		name  string
		files []studentsync.FileRecord
	}{
		{name: "nil"},
		{name: "empty", files: []studentsync.FileRecord{}},
		{name: "empty content", files: []studentsync.FileRecord{{Name: "x"}}},
		{name: "empty name", files: []studentsync.FileRecord{{Name: "", Content: []byte("anonymous")}}},
		{name: "binary", files: []studentsync.FileRecord{{Name: "a.bin", Content: binary}, {Name: "b", Content: []byte{0, 0xff, 0}}}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := DecodeFileList(EncodeFileList(c.files))
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(c.files, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	f := func(mode int32, payload []byte) bool {
		got, err := DecodeEnvelope(EncodeEnvelope(studentsync.Mode(mode), payload))
		if err != nil {
			t.Logf("decoding: %s", err)
			return false
		}
		want := Envelope{Mode: studentsync.Mode(mode), Payload: payload}
		if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
			t.Logf("mismatch (-want +got):\n%s", diff)
			return false
		}
		return true
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestNestedRoundTrip(t *testing.T) {
	files := []studentsync.FileRecord{{Name: "x", Content: []byte("data-x")}, {Name: "y", Content: []byte("data-y")}}

	env, err := DecodeEnvelope(EncodeEnvelope(studentsync.ModeFileList, EncodeFileList(files)))
	if err != nil {
		t.Fatal(err)
	}
	if env.Mode != studentsync.ModeFileList {
		t.Errorf("got mode %s, want %s", env.Mode, studentsync.ModeFileList)
	}
	got, err := DecodeFileList(env.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(files, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestNegativeMode(t *testing.T) {
	env, err := DecodeEnvelope(EncodeEnvelope(-3, []byte("x")))
	if err != nil {
		t.Fatal(err)
	}
	if env.Mode != -3 {
		t.Errorf("got mode %d, want -3", env.Mode)
	}
}

func TestDecodeErrors(t *testing.T) {
	full := EncodeEnvelope(studentsync.ModeFilenames, EncodeFilenameList([]string{"alpha", "beta"}))

	cases := []struct {
		name      string
		decode    func([]byte) error
		input     []byte
		truncated bool
	}{
		{
			name:      "truncated envelope",
			decode:    envelopeDecoder,
			input:     full[:len(full)-3],
			truncated: true,
		},
		{
			name:   "envelope without mode",
			decode: envelopeDecoder,
			input:  []byte{0x12, 0x00}, // field 2, zero-length payload
		},
		{
			name:   "mode wider than 32 bits",
			decode: envelopeDecoder,
			input:  []byte{0x08, 0x82, 0x80, 0x80, 0x80, 0x10}, // field 1, varint 1<<32 + 2
		},
		{
			name:      "truncated filename list",
			decode:    filenameListDecoder,
			input:     EncodeFilenameList([]string{"abcdef"})[:4],
			truncated: true,
		},
		{
			name:   "filename with varint wire type",
			decode: filenameListDecoder,
			input:  []byte{0x08, 0x01},
		},
		{
			name:   "file record without name",
			decode: fileListDecoder,
			input:  []byte{0x0a, 0x03, 0x12, 0x01, 'z'},
		},
		{
			name:   "bad tag",
			decode: fileListDecoder,
			input:  []byte{0x00},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.decode(c.input)
			if !errors.Is(err, studentsync.ErrDecode) {
				t.Fatalf("got error %v, want ErrDecode", err)
			}
			if got := errors.Is(err, ErrTruncated); got != c.truncated {
				t.Errorf("got truncated=%v, want %v (error: %s)", got, c.truncated, err)
			}
		})
	}
}

func TestUnknownFieldsSkipped(t *testing.T) {
	b := EncodeFilenameList([]string{"a"})
	b = append(b, 0x18, 0x2a) // field 3, varint 42
	b = append(b, EncodeFilenameList([]string{"b"})...)

	got, err := DecodeFilenameList(b)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestErrorEnvelope(t *testing.T) {
	cases := []struct {
		err  error
		want error
	}{
		{err: studentsync.ErrUnknownClient, want: studentsync.ErrUnknownClient},
		{err: studentsync.ErrUnknownMode, want: studentsync.ErrUnknownMode},
		{err: ErrTruncated, want: studentsync.ErrDecode},
		{err: errors.New("boom")},
	}

	for _, c := range cases {
		t.Run(c.err.Error(), func(t *testing.T) {
			env, err := DecodeEnvelope(NewError(c.err).Encode())
			if err != nil {
				t.Fatal(err)
			}
			got := env.Err()

			var rerr *RemoteError
			if !errors.As(got, &rerr) {
				t.Fatalf("got %T, want *RemoteError", got)
			}
			if rerr.Msg != c.err.Error() {
				t.Errorf("got message %q, want %q", rerr.Msg, c.err.Error())
			}
			if c.want != nil && !errors.Is(got, c.want) {
				t.Errorf("got %v, want it to match %v", got, c.want)
			}
			if c.want == nil && errors.Unwrap(got) != nil {
				t.Errorf("got wrapped error %v, want none", errors.Unwrap(got))
			}
		})
	}

	if err := (Envelope{Mode: studentsync.ModeAck}).Err(); err != nil {
		t.Errorf("got %v from ack envelope, want nil", err)
	}
}

func envelopeDecoder(b []byte) error {
	_, err := DecodeEnvelope(b)
	return err
}

func filenameListDecoder(b []byte) error {
	_, err := DecodeFilenameList(b)
	return err
}

func fileListDecoder(b []byte) error {
	_, err := DecodeFileList(b)
	return err
}
