package studentsync

import (
	"bytes"
	"fmt"
)

type (
	// ClientID identifies a client to the server.
	// It is opaque:
	// transports choose what to put here
	// (typically the remote network address).
	ClientID string

	// Mode is the discriminator of an envelope.
	Mode int32
)

// The modes that may appear on the wire.
const (
	ModeUnknown Mode = iota

	// ModeFilenames carries a filename list.
	// From a client it reports the files the client owns;
	// from the server it names the files the server wants pushed.
	ModeFilenames

	// ModeFileList carries a list of FileRecords.
	// From a client it is a push;
	// from the server it answers a pull.
	ModeFileList

	// ModePull asks for the files the client is missing.
	// Its payload is ignored.
	ModePull

	// ModeAck acknowledges a push.
	ModeAck

	// ModeError reports a failed request.
	ModeError
)

// Valid tells whether m is one of the modes defined above,
// excluding ModeUnknown.
func (m Mode) Valid() bool {
	return m > ModeUnknown && m <= ModeError
}

func (m Mode) String() string {
	switch m {
	case ModeFilenames:
		return "FILENAMES"
	case ModeFileList:
		return "FILELIST"
	case ModePull:
		return "PULL"
	case ModeAck:
		return "ACK"
	case ModeError:
		return "ERROR"
	}
	return fmt.Sprintf("Mode(%d)", int32(m))
}

// FileRecord is a named file.
// Its name is unique within a pool.
type FileRecord struct {
	Name    string
	Content []byte
}

// Clone returns a copy of r that shares no memory with it.
func (r FileRecord) Clone() FileRecord {
	return FileRecord{Name: r.Name, Content: bytes.Clone(r.Content)}
}
