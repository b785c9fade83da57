// Package studentsync keeps a pool of files in step across the machines on a LAN.
//
// A server advertises its addresses by UDP multicast
// (see the discovery subpackage),
// so clients can find it without configuration.
// Each connected client reports the names of the files it owns.
// The server answers with the names it does not yet have,
// the client pushes those files,
// and later pulls the files that other clients contributed.
// Eventually every participating file lives on every client and on the server.
//
// The server's state is a Pool:
// the consolidated files, keyed by name,
// plus what each client most recently said it owns.
// A file pushed under an existing name replaces the old one.
// Nothing is ever deleted,
// and nothing survives a restart.
//
// The protocol itself is tiny.
// Messages are envelopes carrying a Mode and a payload
// (see the codec subpackage),
// and the engine subpackage turns each inbound envelope into exactly one reply.
// Transports live in the session (framed TCP) and rpc (gRPC) subpackages.
package studentsync
