// Package discovery lets clients find a studentsync server without configuration.
//
// The server runs a Broadcaster,
// which periodically multicasts the server's addresses.
// Clients Listen for these announcements
// and connect to one of the addresses they carry.
package discovery

import (
	"strings"
	"time"
)

// Defaults for the announcement channel.
const (
	DefaultGroup    = "239.255.0.3"
	DefaultPort     = 30003
	DefaultInterval = 1200 * time.Millisecond
	DefaultTTL      = 1
)

// Delimiter follows each address in an announcement.
// It cannot appear in an IP address.
const Delimiter = "#"

// EncodeAnnouncement produces the announcement payload for addrs:
// each address followed by Delimiter.
func EncodeAnnouncement(addrs []string) []byte {
	var sb strings.Builder
	for _, addr := range addrs {
		sb.WriteString(addr)
		sb.WriteString(Delimiter)
	}
	return []byte(sb.String())
}

// DecodeAnnouncement parses an announcement payload.
// It accepts a trailing delimiter or none,
// and drops empty elements.
func DecodeAnnouncement(payload []byte) []string {
	var addrs []string
	for _, addr := range strings.Split(string(payload), Delimiter) {
		addr = strings.TrimSpace(addr)
		if addr != "" {
			addrs = append(addrs, addr)
		}
	}
	return addrs
}

// Announcement is a decoded announcement together with where it came from.
type Announcement struct {
	From  string
	Addrs []string
}
