package discovery

import (
	"net"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"

	"github.com/bobg/studentsync"
)

// Sender transmits announcement payloads.
type Sender interface {
	Send([]byte) error
	Close() error
}

// MulticastSender is a Sender writing UDP datagrams to a multicast group.
type MulticastSender struct {
	conn net.PacketConn
	pc   *ipv4.PacketConn
	dst  *net.UDPAddr
}

var _ Sender = &MulticastSender{}

// NewMulticastSender opens a UDP socket for sending to group:port.
// Datagrams go no more than ttl hops
// and are looped back to listeners on this host.
func NewMulticastSender(group string, port, ttl int) (*MulticastSender, error) {
	ip := net.ParseIP(group)
	if ip == nil || !ip.IsMulticast() {
		return nil, errors.Errorf("%s is not a multicast address", group)
	}

	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, errors.Wrap(err, "opening UDP socket")
	}

	pc := ipv4.NewPacketConn(conn)
	if err = pc.SetMulticastTTL(ttl); err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "setting multicast TTL to %d", ttl)
	}
	if err = pc.SetMulticastLoopback(true); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "enabling multicast loopback")
	}

	return &MulticastSender{
		conn: conn,
		pc:   pc,
		dst:  &net.UDPAddr{IP: ip, Port: port},
	}, nil
}

// Send implements Sender.
// Errors wrap studentsync.ErrTransport.
func (s *MulticastSender) Send(payload []byte) error {
	_, err := s.pc.WriteTo(payload, nil, s.dst)
	if err != nil {
		return errors.Wrapf(studentsync.ErrTransport, "sending to %s: %s", s.dst, err)
	}
	return nil
}

// Close implements Sender.
func (s *MulticastSender) Close() error {
	return s.conn.Close()
}
