package discovery

import (
	"context"
	"net"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"
)

// Listen joins the multicast group on every multicast-capable interface
// and calls handler for each announcement received on port,
// until ctx is canceled or handler returns an error.
// Cancellation is not an error.
func Listen(ctx context.Context, group string, port int, handler func(Announcement) error) error {
	ip := net.ParseIP(group)
	if ip == nil || !ip.IsMulticast() {
		return errors.Errorf("%s is not a multicast address", group)
	}

	conn, err := net.ListenPacket("udp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(port)))
	if err != nil {
		return errors.Wrapf(err, "listening on UDP port %d", port)
	}
	defer conn.Close()

	ifaces, err := net.Interfaces()
	if err != nil {
		return errors.Wrap(err, "listing network interfaces")
	}

	var (
		pc     = ipv4.NewPacketConn(conn)
		joined int
	)
	for i := range ifaces {
		ifi := &ifaces[i]
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagMulticast == 0 {
			continue
		}
		if err := pc.JoinGroup(ifi, &net.UDPAddr{IP: ip}); err == nil {
			joined++
		}
	}
	if joined == 0 {
		return errors.Errorf("could not join %s on any interface", group)
	}

	return serve(ctx, conn, handler)
}

// Discover waits for the first announcement and returns it.
func Discover(ctx context.Context, group string, port int) (Announcement, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		result Announcement
		found  bool
	)
	err := Listen(ctx, group, port, func(a Announcement) error {
		if len(a.Addrs) == 0 {
			return nil
		}
		result, found = a, true
		cancel()
		return nil
	})
	if err != nil {
		return Announcement{}, err
	}
	if !found {
		return Announcement{}, ctx.Err()
	}
	return result, nil
}

// Reads announcements from conn until ctx is canceled.
func serve(ctx context.Context, conn net.PacketConn, handler func(Announcement) error) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	buf := make([]byte, 64*1024)
	for {
		n, src, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "reading announcement")
		}
		a := Announcement{From: src.String(), Addrs: DecodeAnnouncement(buf[:n])}
		if err = handler(a); err != nil {
			return err
		}
	}
}
