package discovery

import (
	"net"

	"github.com/pkg/errors"
)

// Addresser reports the addresses at which this host can be reached.
type Addresser interface {
	HostAddrs() ([]string, error)
}

// AddresserFunc adapts a function to the Addresser interface.
type AddresserFunc func() ([]string, error)

// HostAddrs implements Addresser.
func (f AddresserFunc) HostAddrs() ([]string, error) {
	return f()
}

// InterfaceAddrs is an Addresser that enumerates the host's network interfaces.
// Interfaces that are down, and loopback interfaces, are skipped.
type InterfaceAddrs struct {
	// IPv6 includes global IPv6 addresses in addition to IPv4 ones.
	IPv6 bool
}

var _ Addresser = InterfaceAddrs{}

// HostAddrs implements Addresser.
func (a InterfaceAddrs) HostAddrs() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, errors.Wrap(err, "listing network interfaces")
	}

	var result []string
	for _, ifi := range ifaces {
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := ifi.Addrs()
		if err != nil {
			return nil, errors.Wrapf(err, "listing addresses of %s", ifi.Name)
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ip4 := ipnet.IP.To4(); ip4 != nil {
				result = append(result, ip4.String())
				continue
			}
			if a.IPv6 && ipnet.IP.IsGlobalUnicast() {
				result = append(result, ipnet.IP.String())
			}
		}
	}
	return result, nil
}
