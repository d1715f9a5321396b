package endpoint

import (
	"errors"
	"fmt"
	"net"
)

// Well-known defaults for cohort processes.
const (
	// DefaultCoordinatorPort is the port base of a coordinator when the
	// address it was given has none.
	DefaultCoordinatorPort uint16 = 20000

	// DefaultWorkerPort is the port a worker listens on when its bind
	// address has none.
	DefaultWorkerPort uint16 = 20100
)

// PortKind selects one of the fixed ports derived from a port base.
type PortKind uint16

const (
	// PortControl carries registration and job control traffic.
	PortControl PortKind = 0
	// PortWatchdog receives liveness probes.
	PortWatchdog PortKind = 1
	// PortDebug serves diagnostics.
	PortDebug PortKind = 2
)

// FixedPort returns the well-known port of kind relative to base.
func FixedPort(base uint16, kind PortKind) uint16 {
	return base + uint16(kind)
}

// ControlEndpoint returns the control endpoint of a process whose declared
// address is ep. The declared port is the process port base.
func ControlEndpoint(ep Endpoint) Endpoint {
	return ep.WithPort(FixedPort(ep.Port, PortControl))
}

// Identity is what a worker knows about itself before registration: the
// endpoint it listens on and a provisional ordinal. Ordinal 0 means the
// ordinal is unknown and will be assigned by the coordinator.
type Identity struct {
	Ordinal  int      `json:"ordinal"`
	Endpoint Endpoint `json:"endpoint"`
}

// String returns a log-friendly representation.
func (i Identity) String() string {
	if i.Ordinal == 0 {
		return i.Endpoint.String()
	}
	return fmt.Sprintf("%s#%d", i.Endpoint, i.Ordinal)
}

// ErrNoInterface is returned when no routable interface address exists.
var ErrNoInterface = errors.New("endpoint: no routable interface")

// interfaceAddrs is swapped in tests.
var interfaceAddrs = net.InterfaceAddrs

// Resolve replaces the "this machine" shorthands ("", "." and "localhost")
// with the first non-loopback IPv4 address of this host. Literal addresses
// are returned unchanged, loopback included.
func Resolve(ep Endpoint) (Endpoint, error) {
	switch ep.Host {
	case "", localHost, "localhost":
	default:
		return ep, nil
	}

	ip, err := primaryIP()
	if err != nil {
		return ep, err
	}
	ep.Host = ip.String()
	return ep, nil
}

func primaryIP() (net.IP, error) {
	addrs, err := interfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("endpoint: list interfaces: %w", err)
	}

	var fallback net.IP
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() || ipnet.IP.IsLinkLocalUnicast() {
			continue
		}
		if v4 := ipnet.IP.To4(); v4 != nil {
			return v4, nil
		}
		if fallback == nil {
			fallback = ipnet.IP
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, ErrNoInterface
}
