// Package endpoint resolves the network identity of a cohort process: the
// host and port it listens on, the well-known ports derived from a port
// base, and the provisional ordinal a worker announces when it registers.
package endpoint

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ErrInvalidEndpoint is returned when an address cannot be parsed.
var ErrInvalidEndpoint = errors.New("endpoint: invalid endpoint")

// localHost is the shorthand accepted for "this machine", as in ".:20100".
const localHost = "."

// Endpoint is a host and port pair.
type Endpoint struct {
	Host string `json:"host"`
	Port uint16 `json:"port"`
}

// New returns an endpoint for host and port.
func New(host string, port uint16) Endpoint {
	return Endpoint{Host: host, Port: port}
}

// Parse parses "host:port", "host" or ".:port". A missing port leaves
// Port at zero.
func Parse(s string) (Endpoint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Endpoint{}, fmt.Errorf("%w: empty address", ErrInvalidEndpoint)
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		// No port component.
		if strings.Contains(err.Error(), "missing port") {
			return Endpoint{Host: strings.Trim(s, "[]")}, nil
		}
		return Endpoint{}, fmt.Errorf("%w: %q: %v", ErrInvalidEndpoint, s, err)
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %q: bad port", ErrInvalidEndpoint, s)
	}
	return Endpoint{Host: host, Port: uint16(port)}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Endpoint {
	ep, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return ep
}

// String returns the endpoint in "host:port" form.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(int(e.Port)))
}

// IsZero reports whether the endpoint has neither host nor port.
func (e Endpoint) IsZero() bool {
	return e.Host == "" && e.Port == 0
}

// IsLocal reports whether the host refers to this machine without naming
// a routable interface.
func (e Endpoint) IsLocal() bool {
	switch e.Host {
	case "", localHost, "localhost":
		return true
	}
	ip := net.ParseIP(e.Host)
	return ip != nil && (ip.IsLoopback() || ip.IsUnspecified())
}

// WithPort returns a copy of e with the port replaced.
func (e Endpoint) WithPort(port uint16) Endpoint {
	e.Port = port
	return e
}

// Equal reports whether two endpoints name the same host and port.
// Hosts are compared as IP addresses when both parse as one.
func (e Endpoint) Equal(o Endpoint) bool {
	if e.Port != o.Port {
		return false
	}
	a, b := net.ParseIP(e.Host), net.ParseIP(o.Host)
	if a != nil && b != nil {
		return a.Equal(b)
	}
	return strings.EqualFold(e.Host, o.Host)
}

// MarshalText implements encoding.TextMarshaler.
func (e Endpoint) MarshalText() ([]byte, error) {
	if e.IsZero() {
		return []byte{}, nil
	}
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *Endpoint) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*e = Endpoint{}
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
