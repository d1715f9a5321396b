package endpoint_test

import (
	"errors"
	"net"
	"testing"

	"github.com/xraph/cohort/endpoint"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want endpoint.Endpoint
	}{
		{"10.0.0.5:20100", endpoint.New("10.0.0.5", 20100)},
		{"10.0.0.5", endpoint.New("10.0.0.5", 0)},
		{".:20100", endpoint.New(".", 20100)},
		{"node-a.internal:7000", endpoint.New("node-a.internal", 7000)},
		{"[::1]:9000", endpoint.New("::1", 9000)},
		{" 10.0.0.2:1 ", endpoint.New("10.0.0.2", 1)},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := endpoint.Parse(tt.in)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "10.0.0.5:notaport", "10.0.0.5:70000"} {
		if _, err := endpoint.Parse(in); !errors.Is(err, endpoint.ErrInvalidEndpoint) {
			t.Errorf("Parse(%q) error = %v, want ErrInvalidEndpoint", in, err)
		}
	}
}

func TestEqual(t *testing.T) {
	t.Parallel()

	a := endpoint.New("10.0.0.5", 20100)
	if !a.Equal(endpoint.MustParse("10.0.0.5:20100")) {
		t.Error("identical endpoints not equal")
	}
	if a.Equal(a.WithPort(20101)) {
		t.Error("endpoints with different ports reported equal")
	}
	if !endpoint.New("::ffff:10.0.0.5", 1).Equal(endpoint.New("10.0.0.5", 1)) {
		t.Error("IPv4-mapped address not equal to IPv4 form")
	}
	if !endpoint.New("Node-A", 1).Equal(endpoint.New("node-a", 1)) {
		t.Error("host names should compare case-insensitively")
	}
}

func TestControlEndpoint(t *testing.T) {
	t.Parallel()

	coord := endpoint.New("10.0.0.1", 20000)
	got := endpoint.ControlEndpoint(coord)
	if got.Port != endpoint.FixedPort(20000, endpoint.PortControl) {
		t.Errorf("ControlEndpoint port = %d, want %d", got.Port, endpoint.FixedPort(20000, endpoint.PortControl))
	}
	if got.Host != coord.Host {
		t.Errorf("ControlEndpoint host = %q, want %q", got.Host, coord.Host)
	}
	if endpoint.FixedPort(20000, endpoint.PortDebug) != 20002 {
		t.Errorf("FixedPort(20000, PortDebug) = %d, want 20002", endpoint.FixedPort(20000, endpoint.PortDebug))
	}
}

func TestIdentityString(t *testing.T) {
	t.Parallel()

	ep := endpoint.New("10.0.0.5", 20100)
	if got := (endpoint.Identity{Endpoint: ep}).String(); got != "10.0.0.5:20100" {
		t.Errorf("String() = %q, want %q", got, "10.0.0.5:20100")
	}
	if got := (endpoint.Identity{Ordinal: 3, Endpoint: ep}).String(); got != "10.0.0.5:20100#3" {
		t.Errorf("String() = %q, want %q", got, "10.0.0.5:20100#3")
	}
}

func TestTextRoundTrip(t *testing.T) {
	t.Parallel()

	ep := endpoint.New("10.0.0.9", 20100)
	data, err := ep.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	var got endpoint.Endpoint
	if err := got.UnmarshalText(data); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if got != ep {
		t.Errorf("round trip = %+v, want %+v", got, ep)
	}
}

func TestResolve(t *testing.T) {
	restore := endpoint.SetInterfaceAddrs(func() ([]net.Addr, error) {
		return []net.Addr{
			&net.IPNet{IP: net.ParseIP("127.0.0.1"), Mask: net.CIDRMask(8, 32)},
			&net.IPNet{IP: net.ParseIP("fe80::1"), Mask: net.CIDRMask(64, 128)},
			&net.IPNet{IP: net.ParseIP("192.168.4.20"), Mask: net.CIDRMask(24, 32)},
		}, nil
	})
	defer restore()

	tests := []struct {
		in   endpoint.Endpoint
		want endpoint.Endpoint
	}{
		{endpoint.New(".", 20100), endpoint.New("192.168.4.20", 20100)},
		{endpoint.New("", 0), endpoint.New("192.168.4.20", 0)},
		{endpoint.New("localhost", 20000), endpoint.New("192.168.4.20", 20000)},
		{endpoint.New("127.0.0.1", 20000), endpoint.New("127.0.0.1", 20000)},
		{endpoint.New("10.0.0.5", 20100), endpoint.New("10.0.0.5", 20100)},
	}
	for _, tt := range tests {
		got, err := endpoint.Resolve(tt.in)
		if err != nil {
			t.Fatalf("Resolve(%v): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("Resolve(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestResolveNoInterface(t *testing.T) {
	restore := endpoint.SetInterfaceAddrs(func() ([]net.Addr, error) {
		return []net.Addr{&net.IPNet{IP: net.ParseIP("127.0.0.1"), Mask: net.CIDRMask(8, 32)}}, nil
	})
	defer restore()

	if _, err := endpoint.Resolve(endpoint.New(".", 1)); !errors.Is(err, endpoint.ErrNoInterface) {
		t.Errorf("Resolve error = %v, want ErrNoInterface", err)
	}
}
