package endpoint

import "net"

// SetInterfaceAddrs replaces the interface lister for the duration of a test.
func SetInterfaceAddrs(fn func() ([]net.Addr, error)) (restore func()) {
	prev := interfaceAddrs
	interfaceAddrs = fn
	return func() { interfaceAddrs = prev }
}
