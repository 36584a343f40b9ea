package transport

import (
	"context"
	"errors"
	"net"
	"strconv"
)

// ErrTransportDown is returned when a circuit is requested from a transport
// that has been closed.
var ErrTransportDown = errors.New("transport down")

// Transport opens virtual circuits to (host, port) destinations over a shared
// connection.
type Transport interface {
	// OpenCircuit opens one full-duplex byte stream to host:port. The
	// returned conn is owned by the caller, who must close it.
	OpenCircuit(ctx context.Context, host string, port uint16) (net.Conn, error)

	// Alive reports whether the shared transport is still usable. Circuits
	// opened on a transport that is no longer alive are invalid.
	Alive() bool

	// Close tears down the shared transport and every circuit on it.
	Close() error
}

// Address joins host and port into a dialable address.
func Address(host string, port uint16) string {
	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}
