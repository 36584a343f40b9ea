package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/die-net/sshsocks/internal/dialer"
)

// Direct is a Transport whose circuits are plain outbound TCP connections.
//
// It has no shared connection, so it stays alive until Close.
type Direct struct {
	dialer dialer.Dialer
	status *Status
}

// NewDirect returns a Direct transport dialing through d.
func NewDirect(d dialer.Dialer) *Direct {
	return &Direct{dialer: d, status: NewStatus()}
}

func (t *Direct) OpenCircuit(ctx context.Context, host string, port uint16) (net.Conn, error) {
	if !t.status.Alive() {
		return nil, ErrTransportDown
	}
	conn, err := t.dialer.DialContext(ctx, "tcp", Address(host, port))
	if err != nil {
		return nil, fmt.Errorf("direct circuit: %w", err)
	}
	return conn, nil
}

func (t *Direct) Alive() bool {
	return t.status.Alive()
}

func (t *Direct) Close() error {
	t.status.Down()
	return nil
}
