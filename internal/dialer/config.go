package dialer

import (
	"net"
	"time"
)

// Config controls outbound TCP connections.
type Config struct {
	// DialTimeout bounds DNS lookup plus TCP connect. Zero means no timeout.
	DialTimeout time.Duration

	KeepAlive net.KeepAliveConfig
}
