package proxy

import (
	"time"

	"go.uber.org/zap"

	"github.com/die-net/sshsocks/internal/transport"
)

type Config struct {
	// NegotiationTimeout bounds the SOCKS5 handshake. Zero means no limit.
	NegotiationTimeout time.Duration

	// PollInterval is how often a relay rechecks transport liveness.
	PollInterval time.Duration

	Transport transport.Transport

	Logger *zap.Logger

	// Stats, if set, receives per-connection counters.
	Stats *Stats
}
