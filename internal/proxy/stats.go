package proxy

import (
	"context"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Stats counts relay activity. The zero value is ready to use and all
// methods are safe for concurrent use.
type Stats struct {
	Accepted        atomic.Int64
	Active          atomic.Int64
	Rejected        atomic.Int64
	CircuitFailures atomic.Int64
	BytesUp         atomic.Int64
	BytesDown       atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Accepted        int64
	Active          int64
	Rejected        int64
	CircuitFailures int64
	BytesUp         int64
	BytesDown       int64
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Accepted:        s.Accepted.Load(),
		Active:          s.Active.Load(),
		Rejected:        s.Rejected.Load(),
		CircuitFailures: s.CircuitFailures.Load(),
		BytesUp:         s.BytesUp.Load(),
		BytesDown:       s.BytesDown.Load(),
	}
}

// LogStats logs a snapshot every interval until ctx is done.
func (s *Stats) LogStats(ctx context.Context, logger *zap.Logger, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		snap := s.Snapshot()
		logger.Info("relay stats",
			zap.Int64("active", snap.Active),
			zap.Int64("accepted", snap.Accepted),
			zap.Int64("rejected", snap.Rejected),
			zap.Int64("circuit_failures", snap.CircuitFailures),
			zap.Int64("bytes_up", snap.BytesUp),
			zap.Int64("bytes_down", snap.BytesDown))
	}
}
