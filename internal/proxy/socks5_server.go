package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/die-net/sshsocks/internal/socks5"
)

// DefaultPollInterval is used when Config.PollInterval is unset.
const DefaultPollInterval = time.Second

// SOCKS5Server is a CONNECT-only, no-auth SOCKS5 server that opens one
// circuit on Config.Transport per client.
type SOCKS5Server struct {
	cfg    Config
	logger *zap.Logger
	stats  *Stats
	wg     sync.WaitGroup
}

func NewSOCKS5Server(cfg Config) *SOCKS5Server {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	stats := cfg.Stats
	if stats == nil {
		stats = &Stats{}
	}
	return &SOCKS5Server{cfg: cfg, logger: logger, stats: stats}
}

// Stats returns the server's counters.
func (s *SOCKS5Server) Stats() *Stats {
	return s.stats
}

// Serve accepts clients on ln until ln fails. Each client is handled on its
// own goroutine and inherits ctx; canceling ctx ends every relay.
//
// Transient accept errors are logged and retried with backoff. Serve only
// returns when the listener itself is unusable, including after it has been
// closed.
func (s *SOCKS5Server) Serve(ctx context.Context, ln net.Listener) error {
	var delay time.Duration
	for {
		c, err := ln.Accept()
		if err != nil {
			if !isTemporaryAccept(err) {
				return fmt.Errorf("accept: %w", err)
			}

			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay = min(2*delay, time.Second)
			}
			s.logger.Warn("socks5 accept failed; retrying", zap.Duration("delay", delay), zap.Error(err))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		delay = 0

		s.wg.Go(func() {
			s.handleConn(ctx, c)
		})
	}
}

// Wait blocks until every client handler has returned.
func (s *SOCKS5Server) Wait() {
	s.wg.Wait()
}

func (s *SOCKS5Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	s.stats.Accepted.Inc()
	s.stats.Active.Inc()
	defer s.stats.Active.Dec()

	logger := s.logger.With(zap.Stringer("client", conn.RemoteAddr()))

	if s.cfg.NegotiationTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.cfg.NegotiationTimeout))
	}

	req, err := negotiate(conn)
	if err != nil {
		// Malformed or unsupported requests are closed without a reply.
		s.stats.Rejected.Inc()
		logger.Debug("socks5 handshake rejected", zap.Error(err))
		return
	}
	_ = conn.SetDeadline(time.Time{})

	circuit, err := s.cfg.Transport.OpenCircuit(ctx, req.Host, req.Port)
	if err != nil {
		s.stats.CircuitFailures.Inc()
		logger.Debug("circuit open failed", zap.String("dst", req.Address()), zap.Error(err))
		_ = socks5.WriteConnectionRefusedReply(conn)
		return
	}

	if err := socks5.WriteSuccessReply(conn); err != nil {
		_ = circuit.Close()
		logger.Debug("socks5 reply failed", zap.Error(err))
		return
	}

	res, err := Relay(ctx, conn, circuit, s.cfg.Transport.Alive, s.cfg.PollInterval)
	s.stats.BytesUp.Add(res.Up)
	s.stats.BytesDown.Add(res.Down)

	if ce := logger.Check(zap.DebugLevel, "relay finished"); ce != nil {
		ce.Write(
			zap.String("dst", req.Address()),
			zap.Int64("up", res.Up),
			zap.Int64("down", res.Down),
			zap.Error(err),
		)
	}
}

// negotiate runs the greeting and request exchange and returns the
// requested destination.
func negotiate(conn net.Conn) (*socks5.Request, error) {
	if _, err := socks5.ReadGreeting(conn); err != nil {
		return nil, err
	}
	if err := socks5.WriteNoAuthReply(conn); err != nil {
		return nil, err
	}
	return socks5.ReadRequest(conn)
}

// isTemporaryAccept reports whether an accept error leaves the listening
// socket usable.
func isTemporaryAccept(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return false
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.ENOBUFS) ||
		errors.Is(err, syscall.ENOMEM)
}
