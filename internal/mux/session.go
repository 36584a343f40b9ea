package mux

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/yamux"
	"github.com/xtaci/smux"
	"go.uber.org/zap"
)

const (
	ProtocolYamux = "yamux"
	ProtocolSmux  = "smux"
)

// SessionConfig selects and tunes the multiplexer. Both ends must agree on
// Protocol.
type SessionConfig struct {
	Protocol string

	// KeepAliveInterval is how often the session pings its peer. Zero
	// disables keepalives.
	KeepAliveInterval time.Duration

	// KeepAliveMaxFailures is how many intervals may pass without an answer
	// before the session is closed.
	KeepAliveMaxFailures int
}

func (c SessionConfig) Validate() error {
	switch c.Protocol {
	case ProtocolYamux, ProtocolSmux:
		return nil
	default:
		return fmt.Errorf("unknown mux protocol %q", c.Protocol)
	}
}

// session is the part of *yamux.Session and *smux.Session used here.
type session interface {
	Open() (net.Conn, error)
	Accept() (net.Conn, error)
	CloseChan() <-chan struct{}
	IsClosed() bool
	Close() error
}

func newSession(conn net.Conn, cfg SessionConfig, server bool, logger *zap.Logger) (session, error) {
	switch cfg.Protocol {
	case ProtocolYamux:
		ycfg := yamuxConfig(cfg, logger)
		var (
			s   *yamux.Session
			err error
		)
		if server {
			s, err = yamux.Server(conn, ycfg)
		} else {
			s, err = yamux.Client(conn, ycfg)
		}
		if err != nil {
			return nil, err
		}
		return s, nil
	case ProtocolSmux:
		scfg := smuxConfig(cfg)
		wc := &watchedConn{Conn: conn, dead: make(chan struct{})}
		var (
			s   *smux.Session
			err error
		)
		if server {
			s, err = smux.Server(wc, scfg)
		} else {
			s, err = smux.Client(wc, scfg)
		}
		if err != nil {
			return nil, err
		}
		return &smuxSession{Session: s, dead: wc.dead, done: make(chan struct{})}, nil
	default:
		return nil, fmt.Errorf("unknown mux protocol %q", cfg.Protocol)
	}
}

func yamuxConfig(cfg SessionConfig, logger *zap.Logger) *yamux.Config {
	ycfg := yamux.DefaultConfig()

	if logger == nil {
		logger = zap.NewNop()
	}
	// yamux refuses a config with both LogOutput and Logger set.
	ycfg.LogOutput = nil
	ycfg.Logger = zap.NewStdLog(logger.Named("yamux"))

	if cfg.KeepAliveInterval > 0 {
		ycfg.EnableKeepAlive = true
		ycfg.KeepAliveInterval = cfg.KeepAliveInterval
		// A ping that is not answered within this long closes the session.
		ycfg.ConnectionWriteTimeout = cfg.KeepAliveInterval * time.Duration(max(cfg.KeepAliveMaxFailures, 1))
	} else {
		ycfg.EnableKeepAlive = false
	}
	return ycfg
}

func smuxConfig(cfg SessionConfig) *smux.Config {
	scfg := smux.DefaultConfig()

	if cfg.KeepAliveInterval > 0 {
		scfg.KeepAliveInterval = cfg.KeepAliveInterval
		scfg.KeepAliveTimeout = cfg.KeepAliveInterval * time.Duration(max(cfg.KeepAliveMaxFailures, 1)+1)
	} else {
		scfg.KeepAliveDisabled = true
	}
	return scfg
}

// smuxClosePoll is how often an smuxSession checks IsClosed once someone
// waits on CloseChan.
const smuxClosePoll = 100 * time.Millisecond

// smuxSession adapts *smux.Session to return net.Conn streams. smux has no
// close notification and leaves the session open after a carrier read error,
// so CloseChan watches both the carrier and IsClosed.
type smuxSession struct {
	*smux.Session

	dead <-chan struct{}
	once sync.Once
	done chan struct{}
}

func (s *smuxSession) Open() (net.Conn, error) {
	st, err := s.OpenStream()
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (s *smuxSession) Accept() (net.Conn, error) {
	st, err := s.AcceptStream()
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (s *smuxSession) CloseChan() <-chan struct{} {
	s.once.Do(func() { go s.watch() })
	return s.done
}

func (s *smuxSession) watch() {
	defer close(s.done)

	ticker := time.NewTicker(smuxClosePoll)
	defer ticker.Stop()

	for {
		select {
		case <-s.dead:
			_ = s.Close()
			return
		case <-ticker.C:
			if s.IsClosed() {
				return
			}
		}
	}
}

// watchedConn closes dead on the first read error from the carrier.
type watchedConn struct {
	net.Conn

	once sync.Once
	dead chan struct{}
}

func (c *watchedConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if err != nil {
		c.once.Do(func() { close(c.dead) })
	}
	return n, err
}
