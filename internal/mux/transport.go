package mux

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/die-net/sshsocks/internal/dialer"
	"github.com/die-net/sshsocks/internal/socks5"
	"github.com/die-net/sshsocks/internal/transport"
)

var errSessionClosed = errors.New("mux session closed")

// TransportConfig configures a Transport.
type TransportConfig struct {
	// Addr is the endpoint's carrier host:port.
	Addr string

	Session SessionConfig
}

// Transport opens circuits as streams of one shared mux session.
//
// Like the SSH transport, the session is created lazily, has its own
// transport.Status, and is replaced on the next OpenCircuit after it dies.
type Transport struct {
	cfg    TransportConfig
	dialer dialer.Dialer
	logger *zap.Logger

	mu     sync.Mutex
	sess   *muxSession
	closed bool
	sf     singleflight.Group
}

type muxSession struct {
	mux    session
	status *transport.Status
}

var _ transport.Transport = (*Transport)(nil)

func NewTransport(cfg TransportConfig, d dialer.Dialer, logger *zap.Logger) (*Transport, error) {
	if cfg.Addr == "" {
		return nil, errors.New("mux transport: missing endpoint address")
	}
	if err := cfg.Session.Validate(); err != nil {
		return nil, fmt.Errorf("mux transport: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Transport{
		cfg:    cfg,
		dialer: d,
		logger: logger.With(zap.String(cfg.Session.Protocol, cfg.Addr)),
	}, nil
}

// Connect establishes the carrier and session if there is none.
func (t *Transport) Connect(ctx context.Context) error {
	_, err := t.getSession(ctx)
	return err
}

func (t *Transport) Alive() bool {
	t.mu.Lock()
	s := t.sess
	t.mu.Unlock()
	return s != nil && s.status.Alive()
}

// OpenCircuit opens a stream and asks the endpoint to connect it to
// host:port. A refusal from the endpoint is returned as a
// *socks5.ReplyError and leaves the session up.
func (t *Transport) OpenCircuit(ctx context.Context, host string, port uint16) (net.Conn, error) {
	address := transport.Address(host, port)

	s, err := t.getSession(ctx)
	if err != nil {
		return nil, err
	}

	stream, err := s.mux.Open()
	if err != nil {
		// Opening a stream only fails when the session is broken.
		t.markDown(s, err)
		if s, err = t.getSession(ctx); err != nil {
			return nil, fmt.Errorf("mux circuit %s: %w", address, err)
		}
		if stream, err = s.mux.Open(); err != nil {
			return nil, fmt.Errorf("mux circuit %s: %w", address, err)
		}
	}

	stop := context.AfterFunc(ctx, func() {
		_ = stream.Close()
	})

	if err := socks5.ClientConnect(stream, host, port); err != nil {
		stop()
		_ = stream.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("mux circuit %s: %w", address, err)
	}

	return &streamConn{Conn: stream, stop: stop}, nil
}

// Close closes the session and carrier. Later OpenCircuit calls fail with
// transport.ErrTransportDown.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	s := t.sess
	t.mu.Unlock()

	if s != nil {
		t.markDown(s, nil)
	}
	return nil
}

func (t *Transport) getSession(ctx context.Context) (*muxSession, error) {
	t.mu.Lock()
	s, closed := t.sess, t.closed
	t.mu.Unlock()
	if closed {
		return nil, transport.ErrTransportDown
	}
	if s != nil && s.status.Alive() {
		return s, nil
	}

	ch := t.sf.DoChan("connect", func() (any, error) {
		t.mu.Lock()
		if t.sess != nil && t.sess.status.Alive() {
			s := t.sess
			t.mu.Unlock()
			return s, nil
		}
		t.mu.Unlock()

		s, err := t.dial(context.Background())
		if err != nil {
			return nil, err
		}

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			_ = s.mux.Close()
			return nil, transport.ErrTransportDown
		}
		t.sess = s
		t.mu.Unlock()

		go t.watch(s)
		t.logger.Info("mux transport up")
		return s, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*muxSession), nil
	}
}

func (t *Transport) dial(ctx context.Context) (*muxSession, error) {
	conn, err := t.dialer.DialContext(ctx, "tcp", t.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("mux transport dial: %w", err)
	}

	m, err := newSession(conn, t.cfg.Session, false, t.logger)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("mux transport: %w", err)
	}

	return &muxSession{mux: m, status: transport.NewStatus()}, nil
}

// watch takes s down once the mux session closes, which covers carrier
// errors and keepalive timeouts.
func (t *Transport) watch(s *muxSession) {
	select {
	case <-s.mux.CloseChan():
		t.markDown(s, errSessionClosed)
	case <-s.status.Done():
	}
}

func (t *Transport) markDown(s *muxSession, cause error) {
	if !s.status.Down() {
		return
	}

	t.mu.Lock()
	if t.sess == s {
		t.sess = nil
	}
	t.mu.Unlock()

	_ = s.mux.Close()

	if cause != nil {
		t.logger.Warn("mux transport down", zap.Error(cause))
	} else {
		t.logger.Info("mux transport closed")
	}
}

// streamConn is a circuit stream that stops its context hook on Close.
type streamConn struct {
	net.Conn
	stop func() bool
}

func (c *streamConn) Close() error {
	c.stop()
	return c.Conn.Close()
}
