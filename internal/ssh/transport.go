package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/singleflight"

	"github.com/die-net/sshsocks/internal/dialer"
	"github.com/die-net/sshsocks/internal/transport"
)

// keepAliveRequest is the global request OpenSSH clients send for
// ServerAliveInterval. Servers answer it, usually with a failure reply, which
// is enough to prove the connection is alive.
const keepAliveRequest = "keepalive@openssh.com"

var errKeepAliveTimeout = errors.New("keepalive timeout")

// TransportConfig configures a Transport.
type TransportConfig struct {
	// Addr is the SSH server host:port.
	Addr string

	Client ClientConfig

	// KeepAliveInterval is how often a keepalive request is sent. Zero
	// disables keepalives; the transport then only goes down when the SSH
	// connection itself ends.
	KeepAliveInterval time.Duration

	// KeepAliveMaxFailures is how many consecutive unanswered keepalives
	// take the transport down.
	KeepAliveMaxFailures int
}

// Transport multiplexes circuits over one shared SSH connection, opening
// one "direct-tcpip" channel per circuit (the equivalent of ssh -D).
//
// Lifecycle notes:
//   - The SSH connection is created by Connect or lazily on the first
//     OpenCircuit.
//   - Each session has its own transport.Status. It goes down when the SSH
//     connection ends or keepalives fail, and the client is then closed,
//     which closes every channel on it.
//   - If opening a channel fails for a reason other than the server refusing
//     it, the session is discarded, and the open is retried once on a new
//     connection.
type Transport struct {
	cfg    TransportConfig
	dialer dialer.Dialer
	logger *zap.Logger

	mu      sync.Mutex
	session *session
	closed  bool
	sf      singleflight.Group
}

type session struct {
	client *ssh.Client
	status *transport.Status
}

var _ transport.Transport = (*Transport)(nil)

// NewTransport returns a Transport that reaches cfg.Addr through d.
func NewTransport(cfg TransportConfig, d dialer.Dialer, logger *zap.Logger) (*Transport, error) {
	if cfg.Addr == "" {
		return nil, errors.New("ssh transport: missing ssh address")
	}
	if err := cfg.Client.Validate(); err != nil {
		return nil, fmt.Errorf("ssh transport: %w", err)
	}
	if cfg.KeepAliveInterval > 0 && cfg.KeepAliveMaxFailures <= 0 {
		cfg.KeepAliveMaxFailures = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Transport{
		cfg:    cfg,
		dialer: d,
		logger: logger.With(zap.String("ssh", cfg.Addr)),
	}, nil
}

// Connect establishes the SSH connection if there is none.
func (t *Transport) Connect(ctx context.Context) error {
	_, err := t.getSession(ctx)
	return err
}

// Alive reports whether the current SSH connection is up.
func (t *Transport) Alive() bool {
	t.mu.Lock()
	s := t.session
	t.mu.Unlock()
	return s != nil && s.status.Alive()
}

// OpenCircuit opens a "direct-tcpip" channel to host:port.
//
// Canceling ctx closes the returned channel.
func (t *Transport) OpenCircuit(ctx context.Context, host string, port uint16) (net.Conn, error) {
	address := transport.Address(host, port)

	s, err := t.getSession(ctx)
	if err != nil {
		return nil, err
	}

	conn, err := s.client.DialContext(ctx, "tcp", address)
	if err != nil {
		// OpenChannelError means the SSH connection is healthy but the
		// server refused or could not reach the destination.
		var openErr *ssh.OpenChannelError
		if errors.As(err, &openErr) || ctx.Err() != nil {
			return nil, fmt.Errorf("ssh circuit %s: %w", address, err)
		}

		t.markDown(s, err)
		s, err2 := t.getSession(ctx)
		if err2 != nil {
			return nil, fmt.Errorf("ssh circuit %s: %w", address, err)
		}
		conn, err = s.client.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, fmt.Errorf("ssh circuit %s: %w", address, err)
		}
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	return &channelConn{Conn: conn, stop: stop}, nil
}

// Close closes the SSH connection. Later OpenCircuit calls fail with
// transport.ErrTransportDown.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	s := t.session
	t.mu.Unlock()

	if s != nil {
		t.markDown(s, nil)
	}
	return nil
}

// getSession returns the shared session, creating it if needed.
//
// Uses singleflight to ensure only one connection attempt occurs at a time.
// Callers can bail out early if their context is canceled, while the
// connection attempt continues for other waiters.
func (t *Transport) getSession(ctx context.Context) (*session, error) {
	t.mu.Lock()
	s, closed := t.session, t.closed
	t.mu.Unlock()
	if closed {
		return nil, transport.ErrTransportDown
	}
	if s != nil && s.status.Alive() {
		return s, nil
	}

	ch := t.sf.DoChan("connect", func() (any, error) {
		t.mu.Lock()
		if t.session != nil && t.session.status.Alive() {
			s := t.session
			t.mu.Unlock()
			return s, nil
		}
		t.mu.Unlock()

		// A background context lets the attempt finish for other waiters
		// even if the triggering caller gives up.
		s, err := t.dial(context.Background())
		if err != nil {
			return nil, err
		}

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			_ = s.client.Close()
			return nil, transport.ErrTransportDown
		}
		t.session = s
		t.mu.Unlock()

		go t.watch(s)
		t.logger.Info("ssh transport up")
		return s, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*session), nil
	}
}

// dial establishes a new SSH connection.
func (t *Transport) dial(ctx context.Context) (*session, error) {
	conn, err := t.dialer.DialContext(ctx, "tcp", t.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("ssh transport dial: %w", err)
	}

	// Close conn if ctx is canceled during handshake.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	client, err := NewClient(conn, t.cfg.Client, t.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("ssh transport: %w", err)
	}

	return &session{client: client, status: transport.NewStatus()}, nil
}

// watch takes s down when its connection ends or keepalives fail.
func (t *Transport) watch(s *session) {
	go func() {
		err := s.client.Wait()
		t.markDown(s, err)
	}()

	if t.cfg.KeepAliveInterval <= 0 {
		return
	}

	ticker := time.NewTicker(t.cfg.KeepAliveInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-s.status.Done():
			return
		case <-ticker.C:
		}

		if err := ping(s.client, t.cfg.KeepAliveInterval); err != nil {
			failures++
			t.logger.Warn("ssh keepalive failed",
				zap.Int("failures", failures),
				zap.Int("max", t.cfg.KeepAliveMaxFailures),
				zap.Error(err))
			if failures >= t.cfg.KeepAliveMaxFailures {
				t.markDown(s, fmt.Errorf("%d keepalives failed: %w", failures, err))
				return
			}
			continue
		}
		failures = 0
	}
}

// markDown takes s down, closes its client and forgets it. Only the first
// call for a session has any effect.
func (t *Transport) markDown(s *session, cause error) {
	if !s.status.Down() {
		return
	}

	t.mu.Lock()
	if t.session == s {
		t.session = nil
	}
	t.mu.Unlock()

	_ = s.client.Close()

	if cause != nil && !isClosedErr(cause) {
		t.logger.Warn("ssh transport down", zap.Error(cause))
	} else {
		t.logger.Info("ssh transport closed")
	}
}

func ping(client *ssh.Client, timeout time.Duration) error {
	errc := make(chan error, 1)
	go func() {
		_, _, err := client.SendRequest(keepAliveRequest, true, nil)
		errc <- err
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-errc:
		return err
	case <-timer.C:
		return errKeepAliveTimeout
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection")
}

// channelConn wraps a single "direct-tcpip" channel.
//
// Closing the conn stops the context cancellation hook and then closes the
// underlying channel.
type channelConn struct {
	net.Conn
	stop func() bool
}

// Close closes the underlying SSH channel.
func (c *channelConn) Close() error {
	if c.stop != nil {
		c.stop()
	}
	return c.Conn.Close()
}
