package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/die-net/sshsocks/internal/dialer"
	"github.com/die-net/sshsocks/internal/proxy"
)

// Server is an SSH endpoint that serves "direct-tcpip" channels by dialing
// the requested destination and relaying bytes.
//
// It is the remote side of Transport, for deployments without an OpenSSH
// server and for tests.
type Server struct {
	config   *ssh.ServerConfig
	listener net.Listener
	dialer   dialer.Dialer
	logger   *zap.Logger

	mu       sync.Mutex
	closed   bool
	wg       sync.WaitGroup
	shutdown chan struct{}
}

// ServerConfig holds configuration for the SSH server.
type ServerConfig struct {
	// HostKeys are the server's private host key(s). At least one is required.
	HostKeys []ssh.Signer

	// PasswordCallback authenticates users by password. At least one of
	// PasswordCallback or PublicKeyCallback must be set.
	PasswordCallback func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error)

	// PublicKeyCallback authenticates users by public key.
	PublicKeyCallback func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error)

	// Dialer reaches channel destinations. Nil uses a plain net.Dialer.
	Dialer dialer.Dialer

	Logger *zap.Logger
}

// directTCPIPPayload is the payload for direct-tcpip channel requests
// (RFC 4254 section 7.2).
type directTCPIPPayload struct {
	Host       string
	Port       uint32
	OriginHost string
	OriginPort uint32
}

// NewServer creates an SSH endpoint listening on addr.
func NewServer(addr string, cfg ServerConfig) (*Server, error) {
	if cfg.PasswordCallback == nil && cfg.PublicKeyCallback == nil {
		return nil, errors.New("ssh server: at least one auth callback required")
	}
	if len(cfg.HostKeys) == 0 {
		return nil, errors.New("ssh server: at least one host key required")
	}

	sshConfig := &ssh.ServerConfig{
		PasswordCallback:  cfg.PasswordCallback,
		PublicKeyCallback: cfg.PublicKeyCallback,
	}
	for _, key := range cfg.HostKeys {
		sshConfig.AddHostKey(key)
	}

	lc := net.ListenConfig{}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ssh server listen: %w", err)
	}

	d := cfg.Dialer
	if d == nil {
		d = &net.Dialer{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Server{
		config:   sshConfig,
		listener: ln,
		dialer:   d,
		logger:   logger,
		shutdown: make(chan struct{}),
	}, nil
}

// Addr returns the server's listen address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts and handles SSH connections until the server is closed.
func (s *Server) Serve(ctx context.Context) error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return fmt.Errorf("ssh server accept: %w", err)
		}

		s.wg.Go(func() {
			s.handleConn(ctx, conn)
		})
	}
}

// Close stops accepting new connections, drops existing ones and waits for
// their handlers to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.shutdown)
	s.mu.Unlock()

	err := s.listener.Close()
	s.wg.Wait()
	return err
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		s.logger.Debug("ssh handshake failed", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
		return
	}
	defer sshConn.Close()

	s.logger.Debug("ssh client connected", zap.String("user", sshConn.User()), zap.Stringer("remote", sshConn.RemoteAddr()))

	// Keepalives and other global requests get a failure reply.
	go ssh.DiscardRequests(reqs)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	context.AfterFunc(ctx, func() {
		_ = sshConn.Close()
	})
	go func() {
		select {
		case <-ctx.Done():
		case <-s.shutdown:
			cancel()
		}
	}()

	var wg sync.WaitGroup
	for newChan := range chans {
		if newChan.ChannelType() != "direct-tcpip" {
			_ = newChan.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}

		wg.Go(func() {
			s.handleDirectTCPIP(ctx, newChan)
		})
	}
	wg.Wait()
}

func (s *Server) handleDirectTCPIP(ctx context.Context, newChan ssh.NewChannel) {
	var payload directTCPIPPayload
	if err := ssh.Unmarshal(newChan.ExtraData(), &payload); err != nil {
		_ = newChan.Reject(ssh.Prohibited, "invalid direct-tcpip payload")
		return
	}

	addr := net.JoinHostPort(payload.Host, fmt.Sprint(payload.Port))
	dst, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		s.logger.Debug("ssh channel dial failed", zap.String("dst", addr), zap.Error(err))
		_ = newChan.Reject(ssh.ConnectionFailed, fmt.Sprintf("dial %s: %v", addr, err))
		return
	}

	ch, reqs, err := newChan.Accept()
	if err != nil {
		_ = dst.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	_, _ = proxy.Relay(ctx, ch, dst, nil, 0)
}

// GenerateHostKey returns a fresh Ed25519 host key.
func GenerateHostKey() (ssh.Signer, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return ssh.NewSignerFromKey(key)
}

// SimplePasswordAuth returns a PasswordCallback that authenticates against
// a single username/password pair.
func SimplePasswordAuth(username, password string) func(ssh.ConnMetadata, []byte) (*ssh.Permissions, error) {
	return func(conn ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
		if conn.User() != username || string(pass) != password {
			return nil, errors.New("invalid credentials")
		}
		return &ssh.Permissions{}, nil
	}
}

// ListenAndServe is a convenience function that creates a server and starts serving.
//
// It blocks until ctx is canceled or an error occurs.
func ListenAndServe(ctx context.Context, addr string, cfg ServerConfig) error {
	srv, err := NewServer(addr, cfg)
	if err != nil {
		return err
	}

	context.AfterFunc(ctx, func() {
		_ = srv.Close()
	})

	srv.logger.Info("ssh endpoint listening", zap.Stringer("addr", srv.Addr()))
	return srv.Serve(ctx)
}
