package mux

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/die-net/sshsocks/internal/dialer"
	"github.com/die-net/sshsocks/internal/proxy"
	"github.com/die-net/sshsocks/internal/socks5"
)

// ServerConfig configures a Server.
type ServerConfig struct {
	Session SessionConfig

	// RequestTimeout bounds reading the CONNECT header of a new stream.
	// Zero means no limit.
	RequestTimeout time.Duration

	// Dialer reaches stream destinations. Nil uses a plain net.Dialer.
	Dialer dialer.Dialer

	Logger *zap.Logger
}

// Server is the endpoint side of Transport. It accepts carrier connections,
// runs a mux session on each and serves every stream by dialing the
// destination named in its CONNECT header.
type Server struct {
	cfg      ServerConfig
	listener net.Listener
	dialer   dialer.Dialer
	logger   *zap.Logger

	mu       sync.Mutex
	closed   bool
	sessions map[session]struct{}
	wg       sync.WaitGroup
}

// NewServer creates a mux endpoint listening on addr.
func NewServer(addr string, cfg ServerConfig) (*Server, error) {
	if err := cfg.Session.Validate(); err != nil {
		return nil, fmt.Errorf("mux server: %w", err)
	}

	lc := net.ListenConfig{}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("mux server listen: %w", err)
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
		cfg:      cfg,
		listener: ln,
		dialer:   d,
		logger:   logger,
		sessions: make(map[session]struct{}),
	}, nil
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts carriers until the server is closed.
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
			return fmt.Errorf("mux server accept: %w", err)
		}

		s.wg.Go(func() {
			s.handleCarrier(ctx, conn)
		})
	}
}

// Close stops accepting carriers, closes every session and waits for their
// handlers to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for sess := range s.sessions {
		_ = sess.Close()
	}
	s.mu.Unlock()

	err := s.listener.Close()
	s.wg.Wait()
	return err
}

func (s *Server) handleCarrier(ctx context.Context, conn net.Conn) {
	sess, err := newSession(conn, s.cfg.Session, true, s.logger)
	if err != nil {
		_ = conn.Close()
		s.logger.Debug("mux session failed", zap.Error(err))
		return
	}
	defer sess.Close()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess)
		s.mu.Unlock()
	}()

	stop := context.AfterFunc(ctx, func() {
		_ = sess.Close()
	})
	defer stop()

	s.logger.Debug("mux carrier connected", zap.Stringer("remote", conn.RemoteAddr()))

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		stream, err := sess.Accept()
		if err != nil {
			if !sess.IsClosed() && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("mux accept stream failed", zap.Error(err))
			}
			return
		}

		wg.Go(func() {
			s.handleStream(ctx, stream)
		})
	}
}

func (s *Server) handleStream(ctx context.Context, stream net.Conn) {
	defer stream.Close()

	if s.cfg.RequestTimeout > 0 {
		_ = stream.SetDeadline(time.Now().Add(s.cfg.RequestTimeout))
	}

	req, err := socks5.ReadRequest(stream)
	if err != nil {
		s.logger.Debug("mux stream header rejected", zap.Error(err))
		return
	}
	_ = stream.SetDeadline(time.Time{})

	dst, err := s.dialer.DialContext(ctx, "tcp", req.Address())
	if err != nil {
		s.logger.Debug("mux stream dial failed", zap.String("dst", req.Address()), zap.Error(err))
		_ = socks5.WriteConnectionRefusedReply(stream)
		return
	}

	if err := socks5.WriteSuccessReply(stream); err != nil {
		_ = dst.Close()
		return
	}

	_, _ = proxy.Relay(ctx, stream, dst, nil, 0)
}

// ListenAndServe creates a Server on addr and serves until ctx is canceled.
func ListenAndServe(ctx context.Context, addr string, cfg ServerConfig) error {
	srv, err := NewServer(addr, cfg)
	if err != nil {
		return err
	}

	context.AfterFunc(ctx, func() {
		_ = srv.Close()
	})

	srv.logger.Info("mux endpoint listening",
		zap.String("protocol", cfg.Session.Protocol),
		zap.Stringer("addr", srv.Addr()))
	return srv.Serve(ctx)
}
