package ssh

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// NewHostKeyCallback returns a host key callback backed by the known_hosts
// file at path. Empty path disables host key checking, which matches the
// auto-add policy of typical tunnel clients.
//
// Unknown hosts are appended on first use. A known host presenting a
// different key is rejected. The file and its directory are created if
// missing.
func NewHostKeyCallback(path string, logger *zap.Logger) (ssh.HostKeyCallback, error) {
	if path == "" {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // User explicitly disabled host key checking.
	}

	path, err := expandHome(path)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating known_hosts directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600) //nolint:gosec // Path is from user config.
	if err != nil {
		return nil, fmt.Errorf("creating known_hosts file: %w", err)
	}
	_ = f.Close()

	check, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("loading known_hosts: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	s := &hostKeyStore{path: path, check: check, logger: logger}
	return s.verify, nil
}

type hostKeyStore struct {
	path   string
	check  ssh.HostKeyCallback
	logger *zap.Logger

	mu sync.Mutex
	// added holds keys appended since check was loaded, which check cannot
	// see.
	added map[string][]byte
}

func (s *hostKeyStore) verify(hostname string, remote net.Addr, key ssh.PublicKey) error {
	err := s.check(hostname, remote, key)
	if err == nil {
		return nil
	}

	var keyErr *knownhosts.KeyError
	if !errors.As(err, &keyErr) {
		return err
	}

	// Want lists the keys on file for this host; any entry means the key
	// changed.
	if len(keyErr.Want) > 0 {
		return fmt.Errorf("host key mismatch for %s (possible MITM attack): %w", hostname, err)
	}

	return s.add(knownhosts.Normalize(hostname), key)
}

func (s *hostKeyStore) add(hostname string, key ssh.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.added[hostname]; ok {
		if bytes.Equal(prev, key.Marshal()) {
			return nil
		}
		return fmt.Errorf("host key mismatch for %s (possible MITM attack)", hostname)
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // Path is from user config.
	if err != nil {
		return fmt.Errorf("opening known_hosts for writing: %w", err)
	}
	defer f.Close()

	line := knownhosts.Line([]string{hostname}, key)
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("writing to known_hosts: %w", err)
	}
	if s.added == nil {
		s.added = make(map[string][]byte)
	}
	s.added[hostname] = key.Marshal()

	s.logger.Info("added ssh host key",
		zap.String("host", hostname),
		zap.String("fingerprint", ssh.FingerprintSHA256(key)),
		zap.String("file", s.path))
	return nil
}
