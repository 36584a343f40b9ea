package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// Auth method names accepted by Signers.
const (
	AuthPassword = "password"
	AuthKey      = "key"
	AuthAgent    = "agent"
)

// AgentAvailable returns true if the SSH agent socket is available.
func AgentAvailable() bool {
	return os.Getenv("SSH_AUTH_SOCK") != ""
}

// AgentSigners connects to the SSH agent and returns all available signers.
// Returns an error if the agent is not available or connection fails.
func AgentSigners() ([]ssh.Signer, error) {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, errors.New("SSH_AUTH_SOCK not set")
	}

	var d net.Dialer
	conn, err := d.DialContext(context.Background(), "unix", socket)
	if err != nil {
		return nil, fmt.Errorf("connecting to SSH agent: %w", err)
	}
	// The agent connection stays open for as long as the signers are in use.

	signers, err := agent.NewClient(conn).Signers()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("getting signers from SSH agent: %w", err)
	}

	if len(signers) == 0 {
		_ = conn.Close()
		return nil, errors.New("no keys available in SSH agent")
	}

	return signers, nil
}

// LoadPrivateKey reads and parses an OpenSSH or PEM private key file (RSA,
// Ed25519 or ECDSA). A leading "~/" is expanded to the home directory.
func LoadPrivateKey(path string) (ssh.Signer, error) {
	path, err := expandHome(path)
	if err != nil {
		return nil, err
	}

	keyData, err := os.ReadFile(path) //nolint:gosec // Path is from user config.
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("key file %s is passphrase protected; load it into ssh-agent and use --auth=agent", path)
		}
		return nil, fmt.Errorf("parsing key file: %w", err)
	}

	return signer, nil
}

// Signers returns the public key signers for an auth method:
//   - "agent": all keys held by the SSH agent
//   - "key": the private key file at keyPath
//   - "password": none
func Signers(method, keyPath string) ([]ssh.Signer, error) {
	switch method {
	case AuthPassword:
		return nil, nil
	case AuthAgent:
		return AgentSigners()
	case AuthKey:
		signer, err := LoadPrivateKey(keyPath)
		if err != nil {
			return nil, err
		}
		return []ssh.Signer{signer}, nil
	default:
		return nil, fmt.Errorf("unknown auth method %q", method)
	}
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expanding %s: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
