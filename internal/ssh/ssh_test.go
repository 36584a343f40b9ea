package ssh

import (
	"context"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/die-net/sshsocks/internal/dialer"
)

func mustGenerateKey(t *testing.T) ssh.Signer {
	t.Helper()

	key, err := GenerateHostKey()
	if err != nil {
		t.Fatal(err)
	}
	return key
}

// startServer runs an in-process endpoint accepting user/pass.
func startServer(ctx context.Context, t *testing.T) *Server {
	t.Helper()

	srv, err := NewServer("127.0.0.1:0", ServerConfig{
		PasswordCallback: SimplePasswordAuth("user", "pass"),
		HostKeys:         []ssh.Signer{mustGenerateKey(t)},
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = srv.Close() })

	go func() {
		_ = srv.Serve(ctx)
	}()
	return srv
}

func newTestTransport(t *testing.T, addr string, keepAlive time.Duration) *Transport {
	t.Helper()

	tr, err := NewTransport(TransportConfig{
		Addr: addr,
		Client: ClientConfig{
			Username:         "user",
			Password:         "pass",
			HostKeyCallback:  ssh.InsecureIgnoreHostKey(), //nolint:gosec // Test server has random host key.
			HandshakeTimeout: 2 * time.Second,
		},
		KeepAliveInterval:    keepAlive,
		KeepAliveMaxFailures: 2,
	}, dialer.NewDirectDialer(dialer.Config{DialTimeout: 2 * time.Second}), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
