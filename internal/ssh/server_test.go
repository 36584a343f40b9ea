package ssh

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/ssh"
)

func TestNewServerValidation(t *testing.T) {
	t.Parallel()

	hostKey := mustGenerateKey(t)

	tests := []struct {
		name    string
		config  ServerConfig
		wantErr string
	}{
		{
			name:    "missing auth callback",
			config:  ServerConfig{HostKeys: []ssh.Signer{hostKey}},
			wantErr: "at least one auth callback required",
		},
		{
			name:    "missing host key",
			config:  ServerConfig{PasswordCallback: SimplePasswordAuth("u", "p")},
			wantErr: "at least one host key required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewServer("127.0.0.1:0", tt.config)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestGenerateHostKey(t *testing.T) {
	t.Parallel()

	a := mustGenerateKey(t)
	b := mustGenerateKey(t)

	if got := a.PublicKey().Type(); got != ssh.KeyAlgoED25519 {
		t.Fatalf("key type %q, want %q", got, ssh.KeyAlgoED25519)
	}
	if bytes.Equal(a.PublicKey().Marshal(), b.PublicKey().Marshal()) {
		t.Fatal("two generated host keys are identical")
	}
}

func TestServerRejectsOtherChannelTypes(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	srv, err := NewServer("127.0.0.1:0", ServerConfig{
		PasswordCallback: SimplePasswordAuth("user", "pass"),
		HostKeys:         []ssh.Signer{mustGenerateKey(t)},
		Logger:           zap.New(core),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	go func() { _ = srv.Serve(t.Context()) }()

	client, err := ssh.Dial("tcp", srv.Addr().String(), &ssh.ClientConfig{
		User:            "user",
		Auth:            []ssh.AuthMethod{ssh.Password("pass")},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	_, err = client.NewSession()
	var openErr *ssh.OpenChannelError
	if !errors.As(err, &openErr) || openErr.Reason != ssh.UnknownChannelType {
		t.Fatalf("expected UnknownChannelType rejection, got %v", err)
	}

	if logs.FilterMessage("ssh client connected").FilterField(zap.String("user", "user")).Len() != 1 {
		t.Errorf("missing connect log, got %v", logs.All())
	}
}

func TestServerLogsFailedHandshake(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	srv, err := NewServer("127.0.0.1:0", ServerConfig{
		PasswordCallback: SimplePasswordAuth("user", "pass"),
		HostKeys:         []ssh.Signer{mustGenerateKey(t)},
		Logger:           zap.New(core),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	go func() { _ = srv.Serve(t.Context()) }()

	_, err = ssh.Dial("tcp", srv.Addr().String(), &ssh.ClientConfig{
		User:            "user",
		Auth:            []ssh.AuthMethod{ssh.Password("wrong")},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
	if err == nil {
		t.Fatal("expected auth failure")
	}

	waitFor(t, 5*time.Second, func() bool {
		return logs.FilterMessage("ssh handshake failed").Len() == 1
	})
}

func TestListenAndServe(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		errc <- ListenAndServe(ctx, "127.0.0.1:0", ServerConfig{
			PasswordCallback: SimplePasswordAuth("user", "pass"),
			HostKeys:         []ssh.Signer{mustGenerateKey(t)},
			Logger:           zap.New(core),
		})
	}()

	waitFor(t, 5*time.Second, func() bool {
		return logs.FilterMessage("ssh endpoint listening").Len() == 1
	})
	addr, _ := logs.FilterMessage("ssh endpoint listening").All()[0].ContextMap()["addr"].(string)

	client, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            "user",
		Auth:            []ssh.AuthMethod{ssh.Password("pass")},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
	if err != nil {
		t.Fatalf("dial logged address %q: %v", addr, err)
	}
	_ = client.Close()

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("ListenAndServe returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ListenAndServe did not return after cancel")
	}
}
