package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/die-net/sshsocks/internal/config"
	"github.com/die-net/sshsocks/internal/dialer"
	"github.com/die-net/sshsocks/internal/mux"
	"github.com/die-net/sshsocks/internal/ssh"
	"github.com/die-net/sshsocks/internal/testutil"
	"github.com/die-net/sshsocks/internal/transport"
)

type fakeConnector struct {
	*testutil.FakeTransport
	err error
}

func (f fakeConnector) Connect(context.Context) error {
	return f.err
}

func TestRunCheck(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Host = "example.com"

	var out bytes.Buffer
	tr := fakeConnector{FakeTransport: testutil.NewFakeTransport(0)}
	if err := runCheck(t.Context(), tr, &cfg, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "OK: connected to ssh://example.com:22") {
		t.Fatalf("unexpected output %q", out.String())
	}

	out.Reset()
	tr.err = errors.New("auth failed")
	if err := runCheck(t.Context(), tr, &cfg, &out); err == nil {
		t.Fatal("expected check failure")
	}
	if !strings.Contains(out.String(), "FAIL: ssh://example.com:22: auth failed") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestRunCheckDirect(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Transport = config.TransportDirect

	var out bytes.Buffer
	tr := transport.NewDirect(dialer.NewDirectDialer(dialer.Config{}))
	if err := runCheck(t.Context(), tr, &cfg, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "OK: direct") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestNewTransport(t *testing.T) {
	t.Parallel()

	d := dialer.NewDirectDialer(dialer.Config{DialTimeout: time.Second})

	cfg := config.Default()
	cfg.Transport = config.TransportYamux
	cfg.Host = "127.0.0.1"
	cfg.Port = 9000
	tr, err := newTransport(&cfg, d, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tr.(*mux.Transport); !ok {
		t.Fatalf("expected *mux.Transport, got %T", tr)
	}

	cfg = config.Default()
	cfg.Host = "127.0.0.1"
	cfg.User = "user"
	cfg.Password = "pass"
	cfg.KnownHosts = ""
	tr, err = newTransport(&cfg, d, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tr.(*ssh.Transport); !ok {
		t.Fatalf("expected *ssh.Transport, got %T", tr)
	}

	cfg.Transport = "carrier-pigeon"
	if _, err := newTransport(&cfg, d, zap.NewNop()); err == nil {
		t.Fatal("expected unknown transport error")
	}
}

func TestEndpointHostKey(t *testing.T) {
	t.Parallel()

	key, err := endpointHostKey("", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if key.PublicKey().Type() != "ssh-ed25519" {
		t.Fatalf("unexpected key type %s", key.PublicKey().Type())
	}
}
