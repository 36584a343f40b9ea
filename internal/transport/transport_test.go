package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/die-net/sshsocks/internal/dialer"
	"github.com/die-net/sshsocks/internal/testutil"
)

func TestStatus(t *testing.T) {
	t.Parallel()

	s := NewStatus()
	if !s.Alive() {
		t.Fatal("new status should be alive")
	}

	select {
	case <-s.Done():
		t.Fatal("done closed before Down")
	default:
	}

	if !s.Down() {
		t.Fatal("first Down should report a change")
	}
	if s.Down() {
		t.Fatal("second Down should not report a change")
	}
	if s.Alive() {
		t.Fatal("status should be down")
	}

	select {
	case <-s.Done():
	default:
		t.Fatal("done not closed after Down")
	}

	var nilStatus *Status
	if nilStatus.Alive() {
		t.Fatal("nil status should not be alive")
	}
}

func TestAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		host string
		port uint16
		want string
	}{
		{host: "example.com", port: 80, want: "example.com:80"},
		{host: "10.0.0.1", port: 65535, want: "10.0.0.1:65535"},
		{host: "::1", port: 22, want: "[::1]:22"},
	}

	for _, tt := range tests {
		if got := Address(tt.host, tt.port); got != tt.want {
			t.Errorf("Address(%q, %d) = %q, want %q", tt.host, tt.port, got, tt.want)
		}
	}
}

func TestDirect(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	defer echoLn.Close()

	host, port := testutil.SplitHostPort(t, echoLn.Addr())

	tr := NewDirect(dialer.NewDirectDialer(dialer.Config{DialTimeout: 2 * time.Second}))
	if !tr.Alive() {
		t.Fatal("direct transport should start alive")
	}

	c, err := tr.OpenCircuit(ctx, host, port)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	testutil.AssertEcho(t, c, c, []byte("hello"))

	_ = tr.Close()
	if tr.Alive() {
		t.Fatal("closed transport should not be alive")
	}
	if _, err := tr.OpenCircuit(ctx, host, port); !errors.Is(err, ErrTransportDown) {
		t.Fatalf("expected ErrTransportDown, got %v", err)
	}
}
