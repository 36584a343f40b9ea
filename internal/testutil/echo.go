package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"testing"
)

// StartEchoTCPServer starts a loopback server that echoes every accepted
// connection until the peer closes it. Closing the listener stops it.
func StartEchoTCPServer(t *testing.T, ctx context.Context) net.Listener {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				_, _ = io.Copy(c, c)
			}()
		}
	}()

	return ln
}

// AssertEcho writes msg to w and expects to read it back from r.
func AssertEcho(t *testing.T, w io.Writer, r io.Reader, msg []byte) {
	t.Helper()

	if err := CheckEcho(w, r, msg); err != nil {
		t.Fatal(err)
	}
}

// CheckEcho is AssertEcho for use off the test goroutine.
func CheckEcho(w io.Writer, r io.Reader, msg []byte) error {
	if _, err := w.Write(msg); err != nil {
		return err
	}
	buf := make([]byte, len(msg))
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	if !bytes.Equal(buf, msg) {
		return fmt.Errorf("expected %q got %q", string(msg), string(buf))
	}
	return nil
}

// SplitHostPort returns addr's host and numeric port.
func SplitHostPort(t *testing.T, addr net.Addr) (string, uint16) {
	t.Helper()

	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		t.Fatal(err)
	}
	return host, uint16(port)
}
