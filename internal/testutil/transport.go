package testutil

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"

	"go.uber.org/atomic"
)

// ErrRefused is returned by FakeTransport.OpenCircuit when Refuse is set.
var ErrRefused = errors.New("fake transport: circuit refused")

// FakeTransport is an in-memory transport. Each circuit is one end of a
// net.Pipe; the other end is delivered on Remotes.
type FakeTransport struct {
	Remotes chan *FakeCircuit

	refuse atomic.Bool
	alive  atomic.Bool

	mu     sync.Mutex
	opened []string
}

// FakeCircuit is the remote side of a circuit opened on a FakeTransport.
type FakeCircuit struct {
	net.Conn
	Host string
	Port uint16
}

// NewFakeTransport returns an alive transport with room for n undelivered
// remote ends.
func NewFakeTransport(n int) *FakeTransport {
	f := &FakeTransport{Remotes: make(chan *FakeCircuit, n)}
	f.alive.Store(true)
	return f
}

func (f *FakeTransport) OpenCircuit(ctx context.Context, host string, port uint16) (net.Conn, error) {
	f.mu.Lock()
	f.opened = append(f.opened, net.JoinHostPort(host, strconv.Itoa(int(port))))
	f.mu.Unlock()

	if f.refuse.Load() {
		return nil, ErrRefused
	}

	local, remote := net.Pipe()
	select {
	case f.Remotes <- &FakeCircuit{Conn: remote, Host: host, Port: port}:
		return local, nil
	case <-ctx.Done():
		_ = local.Close()
		_ = remote.Close()
		return nil, ctx.Err()
	}
}

func (f *FakeTransport) Alive() bool {
	return f.alive.Load()
}

func (f *FakeTransport) Close() error {
	f.alive.Store(false)
	return nil
}

// SetAlive changes what Alive reports.
func (f *FakeTransport) SetAlive(v bool) {
	f.alive.Store(v)
}

// SetRefuse makes subsequent OpenCircuit calls fail.
func (f *FakeTransport) SetRefuse(v bool) {
	f.refuse.Store(v)
}

// Opened returns every host:port OpenCircuit was called with, in order.
func (f *FakeTransport) Opened() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opened...)
}
