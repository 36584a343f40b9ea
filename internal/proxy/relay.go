package proxy

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/sshsocks/internal/transport"
)

// RelayBufferSize is the per-direction copy buffer size.
const RelayBufferSize = 8 << 10

var relayBuffers = NewBufferPool(RelayBufferSize)

// errPeerClosed stops the relay when one side reaches EOF.
var errPeerClosed = errors.New("peer closed")

// RelayResult reports how many bytes moved in each direction.
type RelayResult struct {
	// Up is client to circuit.
	Up int64
	// Down is circuit to client.
	Down int64
}

// Relay copies bytes between client and circuit until one of them reaches
// EOF or fails, ctx is canceled, or alive reports false. EOF on either side
// ends the whole relay; half-closes are not passed through. Both sides are
// closed before Relay returns.
//
// alive is polled every poll. A nil alive or non-positive poll disables
// polling. When polling trips, Relay returns transport.ErrTransportDown.
func Relay(ctx context.Context, client, circuit io.ReadWriteCloser, alive func() bool, poll time.Duration) (RelayResult, error) {
	g, gctx := errgroup.WithContext(ctx)

	var up, down atomic.Int64
	var lost atomic.Bool

	closeBoth := closeOnce(client, circuit)
	defer closeBoth()

	g.Go(func() error {
		return copyHalf(circuit, client, &up)
	})

	g.Go(func() error {
		return copyHalf(client, circuit, &down)
	})

	g.Go(func() error {
		var tick <-chan time.Time
		if alive != nil && poll > 0 {
			ticker := time.NewTicker(poll)
			defer ticker.Stop()
			tick = ticker.C
		}

		for {
			select {
			case <-gctx.Done():
				// Unblock whichever copy is still running.
				closeBoth()
				return nil
			case <-tick:
				if !alive() {
					lost.Store(true)
					closeBoth()
					return transport.ErrTransportDown
				}
			}
		}
	})

	err := g.Wait()
	res := RelayResult{Up: up.Load(), Down: down.Load()}

	switch {
	case lost.Load():
		return res, transport.ErrTransportDown
	case errors.Is(err, errPeerClosed):
		return res, nil
	case ctx.Err() != nil:
		return res, ctx.Err()
	}
	return res, err
}

func copyHalf(dst io.Writer, src io.Reader, n *atomic.Int64) error {
	buf := relayBuffers.Get()
	defer relayBuffers.Put(buf)

	written, err := io.CopyBuffer(dst, src, buf)
	n.Store(written)
	if err != nil {
		return err
	}
	return errPeerClosed
}

func closeOnce(a, b io.Closer) func() {
	var done atomic.Bool
	return func() {
		if done.CompareAndSwap(false, true) {
			_ = a.Close()
			_ = b.Close()
		}
	}
}
