package main

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/die-net/sshsocks/internal/config"
	"github.com/die-net/sshsocks/internal/transport"
)

var (
	okMsg   = color.New(color.FgGreen, color.Bold).FprintfFunc()
	failMsg = color.New(color.FgRed, color.Bold).FprintfFunc()
)

// runCheck connects tr once and reports the outcome on w. A failure is also
// returned so the process exits non-zero.
func runCheck(ctx context.Context, tr transport.Transport, cfg *config.Config, w io.Writer) error {
	target := cfg.Transport
	if cfg.Transport != config.TransportDirect {
		target = fmt.Sprintf("%s://%s", cfg.Transport, cfg.RemoteAddr())
	}

	c, ok := tr.(connector)
	if !ok {
		okMsg(w, "OK: %s needs no connection\n", target)
		return nil
	}

	if timeout := cfg.DialTimeout + cfg.HandshakeTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := c.Connect(ctx); err != nil {
		failMsg(w, "FAIL: %s: %v\n", target, err)
		return fmt.Errorf("check %s: %w", target, err)
	}

	okMsg(w, "OK: connected to %s\n", target)
	return nil
}
