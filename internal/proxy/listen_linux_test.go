package proxy

import (
	"net"
	"os"
	"strconv"
	"strings"
	"testing"

	"golang.org/x/sys/unix"
)

func TestListenTCPBacklog(t *testing.T) {
	t.Parallel()

	want := uint32(ListenBacklog)
	if b, err := os.ReadFile("/proc/sys/net/core/somaxconn"); err == nil {
		if n, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 32); err == nil && uint32(n) < want {
			want = uint32(n)
		}
	}

	ln, err := ListenTCP("tcp", "127.0.0.1:0", net.KeepAliveConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	rc, err := ln.(*KeepAliveListener).Listener.(*net.TCPListener).SyscallConn()
	if err != nil {
		t.Fatal(err)
	}
	var (
		info    *unix.TCPInfo
		infoErr error
	)
	if err := rc.Control(func(fd uintptr) {
		info, infoErr = unix.GetsockoptTCPInfo(int(fd), unix.IPPROTO_TCP, unix.TCP_INFO)
	}); err != nil {
		t.Fatal(err)
	}
	if infoErr != nil {
		t.Fatal(infoErr)
	}

	// For a listening socket the kernel reports the backlog in tcpi_sacked.
	if info.Sacked != want {
		t.Fatalf("backlog %d, want %d", info.Sacked, want)
	}
}
