//go:build unix

package proxy

import (
	"errors"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// ListenBacklog is the accept queue length asked of the kernel. The net
// package always passes somaxconn, which may be smaller on some hosts.
const ListenBacklog = 128

// listen binds a TCP socket by hand so the backlog is ListenBacklog, then
// hands it to the net package.
func listen(network, addr string) (net.Listener, error) {
	taddr, err := net.ResolveTCPAddr(network, addr)
	if err != nil {
		return nil, err
	}

	fd, err := listenSocket(network, taddr)
	if err != nil {
		return nil, err
	}

	f := os.NewFile(uintptr(fd), "tcp-listener")
	// FileListener dups the descriptor.
	defer f.Close()

	return net.FileListener(f)
}

func listenSocket(network string, taddr *net.TCPAddr) (int, error) {
	family := unix.AF_INET6
	if network == "tcp4" || (network != "tcp6" && taddr.IP.To4() != nil) {
		family = unix.AF_INET
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if errors.Is(err, unix.EAFNOSUPPORT) && family == unix.AF_INET6 && network == "tcp" && wildcard(taddr) {
		// No IPv6 on this host; a wildcard address binds IPv4 only.
		family = unix.AF_INET
		fd, err = unix.Socket(family, unix.SOCK_STREAM, 0)
	}
	if err != nil {
		return -1, os.NewSyscallError("socket", err)
	}
	unix.CloseOnExec(fd)

	if err := setupSocket(fd, family, network, taddr); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func setupSocket(fd, family int, network string, taddr *net.TCPAddr) error {
	// Rebind while old client sockets sit in TIME_WAIT.
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return os.NewSyscallError("setsockopt", err)
	}

	var sa unix.Sockaddr
	if family == unix.AF_INET {
		sa4 := &unix.SockaddrInet4{Port: taddr.Port}
		if ip := taddr.IP.To4(); ip != nil {
			copy(sa4.Addr[:], ip)
		}
		sa = sa4
	} else {
		// A wildcard "tcp" listener serves IPv4 too.
		v6only := 0
		if network == "tcp6" || !wildcard(taddr) {
			v6only = 1
		}
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, v6only); err != nil {
			return os.NewSyscallError("setsockopt", err)
		}
		sa6 := &unix.SockaddrInet6{Port: taddr.Port}
		if taddr.IP != nil {
			copy(sa6.Addr[:], taddr.IP.To16())
		}
		sa = sa6
	}

	if err := unix.Bind(fd, sa); err != nil {
		return os.NewSyscallError("bind", err)
	}
	if err := unix.Listen(fd, ListenBacklog); err != nil {
		return os.NewSyscallError("listen", err)
	}
	return nil
}

func wildcard(taddr *net.TCPAddr) bool {
	return taddr.IP == nil || taddr.IP.IsUnspecified()
}
