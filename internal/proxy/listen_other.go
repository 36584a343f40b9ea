//go:build !unix

package proxy

import "net"

func listen(network, addr string) (net.Listener, error) {
	return net.Listen(network, addr)
}
