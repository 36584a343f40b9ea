// Package proxy implements the local SOCKS5 relay server.
//
// Each accepted client gets its own goroutine, which runs the SOCKS5
// handshake, opens one circuit on the shared transport, and relays bytes
// until either side closes or the transport goes down. The package also
// holds the shared plumbing: loopback listeners, the relay loop, buffer
// pooling and counters.
package proxy
