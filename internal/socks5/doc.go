// Package socks5 implements the SOCKS5 wire handling used by sshsocks.
//
// The server side is deliberately minimal: version 5, no authentication,
// CONNECT only, IPv4 and domain-name destinations only. Anything else is
// reported as an error so the caller can drop the connection without a reply.
//
// Fixed reply frames are built with github.com/txthinking/socks5. The same
// request/reply framing doubles as the stream header of the mux transport.
package socks5
