// Package mux carries circuits as streams of a yamux or smux session over a
// single carrier connection.
//
// Every stream starts with a SOCKS5 CONNECT request from the client side,
// answered by a SOCKS5 reply from the endpoint, after which the stream is a
// plain byte pipe to the destination. The carrier is expected to be secured
// by something outside this package.
package mux
