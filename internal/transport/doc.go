// Package transport defines the multiplexed transport that SOCKS5 circuits are
// opened on.
//
// A Transport is shared by every connection handler. OpenCircuit must be safe
// for concurrent use, and Alive is polled by running relays so that they stop
// once the shared transport is gone.
package transport
