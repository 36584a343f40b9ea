// Package dialer provides the outbound dialer used to reach the transport
// server and, on the endpoint side, circuit destinations.
package dialer
