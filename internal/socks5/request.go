package socks5

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"unicode/utf8"

	txsocks5 "github.com/txthinking/socks5"
)

// Version is the only protocol version accepted.
const Version = 0x05

const (
	// CmdConnect is the SOCKS5 CONNECT command value.
	CmdConnect = txsocks5.CmdConnect

	AtypIPv4   = txsocks5.ATYPIPv4
	AtypDomain = txsocks5.ATYPDomain
	AtypIPv6   = txsocks5.ATYPIPv6
)

var (
	ErrVersion                 = errors.New("socks5: unsupported version")
	ErrCommandNotSupported     = errors.New("socks5: command not supported")
	ErrAddressTypeNotSupported = errors.New("socks5: address type not supported")
	ErrBadAddress              = errors.New("socks5: malformed address")
)

// Request is a parsed CONNECT request.
type Request struct {
	Atyp byte
	Host string
	Port uint16
}

// Address returns host:port.
func (r *Request) Address() string {
	return net.JoinHostPort(r.Host, fmt.Sprint(r.Port))
}

// ReadGreeting reads the client greeting (VER NMETHODS METHODS) and returns
// the offered methods. The version byte is checked before anything else is
// read.
func ReadGreeting(r io.Reader) ([]byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return nil, fmt.Errorf("greeting: %w", err)
	}
	if b[0] != Version {
		return nil, fmt.Errorf("greeting: %w: %#x", ErrVersion, b[0])
	}

	if _, err := io.ReadFull(r, b[:]); err != nil {
		return nil, fmt.Errorf("greeting: %w", err)
	}
	methods := make([]byte, int(b[0]))
	if _, err := io.ReadFull(r, methods); err != nil {
		return nil, fmt.Errorf("greeting methods: %w", err)
	}
	return methods, nil
}

// WriteNoAuthReply selects "no authentication", whatever the client offered.
func WriteNoAuthReply(w io.Writer) error {
	if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodNone).WriteTo(w); err != nil {
		return fmt.Errorf("greeting reply: %w", err)
	}
	return nil
}

// ReadRequest reads VER CMD RSV ATYP followed by the destination address and
// port.
//
// A non-CONNECT command or an address type other than IPv4 or domain name is
// rejected as soon as the header has been read; the rest of the request is
// left unread.
func ReadRequest(r io.Reader) (*Request, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	if hdr[0] != Version {
		return nil, fmt.Errorf("request: %w: %#x", ErrVersion, hdr[0])
	}
	if hdr[1] != CmdConnect {
		return nil, fmt.Errorf("request: %w: %#x", ErrCommandNotSupported, hdr[1])
	}

	req := &Request{Atyp: hdr[3]}
	switch req.Atyp {
	case AtypIPv4:
		var ip [4]byte
		if _, err := io.ReadFull(r, ip[:]); err != nil {
			return nil, fmt.Errorf("request ipv4 address: %w", err)
		}
		req.Host = net.IP(ip[:]).String()
	case AtypDomain:
		var l [1]byte
		if _, err := io.ReadFull(r, l[:]); err != nil {
			return nil, fmt.Errorf("request domain length: %w", err)
		}
		name := make([]byte, int(l[0]))
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, fmt.Errorf("request domain: %w", err)
		}
		if !utf8.Valid(name) {
			return nil, fmt.Errorf("request domain: %w", ErrBadAddress)
		}
		req.Host = string(name)
	default:
		return nil, fmt.Errorf("request: %w: %#x", ErrAddressTypeNotSupported, req.Atyp)
	}

	var port [2]byte
	if _, err := io.ReadFull(r, port[:]); err != nil {
		return nil, fmt.Errorf("request port: %w", err)
	}
	req.Port = binary.BigEndian.Uint16(port[:])

	return req, nil
}
