package socks5

import (
	"fmt"
	"io"
	"net"
	"strconv"

	txsocks5 "github.com/txthinking/socks5"
)

// ClientConnect writes a CONNECT request for host:port to rw and waits for
// the reply. There is no greeting exchange; it is used as a stream header
// where authentication already happened on the carrier.
func ClientConnect(rw io.ReadWriter, host string, port uint16) error {
	atyp, dstAddr, dstPort, err := txsocks5.ParseAddress(net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		return fmt.Errorf("parse address: %w", err)
	}
	if atyp == txsocks5.ATYPDomain {
		dstAddr = dstAddr[1:]
	}

	if _, err := txsocks5.NewRequest(txsocks5.CmdConnect, atyp, dstAddr, dstPort).WriteTo(rw); err != nil {
		return fmt.Errorf("write request: %w", err)
	}

	rep, err := txsocks5.NewReplyFrom(rw)
	if err != nil {
		return fmt.Errorf("read reply: %w", err)
	}
	if rep.Rep != txsocks5.RepSuccess {
		return &ReplyError{Rep: rep.Rep}
	}
	return nil
}

// ReplyError is a non-success reply received by ClientConnect.
type ReplyError struct {
	Rep byte
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("socks5: connect failed with reply %#x", e.Rep)
}
