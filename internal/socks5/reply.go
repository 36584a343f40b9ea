package socks5

import (
	"fmt"
	"io"

	txsocks5 "github.com/txthinking/socks5"
)

// RepConnectionRefused is sent when the circuit could not be opened.
const RepConnectionRefused = txsocks5.RepConnectionRefused

// WriteSuccessReply writes 05 00 00 01 00 00 00 00 00 00. The bound address
// is not meaningful for a tunneled circuit, so it is zero-filled.
func WriteSuccessReply(w io.Writer) error {
	if _, err := newZeroAddrReply(txsocks5.RepSuccess).WriteTo(w); err != nil {
		return fmt.Errorf("success reply: %w", err)
	}
	return nil
}

// WriteConnectionRefusedReply writes 05 05 00 01 00 00 00 00 00 00.
func WriteConnectionRefusedReply(w io.Writer) error {
	if _, err := newZeroAddrReply(RepConnectionRefused).WriteTo(w); err != nil {
		return fmt.Errorf("failure reply: %w", err)
	}
	return nil
}

func newZeroAddrReply(rep byte) *txsocks5.Reply {
	return txsocks5.NewReply(rep, txsocks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00})
}
