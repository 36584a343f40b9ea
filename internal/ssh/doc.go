// Package ssh provides the SSH transport: many SOCKS5 circuits multiplexed
// over one authenticated SSH connection as "direct-tcpip" channels, the same
// mechanism as ssh -D.
//
// Features:
//   - One shared connection, established by Connect or on first use
//   - Liveness tracked per connection from keepalive@openssh.com round trips
//     and the connection's own termination
//   - Reconnect on the next circuit after the connection is lost
//   - Password, private key file and SSH agent authentication
//   - known_hosts verification with trust on first use
//
// Server is the matching endpoint, used where no OpenSSH server is available
// and in tests.
//
// Example usage:
//
//	signers, _ := ssh.Signers(ssh.AuthAgent, "")
//	hostKeyCallback, _ := ssh.NewHostKeyCallback("~/.ssh/known_hosts", logger)
//
//	t, _ := ssh.NewTransport(ssh.TransportConfig{
//	    Addr: "ssh.example.com:22",
//	    Client: ssh.ClientConfig{
//	        Username:        "user",
//	        Signers:         signers,
//	        HostKeyCallback: hostKeyCallback,
//	    },
//	    KeepAliveInterval:    10 * time.Second,
//	    KeepAliveMaxFailures: 3,
//	}, dialer.NewDirectDialer(dialer.Config{}), logger)
//
//	conn, err := t.OpenCircuit(ctx, "internal.example.com", 80)
package ssh
