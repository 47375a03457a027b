package telemetry

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHSource fetches samples by running the Termux location command on the
// device over SSH. It exists for fleets where the devices do not run the
// HTTP location server; the payload shape is identical.
type SSHSource struct {
	user    string
	port    int
	command string
	signer  ssh.Signer
	timeout time.Duration
}

// NewSSHSource creates a telemetry source that authenticates with the
// private key at keyPath and runs command (default: termux-location) on
// each device.
func NewSSHSource(user, keyPath, command string, port int) (*SSHSource, error) {
	key, err := os.ReadFile(keyPath) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key: %w", err)
	}
	if command == "" {
		command = "termux-location"
	}
	if port == 0 {
		port = 8022 // Termux sshd default
	}
	return &SSHSource{
		user:    user,
		port:    port,
		command: command,
		signer:  signer,
		timeout: defaultFetchTimeout,
	}, nil
}

// Fetch dials the device, runs the location command and parses its output.
func (s *SSHSource) Fetch(ctx context.Context, address string) (GeoSample, error) {
	config := &ssh.ClientConfig{
		User:            s.user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(s.signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // #nosec G106 -- fleet devices churn host keys on reinstall
		Timeout:         defaultConnectTimeout,
	}

	addr := net.JoinHostPort(address, fmt.Sprintf("%d", s.port))

	dialer := net.Dialer{Timeout: defaultConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return GeoSample{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(s.timeout))
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		_ = conn.Close()
		return GeoSample{}, fmt.Errorf("%w: ssh handshake: %v", ErrUnreachable, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer func() {
		_ = client.Close()
	}()

	session, err := client.NewSession()
	if err != nil {
		return GeoSample{}, fmt.Errorf("%w: ssh session: %v", ErrUnreachable, err)
	}
	defer func() {
		_ = session.Close()
	}()

	output, err := session.Output(s.command)
	if err != nil {
		return GeoSample{}, fmt.Errorf("%w: %s failed: %v", ErrMalformed, s.command, err)
	}

	return ParseSample(output, time.Now())
}
