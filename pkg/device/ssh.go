package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/andrej220/authclear/pkg/lg"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	termType   = "vt100"
	termWidth  = 511
	termHeight = 24
	exitCmd    = "exit"
)

// Older IOS images only offer group14-sha1 / group1-sha1 key exchange and
// CBC ciphers; the client lists them last so modern devices still pick the
// stronger algorithms.
var (
	keyExchanges = []string{
		"curve25519-sha256", "curve25519-sha256@libssh.org",
		"ecdh-sha2-nistp256", "ecdh-sha2-nistp384", "ecdh-sha2-nistp521",
		"diffie-hellman-group14-sha256", "diffie-hellman-group16-sha512",
		"diffie-hellman-group14-sha1", "diffie-hellman-group1-sha1",
	}
	ciphers = []string{
		"aes128-gcm@openssh.com", "aes256-gcm@openssh.com", "chacha20-poly1305@openssh.com",
		"aes128-ctr", "aes192-ctr", "aes256-ctr",
		"aes128-cbc", "3des-cbc",
	}
)

// SSHConnector opens interactive IOS shells over SSH.
type SSHConnector struct {
	hostKeyCallback ssh.HostKeyCallback
}

// NewSSHConnector returns a connector that verifies host keys against
// knownHostsFile, or accepts any host key when the path is empty.
func NewSSHConnector(knownHostsFile string) (*SSHConnector, error) {
	callback := ssh.InsecureIgnoreHostKey()
	if knownHostsFile != "" {
		cb, err := knownhosts.New(knownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts %s: %w", knownHostsFile, err)
		}
		callback = cb
	}
	return &SSHConnector{hostKeyCallback: callback}, nil
}

func (c *SSHConnector) clientConfig(target Target) *ssh.ClientConfig {
	cfg := &ssh.ClientConfig{
		User: target.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(target.Password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = target.Password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: c.hostKeyCallback,
		Timeout:         target.connectTimeout(),
		BannerCallback:  func(message string) error { return nil }, //ignore banner
	}
	cfg.KeyExchanges = keyExchanges
	cfg.Ciphers = ciphers
	return cfg
}

// Connect dials the switch, authenticates, opens a PTY shell, waits for the
// first EXEC prompt and disables paging.
func (c *SSHConnector) Connect(ctx context.Context, target Target) (Session, error) {
	logger := lg.FromContext(ctx).With(lg.String("switch", target.Address))
	addr := target.HostPort()
	timeout := target.connectTimeout()

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := &net.Dialer{Timeout: timeout}
	rawConn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	// the handshake has no context of its own; bound it with a deadline
	_ = rawConn.SetDeadline(time.Now().Add(timeout))
	clientConn, chans, reqs, err := ssh.NewClientConn(rawConn, addr, c.clientConfig(target))
	if err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	_ = rawConn.SetDeadline(time.Time{})
	client := ssh.NewClient(clientConn, chans, reqs)

	sess, err := openShell(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("open shell on %s: %w", addr, err)
	}
	s := &sshSession{
		target:  target,
		client:  client,
		session: sess.session,
		stdin:   sess.stdin,
		reader:  newPromptReader(sess.stdout),
		logger:  logger,
	}

	initial, err := s.reader.readUntil(ctx, timeout, atPrompt)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("waiting for prompt on %s: %w", addr, err)
	}
	s.privileged = atPrivilegedPrompt(initial)
	logger.Debug("Connected", lg.Bool("privileged", s.privileged))

	if _, err := s.exec(ctx, TerminalLengthCmd); err != nil {
		s.close()
		return nil, fmt.Errorf("disable paging on %s: %w", addr, err)
	}
	return s, nil
}

type shell struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
}

func openShell(client *ssh.Client) (*shell, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 9600,
		ssh.TTY_OP_OSPEED: 9600,
	}
	if err := session.RequestPty(termType, termHeight, termWidth, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}
	return &shell{session: session, stdin: stdin, stdout: stdout}, nil
}

type sshSession struct {
	target     Target
	client     *ssh.Client
	session    *ssh.Session
	stdin      io.WriteCloser
	reader     *promptReader
	logger     lg.Logger
	privileged bool

	closeOnce sync.Once
	closeErr  error
	closed    bool
}

func (s *sshSession) send(line string) error {
	if s.closed {
		return ErrSessionClosed
	}
	_, err := io.WriteString(s.stdin, line+"\n")
	return err
}

// exec sends one line and returns the device output up to the next prompt.
func (s *sshSession) exec(ctx context.Context, command string) (string, error) {
	if err := s.send(command); err != nil {
		return "", fmt.Errorf("send %q: %w", command, err)
	}
	raw, err := s.reader.readUntil(ctx, s.target.commandTimeout(), atPrompt)
	if err != nil {
		return commandOutput(raw, command), fmt.Errorf("%q: %w", command, err)
	}
	return commandOutput(raw, command), nil
}

func (s *sshSession) EscalatePrivilege(ctx context.Context) error {
	if s.privileged {
		return nil
	}
	if err := s.send("enable"); err != nil {
		return fmt.Errorf("send enable: %w", err)
	}
	out, err := s.reader.readUntil(ctx, s.target.commandTimeout(), atPasswordOrPrompt)
	if err != nil {
		return fmt.Errorf("enable: %w", err)
	}
	if !atPrompt(out) {
		if err := s.send(s.target.enableSecret()); err != nil {
			return fmt.Errorf("send enable secret: %w", err)
		}
		// a wrong secret re-prompts for the password, which also ends the read
		out, err = s.reader.readUntil(ctx, s.target.commandTimeout(), atPasswordOrPrompt)
		if err != nil {
			return fmt.Errorf("enable: %w", err)
		}
	}
	if !atPrivilegedPrompt(out) {
		return fmt.Errorf("%w: %s", ErrNotPrivileged, lastLine(out))
	}
	s.privileged = true
	s.logger.Debug("Entered privileged mode")
	return nil
}

func (s *sshSession) RunCommand(ctx context.Context, command string) (string, error) {
	s.logger.Debug("Executing", lg.String("command", command))
	output, err := s.exec(ctx, command)
	if err != nil {
		return output, err
	}
	if msg, rejected := commandError(output); rejected {
		return output, fmt.Errorf("%w: %s", ErrCommandRejected, msg)
	}
	return output, nil
}

// Disconnect leaves the shell and closes the connection. It is safe to call
// more than once.
func (s *sshSession) Disconnect() error {
	if !s.closed {
		_ = s.send(exitCmd)
	}
	return s.close()
}

func (s *sshSession) close() error {
	s.closeOnce.Do(func() {
		s.closed = true
		s.reader.close()
		_ = s.session.Close()
		if err := s.client.Close(); err != nil && !isClosedErr(err) {
			s.closeErr = err
		}
		s.logger.Debug("Disconnected")
	})
	return s.closeErr
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF)
}
