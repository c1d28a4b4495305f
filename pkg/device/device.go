// Package device talks to network switches. The dispatcher only sees the
// Connector and Session interfaces; SSHConnector is the Cisco IOS
// implementation and BreakerConnector adds a per-switch circuit breaker.
package device

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"
)

const (
	DefaultPort           = 22
	DefaultConnectTimeout = 10 * time.Second
	DefaultCommandTimeout = 30 * time.Second
)

var (
	ErrPromptTimeout   = errors.New("timed out waiting for prompt")
	ErrNotPrivileged   = errors.New("device did not enter privileged mode")
	ErrCommandRejected = errors.New("command rejected by device")
	ErrSessionClosed   = errors.New("session is closed")
	ErrCircuitOpen     = errors.New("circuit breaker is open")
)

// Target holds the parameters needed to open one session. It is built per
// task and never shared between workers.
type Target struct {
	Address        string
	Port           int
	Username       string
	Password       string
	EnablePassword string
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
}

// HostPort returns address:port, using DefaultPort when Port is unset.
func (t Target) HostPort() string {
	port := t.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(t.Address, strconv.Itoa(port))
}

func (t Target) connectTimeout() time.Duration {
	if t.ConnectTimeout <= 0 {
		return DefaultConnectTimeout
	}
	return t.ConnectTimeout
}

func (t Target) commandTimeout() time.Duration {
	if t.CommandTimeout <= 0 {
		return DefaultCommandTimeout
	}
	return t.CommandTimeout
}

func (t Target) enableSecret() string {
	if t.EnablePassword == "" {
		return t.Password
	}
	return t.EnablePassword
}

// Connector opens authenticated management sessions.
type Connector interface {
	Connect(ctx context.Context, target Target) (Session, error)
}

// Session is one authenticated connection to a switch. A Session is used by
// a single goroutine and is not reused after Disconnect.
type Session interface {
	EscalatePrivilege(ctx context.Context) error
	RunCommand(ctx context.Context, command string) (string, error)
	Disconnect() error
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context, target Target) (Session, error)

func (f ConnectorFunc) Connect(ctx context.Context, target Target) (Session, error) {
	return f(ctx, target)
}
