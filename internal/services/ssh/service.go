// Package ssh runs commands and writes files on remote cluster nodes.
package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/fgeck/pve-homelab/internal/models"
	"github.com/fgeck/pve-homelab/internal/services/executor"
	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// ErrNodeUnreachable is returned when a node refuses or times out the SSH connection.
var ErrNodeUnreachable = errors.New("node unreachable")

const defaultTimeout = 10 * time.Second

// Service defines the interface for SSH operations.
type Service interface {
	Connect(ctx context.Context, cfg models.SSHConfig) (*Conn, error)
	TestConnection(ctx context.Context, cfg models.SSHConfig) (*models.SSHResult, error)
}

// SSHClient wraps ssh.Client for mocking.
type SSHClient interface {
	NewSession() (SSHSession, error)
	WriteFile(path string, data []byte, perm os.FileMode) error
	Close() error
}

// SSHSession wraps ssh.Session for mocking.
type SSHSession interface {
	CombinedOutput(cmd string) ([]byte, error)
	Close() error
}

// ClientFactory creates SSH clients.
type ClientFactory interface {
	NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error)
}

// DefaultClientFactory is the default SSH client factory.
type DefaultClientFactory struct{}

// NewClient creates a new SSH client.
func (f *DefaultClientFactory) NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	client, err := ssh.Dial(network, addr, config)
	if err != nil {
		return nil, err
	}
	return &defaultSSHClient{client: client}, nil
}

type defaultSSHClient struct {
	client *ssh.Client
}

func (c *defaultSSHClient) NewSession() (SSHSession, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	return &defaultSSHSession{session: session}, nil
}

// WriteFile opens an SFTP subsystem on the connection for one file.
func (c *defaultSSHClient) WriteFile(p string, data []byte, perm os.FileMode) error {
	sc, err := sftp.NewClient(c.client)
	if err != nil {
		return fmt.Errorf("failed to create sftp subsystem: %w", err)
	}
	defer sc.Close()

	if err := sc.MkdirAll(path.Dir(p)); err != nil {
		return err
	}
	f, err := sc.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return sc.Chmod(p, perm)
}

func (c *defaultSSHClient) Close() error {
	return c.client.Close()
}

type defaultSSHSession struct {
	session *ssh.Session
}

func (s *defaultSSHSession) CombinedOutput(cmd string) ([]byte, error) {
	return s.session.CombinedOutput(cmd)
}

func (s *defaultSSHSession) Close() error {
	return s.session.Close()
}

// Impl implements the SSH Service interface.
type Impl struct {
	clientFactory ClientFactory
	logger        zerolog.Logger
}

// New creates a new SSH service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		clientFactory: &DefaultClientFactory{},
		logger:        logger,
	}
}

// NewWithClientFactory creates a new SSH service with a custom client factory (for testing).
func NewWithClientFactory(logger zerolog.Logger, factory ClientFactory) *Impl {
	return &Impl{
		clientFactory: factory,
		logger:        logger,
	}
}

func (s *Impl) buildConfig(cfg models.SSHConfig) (*ssh.ClientConfig, error) {
	var key []byte
	var err error

	if len(cfg.PrivateKey) > 0 {
		key = cfg.PrivateKey
	} else if cfg.KeyPath != "" {
		key, err = os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key from %s: %w", cfg.KeyPath, err)
		}
	} else {
		return nil, fmt.Errorf("no private key provided")
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &ssh.ClientConfig{
		User: cfg.Username,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // homelab cluster, nodes share keys
		Timeout:         timeout,
	}, nil
}

// Connect dials cfg.Host and returns a connection usable as a command executor.
// Dial failures wrap ErrNodeUnreachable.
func (s *Impl) Connect(ctx context.Context, cfg models.SSHConfig) (*Conn, error) {
	sshConfig, err := s.buildConfig(cfg)
	if err != nil {
		return nil, err
	}

	port := cfg.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))

	s.logger.Debug().Str("addr", addr).Str("user", cfg.Username).Msg("connecting")

	clientChan := make(chan struct {
		client SSHClient
		err    error
	}, 1)

	go func() {
		client, err := s.clientFactory.NewClient("tcp", addr, sshConfig)
		clientChan <- struct {
			client SSHClient
			err    error
		}{client, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-clientChan:
		if res.err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrNodeUnreachable, addr, res.err)
		}
		return &Conn{client: res.client, addr: addr, logger: s.logger}, nil
	}
}

// TestConnection verifies SSH connectivity by running a no-op command.
func (s *Impl) TestConnection(ctx context.Context, cfg models.SSHConfig) (*models.SSHResult, error) {
	result := &models.SSHResult{}

	conn, err := s.Connect(ctx, cfg)
	if err != nil {
		result.Error = err
		return result, nil
	}
	defer conn.Close()

	output, err := conn.Execute(ctx, "echo", "OK")
	result.Output = string(output)
	result.CommandRun = true

	if err != nil {
		result.Error = fmt.Errorf("test command failed: %w", err)
	}

	return result, nil
}

// Conn is an open SSH connection. It satisfies executor.CommandExecutor.
type Conn struct {
	client SSHClient
	addr   string
	logger zerolog.Logger
}

// Execute runs name with args in a new session. The session is closed
// when ctx is cancelled.
func (c *Conn) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	cmd := "DEBIAN_FRONTEND=noninteractive LC_ALL=C " + executor.Shell(name, args...)
	c.logger.Debug().Str("addr", c.addr).Str("command", cmd).Msg("remote exec")

	type outcome struct {
		output []byte
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		output, err := session.CombinedOutput(cmd)
		done <- outcome{output, err}
	}()

	select {
	case <-ctx.Done():
		_ = session.Close()
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return res.output, fmt.Errorf("%s on %s: %w", name, c.addr, res.err)
		}
		return res.output, nil
	}
}

// WriteFile writes data to a remote path over SFTP.
func (c *Conn) WriteFile(ctx context.Context, p string, data []byte, perm os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.client.WriteFile(p, data, perm); err != nil {
		return fmt.Errorf("failed to write %s on %s: %w", p, c.addr, err)
	}
	return nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.client.Close()
}
