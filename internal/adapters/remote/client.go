package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Options controls how Dial authenticates and verifies the host.
type Options struct {
	// IdentityFile is a private key tried before the defaults and the agent.
	IdentityFile string
	// KnownHosts is the known_hosts file used to verify the host key.
	// Defaults to ~/.ssh/known_hosts.
	KnownHosts string
	// InsecureIgnoreHostKey skips host key verification.
	InsecureIgnoreHostKey bool
	Timeout               time.Duration
}

// Client is an SSH connection with an SFTP subsystem on top of it.
type Client struct {
	target Target
	ssh    *ssh.Client
	sftp   *sftp.Client
	agent  net.Conn
}

// Dial connects to the target and opens the SFTP subsystem.
func Dial(ctx context.Context, target Target, opts Options) (*Client, error) {
	if target.User == "" {
		target.User = os.Getenv("USER")
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}

	c := &Client{target: target}
	auth, err := c.authMethods(opts.IdentityFile)
	if err != nil {
		return nil, err
	}
	hostKey, err := hostKeyCallback(opts)
	if err != nil {
		c.closeAgent()
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            target.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         opts.Timeout,
	}
	dialer := &net.Dialer{Timeout: opts.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", target.Addr())
	if err != nil {
		c.closeAgent()
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, target.Addr(), config)
	if err != nil {
		_ = conn.Close()
		c.closeAgent()
		return nil, fmt.Errorf("ssh handshake with %s: %w", target, err)
	}
	c.ssh = ssh.NewClient(sshConn, chans, reqs)

	c.sftp, err = sftp.NewClient(c.ssh)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("open sftp on %s: %w", target, err)
	}
	return c, nil
}

// Target returns the connected machine.
func (c *Client) Target() Target {
	return c.target
}

// Runner returns a command runner executing over this connection.
func (c *Client) Runner() *SSHRunner {
	return NewSSHRunner(c.ssh)
}

// FileSystem returns the SFTP file system of this connection.
func (c *Client) FileSystem() *SFTPFileSystem {
	return NewSFTPFileSystem(c.sftp)
}

// Close shuts down SFTP, SSH and the agent connection.
func (c *Client) Close() error {
	var errs []error
	if c.sftp != nil {
		errs = append(errs, c.sftp.Close())
	}
	if c.ssh != nil {
		errs = append(errs, c.ssh.Close())
	}
	c.closeAgent()
	return errors.Join(errs...)
}

func (c *Client) closeAgent() {
	if c.agent != nil {
		_ = c.agent.Close()
		c.agent = nil
	}
}

func (c *Client) authMethods(identity string) ([]ssh.AuthMethod, error) {
	var signers []ssh.Signer
	if identity != "" {
		signer, err := loadKey(identity)
		if err != nil {
			return nil, fmt.Errorf("load identity %s: %w", identity, err)
		}
		signers = append(signers, signer)
	}
	if home, err := os.UserHomeDir(); err == nil {
		for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
			if signer, err := loadKey(filepath.Join(home, ".ssh", name)); err == nil {
				signers = append(signers, signer)
			}
		}
	}

	var methods []ssh.AuthMethod
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}
	if socket := os.Getenv("SSH_AUTH_SOCK"); socket != "" {
		if conn, err := net.Dial("unix", socket); err == nil {
			c.agent = conn
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}
	if len(methods) == 0 {
		return nil, errors.New("no ssh identity available: pass --identity or start ssh-agent")
	}
	return methods, nil
}

func loadKey(path string) (ssh.Signer, error) {
	path = expandHome(path)
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(key)
}

func hostKeyCallback(opts Options) (ssh.HostKeyCallback, error) {
	if opts.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // explicit opt-in
	}
	path := opts.KnownHosts
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locate known_hosts: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(expandHome(path))
	if err != nil {
		return nil, fmt.Errorf("read known_hosts %s: %w", path, err)
	}
	return cb, nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
