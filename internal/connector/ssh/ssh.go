// Package ssh provides a connector for executing commands on remote hosts over SSH.
package ssh

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/eugenetaranov/sendcmd/internal/connector"
)

// Name is the key the connector is registered under.
const Name = "ssh"

const defaultPort = "22"

// defaultIdentities are tried after any IdentityFile from ssh_config.
var defaultIdentities = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

func init() {
	connector.Register(Name, func(target string) (connector.Connector, error) {
		return New(target)
	})
}

// Connector executes commands on a remote host over a single SSH connection.
type Connector struct {
	host     string // alias as given in the target, used for ssh_config lookups
	hostname string // address actually dialed
	port     string
	user     string

	password        string
	identityFiles   []string
	useAgent        bool
	configFile      string
	knownHostsFile  string
	hostKeyCallback ssh.HostKeyCallback
	timeout         time.Duration

	client    *ssh.Client
	agentConn net.Conn
}

// Option configures the SSH connector.
type Option func(*Connector)

// WithUser sets the login user, overriding ssh_config and the local user.
func WithUser(user string) Option {
	return func(c *Connector) {
		c.user = user
	}
}

// WithPort sets the remote port, overriding ssh_config.
func WithPort(port string) Option {
	return func(c *Connector) {
		c.port = port
	}
}

// WithPassword enables password authentication.
func WithPassword(password string) Option {
	return func(c *Connector) {
		c.password = password
	}
}

// WithIdentityFile adds a private key file tried before ssh_config and default keys.
func WithIdentityFile(path string) Option {
	return func(c *Connector) {
		c.identityFiles = append(c.identityFiles, path)
	}
}

// WithoutAgent disables ssh-agent authentication.
func WithoutAgent() Option {
	return func(c *Connector) {
		c.useAgent = false
	}
}

// WithConfigFile sets the ssh_config file to consult. An empty path disables it.
func WithConfigFile(path string) Option {
	return func(c *Connector) {
		c.configFile = path
	}
}

// WithKnownHostsFile sets the known_hosts file. An empty path accepts any host key.
func WithKnownHostsFile(path string) Option {
	return func(c *Connector) {
		c.knownHostsFile = path
	}
}

// WithHostKeyCallback replaces known_hosts verification entirely.
func WithHostKeyCallback(cb ssh.HostKeyCallback) Option {
	return func(c *Connector) {
		c.hostKeyCallback = cb
	}
}

// WithTimeout bounds the TCP dial and SSH handshake. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Connector) {
		c.timeout = d
	}
}

// New creates an SSH connector for a target of the form [user@]host[:port].
// Values missing from the target and options are filled from ssh_config,
// then from defaults (the local user and port 22).
func New(target string, opts ...Option) (*Connector, error) {
	targetUser, host, port, err := parseTarget(target)
	if err != nil {
		return nil, err
	}

	c := &Connector{
		host:           host,
		hostname:       host,
		useAgent:       true,
		configFile:     homePath(".ssh", "config"),
		knownHostsFile: homePath(".ssh", "known_hosts"),
	}

	for _, opt := range opts {
		opt(c)
	}

	// Target values beat options only when options left them unset.
	if c.user == "" {
		c.user = targetUser
	}
	if c.port == "" {
		c.port = port
	}

	if err := c.applyConfigFile(); err != nil {
		return nil, err
	}

	if c.user == "" {
		c.user = localUser()
	}
	if c.port == "" {
		c.port = defaultPort
	}

	return c, nil
}

// parseTarget splits [user@]host[:port].
func parseTarget(target string) (user, host, port string, err error) {
	host = strings.TrimSpace(target)
	if i := strings.LastIndex(host, "@"); i >= 0 {
		user, host = host[:i], host[i+1:]
	}
	if h, p, splitErr := net.SplitHostPort(host); splitErr == nil {
		host, port = h, p
	} else if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}
	if host == "" {
		return "", "", "", errors.Errorf("invalid target %q: empty host", target)
	}
	return user, host, port, nil
}

// Connect dials the host and completes the SSH handshake and authentication.
func (c *Connector) Connect(ctx context.Context) error {
	hostKeyCallback, err := c.hostKeys()
	if err != nil {
		return err
	}

	config := &ssh.ClientConfig{
		User:            c.user,
		Auth:            c.authMethods(),
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.timeout,
	}

	addr := net.JoinHostPort(c.hostname, c.port)
	log.WithFields(log.Fields{
		"addr": addr,
		"user": c.user,
	}).Debug("dialing ssh")

	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.closeAgent()
		return errors.Wrapf(err, "unable to connect to %s", addr)
	}

	if c.timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.timeout))
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if !stop() {
		if err == nil {
			_ = sshConn.Close()
		}
		_ = conn.Close()
		c.closeAgent()
		return errors.Wrapf(ctx.Err(), "ssh handshake with %s interrupted", addr)
	}
	if err != nil {
		_ = conn.Close()
		c.closeAgent()
		return errors.Wrapf(err, "ssh handshake with %s failed", addr)
	}
	_ = conn.SetDeadline(time.Time{})

	c.client = ssh.NewClient(sshConn, chans, reqs)
	return nil
}

// Execute runs cmd in a new session with stdout and stderr captured.
// A non-zero remote exit status is reported in the result, not as an error.
func (c *Connector) Execute(ctx context.Context, cmd string) (*connector.Result, error) {
	if c.client == nil {
		return nil, errors.New("ssh connector is not connected")
	}

	session, err := c.client.NewSession()
	if err != nil {
		return nil, errors.Wrap(err, "unable to create SSH session")
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	stop := context.AfterFunc(ctx, func() { _ = session.Close() })
	defer stop()

	log.WithFields(log.Fields{
		"host": c.hostname,
		"cmd":  cmd,
	}).Debug("running remote command")

	err = session.Run(cmd)

	result := &connector.Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Wrap(ctxErr, "remote command interrupted")
		}
		return nil, errors.Wrap(err, "failed to execute remote command")
	}

	return result, nil
}

// Close terminates the SSH connection and any agent connection.
func (c *Connector) Close() error {
	c.closeAgent()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// String returns a description of the connection.
func (c *Connector) String() string {
	return fmt.Sprintf("ssh://%s@%s", c.user, net.JoinHostPort(c.hostname, c.port))
}

func (c *Connector) closeAgent() {
	if c.agentConn != nil {
		_ = c.agentConn.Close()
		c.agentConn = nil
	}
}

// authMethods collects password, agent and key file authentication.
func (c *Connector) authMethods() []ssh.AuthMethod {
	var methods []ssh.AuthMethod

	if c.password != "" {
		methods = append(methods, ssh.Password(c.password))
	}

	if c.useAgent {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			conn, err := net.Dial("unix", sock)
			if err != nil {
				log.WithField("socket", sock).WithError(err).Debug("ssh-agent unavailable")
			} else {
				c.agentConn = conn
				methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
			}
		}
	}

	if signers := c.loadIdentities(); len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}

	return methods
}

// loadIdentities parses every readable, unencrypted private key.
func (c *Connector) loadIdentities() []ssh.Signer {
	paths := append([]string{}, c.identityFiles...)
	for _, name := range defaultIdentities {
		paths = append(paths, homePath(".ssh", name))
	}

	var signers []ssh.Signer
	seen := make(map[string]bool)
	for _, path := range paths {
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true

		pem, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			log.WithField("path", path).WithError(err).Debug("skipping identity file")
			continue
		}
		signers = append(signers, signer)
	}
	return signers
}

func localUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}

// homePath joins elem onto the user's home directory, or returns "" if unknown.
func homePath(elem ...string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(append([]string{home}, elem...)...)
}

// expandHome replaces a leading ~ with the home directory.
func expandHome(path string) string {
	if path == "~" {
		return homePath()
	}
	if strings.HasPrefix(path, "~/") {
		if home := homePath(); home != "" {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// Ensure Connector implements the connector.Connector interface.
var _ connector.Connector = (*Connector)(nil)
