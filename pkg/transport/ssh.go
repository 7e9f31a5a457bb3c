package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const defaultSSHPort = "22"

// netDialer returns the function stream transports use to open their
// connection: a direct dial, or a forwarded channel through the SSH jump host.
func netDialer(opts Options) func(ctx context.Context, network, addr string) (net.Conn, error) {
	if opts.SSHJump == "" {
		d := &net.Dialer{Timeout: dialTimeout}
		return d.DialContext
	}
	jump := &sshJump{target: opts.SSHJump, insecure: opts.SSHInsecure, log: opts.Logger}
	return jump.DialContext
}

// sshJump forwards TCP connections through a bastion host.
type sshJump struct {
	target   string
	insecure bool
	log      *zap.Logger
}

// DialContext connects to the bastion and asks it to open addr.
func (j *sshJump) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	user, host, port, err := parseJumpHost(j.target)
	if err != nil {
		return nil, err
	}
	jumpAddr := net.JoinHostPort(host, port)

	hostKeyCallback, err := j.hostKeyCallback(host, port)
	if err != nil {
		return nil, err
	}

	authMethods, err := loadSSHAuthMethods()
	if err != nil {
		return nil, fmt.Errorf("failed to load SSH keys: %w", err)
	}
	if len(authMethods) == 0 {
		return nil, errors.New("no SSH keys found - generate one with: ssh-keygen -t ed25519 -f ~/.ssh/id_ed25519")
	}

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         dialTimeout,
	}

	d := &net.Dialer{Timeout: dialTimeout}
	netConn, err := d.DialContext(ctx, "tcp", jumpAddr)
	if err != nil {
		return nil, fmt.Errorf("ssh jump %s: %w", jumpAddr, err)
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(netConn, jumpAddr, config)
	if err != nil {
		netConn.Close()
		return nil, wrapSSHError(jumpAddr, err)
	}
	client := ssh.NewClient(clientConn, chans, reqs)

	j.log.Debug("ssh jump established",
		zap.String("jump", jumpAddr),
		zap.String("banner", string(clientConn.ServerVersion())))

	conn, err := client.Dial(network, addr)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ssh jump %s could not reach %s: %w", jumpAddr, addr, err)
	}

	return &sshForwardedConn{Conn: conn, client: client}, nil
}

func (j *sshJump) hostKeyCallback(host, port string) (ssh.HostKeyCallback, error) {
	if j.insecure {
		j.log.Warn("SSH host key verification is disabled; connection is vulnerable to MITM attacks")
		return ssh.InsecureIgnoreHostKey(), nil
	}

	paths := knownHostPaths()
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil, fmt.Errorf("ssh host key verification for %s is not possible: no known_hosts file found. Add the key with `ssh-keyscan -p %s %s >> %s` or pass --ssh-insecure",
			net.JoinHostPort(host, port), port, host, preferredKnownHostsPath(paths))
	}

	cb, err := knownhosts.New(existing...)
	if err != nil {
		return nil, fmt.Errorf("read known_hosts: %w", err)
	}
	return cb, nil
}

func wrapSSHError(addr string, err error) error {
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		if len(keyErr.Want) == 0 {
			return fmt.Errorf("ssh host key verification failed for %s: the key is not in known_hosts", addr)
		}
		return fmt.Errorf("ssh host key verification failed for %s: the presented key does not match known_hosts (%s:%d). This could indicate a man-in-the-middle attack",
			addr, keyErr.Want[0].Filename, keyErr.Want[0].Line)
	}
	if strings.Contains(err.Error(), "unable to authenticate") {
		return fmt.Errorf("ssh authentication failed for %s: none of the keys in ~/.ssh were accepted", addr)
	}
	return fmt.Errorf("ssh jump %s: %w", addr, err)
}

// parseJumpHost splits "[user@]host[:port]".
func parseJumpHost(target string) (user, host, port string, err error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", "", "", errors.New("ssh jump host is empty")
	}

	hostPort := target
	if i := strings.LastIndex(target, "@"); i >= 0 {
		user = target[:i]
		hostPort = target[i+1:]
	}
	if user == "" {
		user = defaultSSHUser()
	}

	host, port, err = splitHostPortWithDefault(hostPort, defaultSSHPort)
	if err != nil {
		return "", "", "", err
	}
	return user, host, port, nil
}

func splitHostPortWithDefault(hostPort, defaultPort string) (string, string, error) {
	hostPort = strings.TrimSpace(hostPort)
	if hostPort == "" {
		return "", "", errors.New("missing host in address")
	}

	host, port, err := net.SplitHostPort(hostPort)
	if err == nil {
		return host, port, nil
	}

	var addrErr *net.AddrError
	if errors.As(err, &addrErr) && strings.Contains(strings.ToLower(addrErr.Err), "missing port") {
		host = hostPort
		if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
			host = strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")
		}
		return host, defaultPort, nil
	}

	return "", "", err
}

func defaultSSHUser() string {
	if user := os.Getenv("IPK24CHAT_SSH_USER"); user != "" {
		return user
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	if user := os.Getenv("USERNAME"); user != "" {
		return user
	}
	return "anonymous"
}

func knownHostPaths() []string {
	if env := os.Getenv("SSH_KNOWN_HOSTS"); env != "" {
		var paths []string
		for _, p := range strings.Split(env, string(os.PathListSeparator)) {
			if p = strings.TrimSpace(p); p != "" {
				paths = append(paths, p)
			}
		}
		return paths
	}

	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return nil
	}
	return []string{filepath.Join(home, ".ssh", "known_hosts")}
}

func preferredKnownHostsPath(paths []string) string {
	if len(paths) > 0 {
		return paths[0]
	}
	return "~/.ssh/known_hosts"
}

// loadSSHAuthMethods loads unencrypted private keys from ~/.ssh
func loadSSHAuthMethods() ([]ssh.AuthMethod, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("cannot determine home directory: %w", err)
	}
	sshDir := filepath.Join(homeDir, ".ssh")

	keyFiles := []string{
		"id_ed25519",
		"id_ecdsa",
		"id_rsa",
	}

	var signers []ssh.Signer
	for _, keyFile := range keyFiles {
		keyBytes, err := os.ReadFile(filepath.Join(sshDir, keyFile))
		if err != nil {
			continue
		}
		// Encrypted keys are skipped; there is no terminal to prompt on.
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			continue
		}
		signers = append(signers, signer)
	}

	if len(signers) == 0 {
		return nil, nil
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signers...)}, nil
}

// sshForwardedConn closes the SSH client together with the forwarded channel.
type sshForwardedConn struct {
	net.Conn
	client *ssh.Client
	once   sync.Once
}

func (c *sshForwardedConn) Close() error {
	var err error
	c.once.Do(func() {
		err = c.Conn.Close()
		if cerr := c.client.Close(); err == nil && cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	})
	return err
}
