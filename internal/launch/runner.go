// Package launch starts worker processes locally or over SSH.
package launch

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/danmuck/lifegrid/internal/config"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

func joinCommand(cmd string, args []string) string {
	if len(args) == 0 {
		return shellEscape(cmd)
	}
	var b strings.Builder
	b.WriteString(shellEscape(cmd))
	for _, arg := range args {
		b.WriteByte(' ')
		b.WriteString(shellEscape(arg))
	}
	return b.String()
}

func shellEscape(value string) string {
	if value == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}

// Runner runs one command to completion. Cancelling ctx stops it.
type Runner interface {
	Run(ctx context.Context, cmd string, args []string, stdout, stderr io.Writer) error
}

type LocalRunner struct{}

func (LocalRunner) Run(ctx context.Context, cmd string, args []string, stdout, stderr io.Writer) error {
	command := exec.CommandContext(ctx, cmd, args...)
	command.Stdout = stdout
	command.Stderr = stderr
	return command.Run()
}

type SSHRunner struct {
	Host                        string
	Port                        string
	User                        string
	KeyPath                     string
	KnownHostsPath              string
	InsecureSkipHostKeyChecking bool
	Timeout                     time.Duration
}

func (r SSHRunner) Run(ctx context.Context, cmd string, args []string, stdout, stderr io.Writer) error {
	client, err := r.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()
	session.Stdout = stdout
	session.Stderr = stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(joinCommand(cmd, args)) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		client.Close()
		<-done
		return ctx.Err()
	}
}

func (r SSHRunner) dial(ctx context.Context) (*ssh.Client, error) {
	address, err := r.address()
	if err != nil {
		return nil, err
	}
	cfg, err := r.clientConfig()
	if err != nil {
		return nil, err
	}
	d := net.Dialer{Timeout: r.Timeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, address, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(clientConn, chans, reqs), nil
}

func (r SSHRunner) address() (string, error) {
	host := strings.TrimSpace(r.Host)
	if host == "" {
		return "", fmt.Errorf("ssh host is required")
	}
	if r.Port != "" {
		return net.JoinHostPort(host, r.Port), nil
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, nil
	}
	return net.JoinHostPort(host, "22"), nil
}

func (r SSHRunner) clientConfig() (*ssh.ClientConfig, error) {
	if r.User == "" {
		return nil, fmt.Errorf("ssh user is required")
	}
	signer, err := r.signer()
	if err != nil {
		return nil, err
	}

	var hostKeyCallback ssh.HostKeyCallback
	if r.InsecureSkipHostKeyChecking {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		path, err := expandHome(r.KnownHostsPath, filepath.Join(".ssh", "known_hosts"))
		if err != nil {
			return nil, err
		}
		if hostKeyCallback, err = knownhosts.New(path); err != nil {
			return nil, err
		}
	}
	return &ssh.ClientConfig{
		User:            r.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         r.Timeout,
	}, nil
}

func (r SSHRunner) signer() (ssh.Signer, error) {
	if strings.TrimSpace(r.KeyPath) == "" {
		return nil, fmt.Errorf("ssh key path is required")
	}
	path, err := expandHome(r.KeyPath, "")
	if err != nil {
		return nil, err
	}
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(key)
}

// expandHome resolves a leading "~/" and falls back to fallback under the
// home directory when path is empty.
func expandHome(path, fallback string) (string, error) {
	path = strings.TrimSpace(path)
	if path != "" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir unavailable for %q: %w", path, err)
	}
	if path == "" {
		return filepath.Join(home, fallback), nil
	}
	return filepath.Join(home, path[2:]), nil
}

// ForTarget picks the runner a launch target needs.
func ForTarget(t config.LaunchTarget, timeout time.Duration) Runner {
	if strings.TrimSpace(t.Host) == "" {
		return LocalRunner{}
	}
	return SSHRunner{
		Host:                        t.Host,
		Port:                        t.Port,
		User:                        t.User,
		KeyPath:                     t.KeyPath,
		KnownHostsPath:              t.KnownHostsPath,
		InsecureSkipHostKeyChecking: t.InsecureSkipHostKeyChecking,
		Timeout:                     timeout,
	}
}
