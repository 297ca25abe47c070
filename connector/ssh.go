package connector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/mensylisir/xmbench/common"
	"github.com/mensylisir/xmbench/logger"
	"github.com/mensylisir/xmbench/util"
)

type Config struct {
	Username    string
	Password    string
	Address     string
	Port        int
	PrivateKey  string
	KeyFile     string
	AgentSocket string
	Timeout     time.Duration
	Bastion     string
	BastionPort int
	BastionUser string
}

const socketEnvPrefix = "env:"

var _ Connection = (*connection)(nil)

type connection struct {
	id         string
	mu         sync.Mutex
	sftpclient *sftp.Client
	sshclient  *ssh.Client
	config     Config

	connCtx    context.Context
	connCancel context.CancelFunc

	agentSocketConn net.Conn
}

func NewConnection(cfg Config) (Connection, error) {
	var err error
	cfg, err = validateConfig(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to validate ssh connection parameters")
	}

	authMethods := make([]ssh.AuthMethod, 0)
	conn := &connection{config: cfg, id: uuid.NewString()}

	if len(cfg.Password) > 0 {
		authMethods = append(authMethods, ssh.Password(cfg.Password))
	}

	if len(cfg.PrivateKey) > 0 {
		signer, parseErr := ssh.ParsePrivateKey([]byte(cfg.PrivateKey))
		if parseErr != nil {
			return nil, errors.Wrap(parseErr, "the given SSH key could not be parsed")
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}

	if len(cfg.AgentSocket) > 0 {
		addr := cfg.AgentSocket
		if strings.HasPrefix(cfg.AgentSocket, socketEnvPrefix) {
			envName := strings.TrimPrefix(cfg.AgentSocket, socketEnvPrefix)
			if envAddr := os.Getenv(envName); len(envAddr) > 0 {
				addr = envAddr
			} else {
				logger.Log.Warnf("SSH agent environment variable %s not found, using %s", envName, addr)
			}
		}

		var dialErr error
		conn.agentSocketConn, dialErr = net.Dial("unix", addr)
		if dialErr != nil {
			return nil, errors.Wrapf(dialErr, "could not open SSH agent socket %q", addr)
		}

		signers, signersErr := agent.NewClient(conn.agentSocketConn).Signers()
		if signersErr != nil {
			conn.cleanupAgentSocket()
			return nil, errors.Wrap(signersErr, "error when creating signer for SSH agent")
		}
		authMethods = append(authMethods, ssh.PublicKeys(signers...))
	}

	clientConfig := func(user string) *ssh.ClientConfig {
		return &ssh.ClientConfig{
			User:            user,
			Timeout:         cfg.Timeout,
			Auth:            authMethods,
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		}
	}

	endpoint := net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port))
	firstHop, firstUser := endpoint, cfg.Username
	if cfg.Bastion != "" {
		firstHop = net.JoinHostPort(cfg.Bastion, strconv.Itoa(cfg.BastionPort))
		firstUser = cfg.BastionUser
	}

	client, err := ssh.Dial("tcp", firstHop, clientConfig(firstUser))
	if err != nil {
		conn.cleanupAgentSocket()
		return nil, errors.Wrapf(err, "could not establish connection to %s", firstHop)
	}

	if cfg.Bastion != "" {
		connToTarget, dialErr := client.Dial("tcp", endpoint)
		if dialErr != nil {
			_ = client.Close()
			conn.cleanupAgentSocket()
			return nil, errors.Wrapf(dialErr, "could not establish connection to target %s via bastion", endpoint)
		}
		ncc, chans, reqs, clientConnErr := ssh.NewClientConn(connToTarget, endpoint, clientConfig(cfg.Username))
		if clientConnErr != nil {
			_ = connToTarget.Close()
			_ = client.Close()
			conn.cleanupAgentSocket()
			return nil, errors.Wrapf(clientConnErr, "failed to create SSH client connection to %s via bastion", endpoint)
		}
		client = ssh.NewClient(ncc, chans, reqs)
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		_ = client.Close()
		conn.cleanupAgentSocket()
		return nil, errors.Wrap(err, "failed to create SFTP client")
	}

	conn.sshclient = client
	conn.sftpclient = sftpClient
	conn.connCtx, conn.connCancel = context.WithCancel(context.Background())

	logger.Log.WithNode(cfg.Address).Debugf("ssh connection %s established as %s", conn.id, cfg.Username)
	return conn, nil
}

func (c *connection) cleanupAgentSocket() {
	if c.agentSocketConn != nil {
		_ = c.agentSocketConn.Close()
		c.agentSocketConn = nil
	}
}

func validateConfig(cfg Config) (Config, error) {
	if len(cfg.Username) == 0 {
		return cfg, errors.New("no username specified for SSH connection")
	}
	if len(cfg.Address) == 0 {
		return cfg, errors.New("no address specified for SSH connection")
	}
	if len(cfg.Password) == 0 && len(cfg.PrivateKey) == 0 && len(cfg.KeyFile) == 0 && len(cfg.AgentSocket) == 0 {
		return cfg, errors.New("must specify at least one of password, private key, keyfile or agent socket")
	}

	if len(cfg.PrivateKey) == 0 && len(cfg.KeyFile) > 0 {
		keyFile, err := util.ExpandHome(cfg.KeyFile)
		if err != nil {
			return cfg, errors.Wrapf(err, "failed to resolve keyfile %q", cfg.KeyFile)
		}
		content, err := os.ReadFile(keyFile)
		if err != nil {
			return cfg, errors.Wrapf(err, "failed to read keyfile %q", cfg.KeyFile)
		}
		cfg.PrivateKey = string(content)
	}

	if cfg.Port <= 0 {
		cfg.Port = common.DefaultSSHPort
	}
	if cfg.Bastion != "" {
		if cfg.BastionPort <= 0 {
			cfg.BastionPort = common.DefaultSSHPort
		}
		if cfg.BastionUser == "" {
			cfg.BastionUser = cfg.Username
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = common.DefaultSSHTimeout
	}
	return cfg, nil
}

func (c *connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sshclient == nil && c.sftpclient == nil && c.agentSocketConn == nil {
		return nil
	}
	if c.connCancel != nil {
		c.connCancel()
	}

	var msgs []string
	if c.sftpclient != nil {
		if err := c.sftpclient.Close(); err != nil {
			msgs = append(msgs, fmt.Sprintf("sftp close error: %v", err))
		}
		c.sftpclient = nil
	}
	if c.sshclient != nil {
		if err := c.sshclient.Close(); err != nil {
			msgs = append(msgs, fmt.Sprintf("ssh close error: %v", err))
		}
		c.sshclient = nil
	}
	if c.agentSocketConn != nil {
		if err := c.agentSocketConn.Close(); err != nil {
			msgs = append(msgs, fmt.Sprintf("agent socket close error: %v", err))
		}
		c.agentSocketConn = nil
	}
	if len(msgs) > 0 {
		return errors.New(strings.Join(msgs, "; "))
	}
	return nil
}

func (c *connection) clients() (*ssh.Client, *sftp.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sshclient, c.sftpclient
}

func (c *connection) newSession(ctx context.Context) (*ssh.Session, error) {
	client, _ := c.clients()
	if client == nil {
		return nil, errors.New("ssh connection is closed or not initialized")
	}

	opCtx, opCancel := context.WithCancel(ctx)
	defer opCancel()
	go func() {
		select {
		case <-c.connCtx.Done():
			opCancel()
		case <-opCtx.Done():
		}
	}()

	type result struct {
		sess *ssh.Session
		err  error
	}
	done := make(chan result, 1)
	go func() {
		s, err := client.NewSession()
		done <- result{s, err}
	}()

	select {
	case <-opCtx.Done():
		go func() {
			if r := <-done; r.sess != nil {
				_ = r.sess.Close()
			}
		}()
		return nil, errors.Wrap(opCtx.Err(), "failed to create ssh session (context cancelled)")
	case r := <-done:
		if r.err != nil {
			return nil, errors.Wrap(r.err, "failed to create ssh session")
		}
		return r.sess, nil
	}
}

// exitStatus converts the error returned by ssh.Session.Wait.
func exitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}
	return -1, err
}

func (c *connection) Exec(ctx context.Context, cmd string, stdin io.Reader) ([]byte, []byte, int, error) {
	sess, err := c.newSession(ctx)
	if err != nil {
		return nil, nil, -1, errors.Wrap(err, "failed to create session for Exec")
	}
	defer sess.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	sess.Stdout = &stdoutBuf
	sess.Stderr = &stderrBuf
	if stdin != nil {
		sess.Stdin = stdin
	}

	if err := sess.Start(cmd); err != nil {
		return nil, nil, -1, errors.Wrapf(err, "failed to start command: %s", cmd)
	}

	waitDone := make(chan error, 1)
	go func() {
		waitDone <- sess.Wait()
	}()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGINT)
		select {
		case <-time.After(250 * time.Millisecond):
		case <-waitDone:
		}
		_ = sess.Close()
		return stdoutBuf.Bytes(), stderrBuf.Bytes(), -1, errors.Wrap(ctx.Err(), "command execution cancelled")
	case werr := <-waitDone:
		code, err := exitStatus(werr)
		if err != nil {
			return stdoutBuf.Bytes(), stderrBuf.Bytes(), code, errors.Wrapf(err, "command did not report an exit status: %s", cmd)
		}
		return stdoutBuf.Bytes(), stderrBuf.Bytes(), code, nil
	}
}

type sessionStream struct {
	sess *ssh.Session
	out  *io.PipeReader
	done chan struct{}

	exitCode int
	err      error
}

func (c *connection) Start(ctx context.Context, cmd string, stdin io.Reader) (Stream, error) {
	sess, err := c.newSession(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create session for Start")
	}

	pr, pw := io.Pipe()
	sess.Stdout = pw
	sess.Stderr = pw
	if stdin != nil {
		sess.Stdin = stdin
	}
	if err := sess.Start(cmd); err != nil {
		_ = sess.Close()
		_ = pw.Close()
		return nil, errors.Wrapf(err, "failed to start command: %s", cmd)
	}

	s := &sessionStream{sess: sess, out: pr, done: make(chan struct{})}
	go func() {
		s.exitCode, s.err = exitStatus(sess.Wait())
		_ = pw.Close()
		_ = sess.Close()
		close(s.done)
	}()
	return s, nil
}

func (s *sessionStream) Output() io.Reader { return s.out }

func (s *sessionStream) Wait() (int, error) {
	<-s.done
	return s.exitCode, s.err
}

func (s *sessionStream) Close() error {
	_ = s.out.Close()
	return s.sess.Close()
}

func (c *connection) Ping(ctx context.Context) error {
	client, _ := c.clients()
	if client == nil {
		return errors.New("ssh connection is closed")
	}
	done := make(chan error, 1)
	go func() {
		_, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
		done <- err
	}()
	select {
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "keepalive cancelled")
	case err := <-done:
		return errors.Wrap(err, "keepalive failed")
	}
}

func (c *connection) Upload(ctx context.Context, localPath, remotePath string) error {
	_, sftpClient := c.clients()
	if sftpClient == nil {
		return errors.New("sftp client not available for upload")
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return errors.Wrapf(err, "failed to stat local path %s", localPath)
	}
	if !info.IsDir() {
		if err := sftpClient.MkdirAll(path.Dir(remotePath)); err != nil {
			return errors.Wrapf(err, "failed to create remote directory %s", path.Dir(remotePath))
		}
		return copyToRemote(sftpClient, localPath, remotePath, info.Mode())
	}
	return c.uploadDir(ctx, sftpClient, localPath, remotePath, info.Mode())
}

func (c *connection) uploadDir(ctx context.Context, client *sftp.Client, localDir, remoteDir string, mode os.FileMode) error {
	if err := client.MkdirAll(remoteDir); err != nil {
		return errors.Wrapf(err, "failed to create remote directory %s", remoteDir)
	}
	if err := client.Chmod(remoteDir, mode.Perm()); err != nil {
		logger.Log.Debugf("failed to chmod remote directory %s: %v", remoteDir, err)
	}

	entries, err := os.ReadDir(localDir)
	if err != nil {
		return errors.Wrapf(err, "failed to read local directory %s", localDir)
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		local := filepath.Join(localDir, entry.Name())
		remote := path.Join(remoteDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			return errors.Wrapf(err, "failed to stat %s", local)
		}
		if entry.IsDir() {
			err = c.uploadDir(ctx, client, local, remote, info.Mode())
		} else if info.Mode().IsRegular() {
			err = copyToRemote(client, local, remote, info.Mode())
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func copyToRemote(client *sftp.Client, localPath, remotePath string, mode os.FileMode) error {
	src, err := os.Open(localPath)
	if err != nil {
		return errors.Wrapf(err, "failed to open local file %s", localPath)
	}
	defer src.Close()

	dst, err := client.Create(remotePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create remote file %s via sftp", remotePath)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return errors.Wrapf(err, "sftp copy from %s to %s failed", localPath, remotePath)
	}
	if err := dst.Chmod(mode.Perm()); err != nil {
		logger.Log.Warnf("failed to chmod remote file %s: %v", remotePath, err)
	}
	return nil
}

func (c *connection) Download(ctx context.Context, remotePath, localPath string) error {
	_, sftpClient := c.clients()
	if sftpClient == nil {
		return errors.New("sftp client not available for download")
	}

	remotePath = path.Clean(remotePath)
	walker := sftpClient.Walk(remotePath)
	for walker.Step() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := walker.Err(); err != nil {
			return errors.Wrapf(err, "failed to walk remote path %s", walker.Path())
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(walker.Path(), remotePath), "/")
		target := filepath.Join(localPath, filepath.FromSlash(rel))
		info := walker.Stat()

		if info.IsDir() {
			if err := os.MkdirAll(target, common.FileMode0755); err != nil {
				return errors.Wrapf(err, "failed to create local directory %s", target)
			}
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		if err := copyFromRemote(sftpClient, walker.Path(), target, info.Mode()); err != nil {
			return err
		}
	}
	return nil
}

func copyFromRemote(client *sftp.Client, remotePath, localPath string, mode os.FileMode) error {
	src, err := client.Open(remotePath)
	if err != nil {
		return errors.Wrapf(err, "sftp: failed to open remote file %s", remotePath)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), common.FileMode0755); err != nil {
		return errors.Wrapf(err, "failed to create local directory for %s", localPath)
	}
	dst, err := os.OpenFile(localPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm()|0600)
	if err != nil {
		return errors.Wrapf(err, "failed to create local file %s", localPath)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return errors.Wrapf(err, "sftp copy from %s to %s failed", remotePath, localPath)
	}
	return dst.Close()
}
