package executor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mensylisir/xmbench/cache"
	"github.com/mensylisir/xmbench/connector"
	"github.com/mensylisir/xmbench/errdefs"
	"github.com/mensylisir/xmbench/logger"
	"github.com/mensylisir/xmbench/pathmap"
)

// RequiredTools are probed with `which` on remote targets.
var RequiredTools = []string{"fio", "nvme", "iostat", "python3", "bc"}

// interpreterProbe checks that the result parsers can import their dependencies.
const (
	interpreterProbeName = "python3:pandas"
	interpreterProbe     = "import pandas"
)

const (
	pingTimeout   = 5 * time.Second
	signalTimeout = 30 * time.Second
	dependencyTTL = 5 * time.Minute
)

// RemoteExecutor runs commands on a host reached over SSH. It owns at most one
// live connection, created on first use and replaced when a health check fails.
type RemoteExecutor struct {
	target Target
	dialer connector.Dialer
	paths  *pathmap.Translator
	log    *logrus.Entry
	deps   *cache.Cache[string, map[string]bool]

	mu   sync.Mutex
	conn connector.Connection
	priv Privilege
}

var _ Executor = (*RemoteExecutor)(nil)

func NewRemote(target Target, paths *pathmap.Translator, dialer connector.Dialer) *RemoteExecutor {
	return &RemoteExecutor{
		target: target,
		dialer: dialer,
		paths:  paths,
		log:    logger.Log.WithNode(target.Host),
		deps:   cache.NewCache[string, map[string]bool](dependencyTTL),
	}
}

// session returns the live connection and its privilege, dialing and
// resolving privilege when there is none or the current one is unhealthy.
func (r *RemoteExecutor) session(ctx context.Context) (connector.Connection, Privilege, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := r.conn.Ping(pingCtx)
		cancel()
		if err == nil {
			return r.conn, r.priv, nil
		}
		r.log.Warnf("ssh session health check failed, reconnecting: %v", err)
		_ = r.conn.Close()
		r.conn = nil
	}

	conn, err := r.dialer.Dial(r.target.sshConfig())
	if err != nil {
		return nil, Privilege{}, errdefs.Wrap(err, errdefs.KindConnection, "connect",
			fmt.Sprintf("could not reach %s@%s", r.target.User, r.target.Host))
	}
	priv, err := resolvePrivilege(ctx, conn, r.target.Password)
	if err != nil {
		_ = conn.Close()
		return nil, Privilege{}, err
	}
	r.log.Infof("ssh session established as %s, privilege: %s", r.target.User, priv)
	r.conn = conn
	r.priv = priv
	return conn, priv, nil
}

// discard drops conn if it is still the current connection.
func (r *RemoteExecutor) discard(conn connector.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == conn {
		_ = r.conn.Close()
		r.conn = nil
	}
}

// Privilege reports the resolved privilege of the current session,
// establishing one if needed.
func (r *RemoteExecutor) Privilege(ctx context.Context) (Privilege, error) {
	_, priv, err := r.session(ctx)
	return priv, err
}

func (r *RemoteExecutor) line(priv Privilege, argv []string, o execOptions, spawn bool) (string, io.Reader, error) {
	cl := commandLine{
		echoPID:   spawn,
		env:       o.env,
		dir:       r.paths.ToRemote(o.dir),
		elevation: priv.prefix(),
		argv:      argv,
	}
	s, err := cl.build()
	if err != nil {
		return "", nil, errdefs.Wrap(err, errdefs.KindConfiguration, "buildCommand", "invalid command")
	}
	var stdin io.Reader
	if priv.NeedsCredential {
		stdin = credentialInput(r.target.Password)
	}
	return s, stdin, nil
}

func (r *RemoteExecutor) Run(ctx context.Context, argv []string, opts ...Option) (*Result, error) {
	conn, priv, err := r.session(ctx)
	if err != nil {
		return nil, err
	}
	line, stdin, err := r.line(priv, argv, buildOptions(opts), false)
	if err != nil {
		return nil, err
	}
	stdout, stderr, code, err := conn.Exec(ctx, line, stdin)
	if err != nil {
		if ctx.Err() == nil {
			r.discard(conn)
		}
		return nil, errdefs.Wrap(err, errdefs.KindConnection, "run", fmt.Sprintf("failed to run %s", argv[0]))
	}
	return &Result{ExitCode: code, Stdout: string(stdout), Stderr: string(stderr)}, nil
}

func (r *RemoteExecutor) Spawn(ctx context.Context, argv []string, opts ...Option) (ProcessHandle, error) {
	conn, priv, err := r.session(ctx)
	if err != nil {
		return nil, err
	}
	line, stdin, err := r.line(priv, argv, buildOptions(opts), true)
	if err != nil {
		return nil, err
	}
	stream, err := conn.Start(ctx, line, stdin)
	if err != nil {
		r.discard(conn)
		return nil, errdefs.Wrap(err, errdefs.KindConnection, "spawn", fmt.Sprintf("failed to start %s", argv[0]))
	}
	p := newRemoteProcess(r, stream)
	if pid, ok := p.PID(); ok {
		r.log.Debugf("spawned %v as remote pid %d", argv, pid)
	}
	return p, nil
}

func (r *RemoteExecutor) Signal(ctx context.Context, pid int, sig syscall.Signal) error {
	name := unixSignalName(sig)
	res, err := r.Run(ctx, []string{"kill", "-" + name, "--", strconv.Itoa(pid)})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 && !strings.Contains(res.Stderr, "No such process") {
		return errors.Errorf("kill -%s %d exited with code %d: %s", name, pid, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

func unixSignalName(sig syscall.Signal) string {
	switch sig {
	case syscall.SIGTERM:
		return "TERM"
	case syscall.SIGKILL:
		return "KILL"
	case syscall.SIGINT:
		return "INT"
	case syscall.SIGHUP:
		return "HUP"
	default:
		return strconv.Itoa(int(sig))
	}
}

func (r *RemoteExecutor) CheckDependencies(ctx context.Context) (map[string]bool, error) {
	if cached, ok := r.deps.Get(r.target.Host); ok {
		return cached, nil
	}
	found := make(map[string]bool, len(RequiredTools)+1)
	for _, tool := range RequiredTools {
		res, err := r.Run(ctx, []string{"which", tool})
		if err != nil {
			return nil, err
		}
		found[tool] = res.ExitCode == 0
	}
	res, err := r.Run(ctx, []string{"python3", "-c", interpreterProbe})
	if err != nil {
		return nil, err
	}
	found[interpreterProbeName] = res.ExitCode == 0

	r.deps.Set(r.target.Host, found)
	return found, nil
}

func (r *RemoteExecutor) runChecked(ctx context.Context, argv ...string) error {
	res, err := r.Run(ctx, argv)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return errors.Errorf("%s exited with code %d: %s", strings.Join(argv, " "), res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

func (r *RemoteExecutor) SyncToRemote(ctx context.Context, localPath string) (string, error) {
	remote, mapped := r.paths.Translate(localPath)
	if !mapped {
		return "", errdefs.Newf(errdefs.KindSync, "syncToRemote",
			"%s is outside %s and has no place under the remote staging root", localPath, r.paths.LocalBase())
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return "", errdefs.Wrap(err, errdefs.KindSync, "syncToRemote", "local path is not readable")
	}
	if remote == "" || path.Clean(remote) == "/" {
		return "", errdefs.Newf(errdefs.KindSync, "syncToRemote", "refusing to replace remote path %q", remote)
	}

	conn, priv, err := r.session(ctx)
	if err != nil {
		return "", err
	}

	dir := remote
	if info.IsDir() {
		if err := r.runChecked(ctx, "rm", "-rf", remote); err != nil {
			return "", errdefs.Wrap(err, errdefs.KindSync, "syncToRemote", "failed to clear remote directory")
		}
	} else {
		dir = path.Dir(remote)
	}
	if err := r.runChecked(ctx, "mkdir", "-p", dir); err != nil {
		return "", errdefs.Wrap(err, errdefs.KindSync, "syncToRemote", "failed to create remote directory")
	}
	if !priv.IsRoot {
		// sftp writes as the login user, not through sudo.
		if err := r.runChecked(ctx, "chown", "-R", r.target.User, dir); err != nil {
			return "", errdefs.Wrap(err, errdefs.KindSync, "syncToRemote", "failed to hand remote directory to login user")
		}
	}

	if err := conn.Upload(ctx, localPath, remote); err != nil {
		return "", errdefs.Wrap(err, errdefs.KindSync, "syncToRemote", fmt.Sprintf("upload of %s failed", localPath))
	}
	r.log.Debugf("synced %s to %s", localPath, remote)
	return remote, nil
}

func (r *RemoteExecutor) SyncFromRemote(ctx context.Context, localPath string) error {
	remote, mapped := r.paths.Translate(localPath)
	if !mapped {
		return errdefs.Newf(errdefs.KindSync, "syncFromRemote",
			"%s is outside %s and has no place under the remote staging root", localPath, r.paths.LocalBase())
	}
	res, err := r.Run(ctx, []string{"ls", "-d", remote})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		r.log.Debugf("remote path %s does not exist, nothing to sync back", remote)
		return nil
	}

	conn, priv, err := r.session(ctx)
	if err != nil {
		return err
	}
	if !priv.IsRoot {
		if res, err := r.Run(ctx, []string{"chmod", "-R", "a+rX", remote}); err != nil || res.ExitCode != 0 {
			r.log.Warnf("could not relax permissions on %s before download", remote)
		}
	}
	if err := conn.Download(ctx, remote, localPath); err != nil {
		return errdefs.Wrap(err, errdefs.KindSync, "syncFromRemote", fmt.Sprintf("download of %s failed", remote))
	}
	r.log.Debugf("synced %s back to %s", remote, localPath)
	return nil
}

func (r *RemoteExecutor) FindProcess(ctx context.Context, name string) ([]int, error) {
	return findProcess(ctx, r, name)
}

func (r *RemoteExecutor) Paths() *pathmap.Translator { return r.paths }

func (r *RemoteExecutor) IsRemote() bool { return true }

func (r *RemoteExecutor) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}

// remoteProcess is a command started over SSH. Its pid comes from the
// `echo $$` clause that precedes exec on the remote side.
type remoteProcess struct {
	exec   *RemoteExecutor
	stream connector.Stream
	out    io.Reader
	pid    int
	hasPID bool
	done   chan struct{}

	exitCode int
	err      error
}

func newRemoteProcess(r *RemoteExecutor, stream connector.Stream) *remoteProcess {
	p := &remoteProcess{exec: r, stream: stream, done: make(chan struct{})}

	br := bufio.NewReader(stream.Output())
	first, readErr := br.ReadString('\n')
	if pid, err := strconv.Atoi(strings.TrimSpace(first)); err == nil && pid > 0 {
		p.pid, p.hasPID = pid, true
		p.out = br
	} else {
		r.log.Warnf("could not read remote pid from %q, the process cannot be signalled", strings.TrimSpace(first))
		p.out = io.MultiReader(strings.NewReader(first), br)
	}
	if readErr != nil && readErr != io.EOF {
		r.log.Warnf("reading remote pid: %v", readErr)
	}

	go func() {
		p.exitCode, p.err = stream.Wait()
		close(p.done)
	}()
	return p
}

func (p *remoteProcess) PID() (int, bool) { return p.pid, p.hasPID }

func (p *remoteProcess) Output() io.Reader { return p.out }

func (p *remoteProcess) Poll() (int, bool) {
	select {
	case <-p.done:
		return p.exitCode, true
	default:
		return 0, false
	}
}

func (p *remoteProcess) Wait() (int, error) {
	<-p.done
	return p.exitCode, p.err
}

func (p *remoteProcess) signalGroup(sig syscall.Signal) error {
	if !p.hasPID {
		p.exec.log.Warnf("remote pid unknown, cannot send %s", unixSignalName(sig))
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), signalTimeout)
	defer cancel()
	return p.exec.Signal(ctx, -p.pid, sig)
}

func (p *remoteProcess) Terminate() error { return p.signalGroup(syscall.SIGTERM) }

func (p *remoteProcess) Kill() error { return p.signalGroup(syscall.SIGKILL) }

func (p *remoteProcess) Close() error { return p.stream.Close() }
