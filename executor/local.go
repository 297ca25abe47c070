package executor

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mensylisir/xmbench/logger"
	"github.com/mensylisir/xmbench/pathmap"
)

// LocalExecutor runs commands on the supervisor host itself.
type LocalExecutor struct {
	paths *pathmap.Translator
	log   *logrus.Entry
}

var _ Executor = (*LocalExecutor)(nil)

func NewLocal(paths *pathmap.Translator) *LocalExecutor {
	if paths == nil {
		paths = pathmap.Identity(".")
	}
	return &LocalExecutor{paths: paths, log: logger.Log.WithNode("")}
}

func (l *LocalExecutor) command(ctx context.Context, argv []string, o execOptions) (*exec.Cmd, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = o.dir
	if len(o.env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range o.env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	return cmd, nil
}

func (l *LocalExecutor) Run(ctx context.Context, argv []string, opts ...Option) (*Result, error) {
	cmd, err := l.command(ctx, argv, buildOptions(opts))
	if err != nil {
		return nil, err
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	res := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return res, errors.Wrapf(err, "failed to run %s", argv[0])
		}
		res.ExitCode = exitCodeOf(exitErr.ProcessState)
	}
	return res, nil
}

func (l *LocalExecutor) Spawn(_ context.Context, argv []string, opts ...Option) (ProcessHandle, error) {
	// The process must outlive the request that started it, so it is not
	// bound to the caller's context.
	cmd, err := l.command(context.Background(), argv, buildOptions(opts))
	if err != nil {
		return nil, err
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create output pipe")
	}
	cmd.Stdout = pw
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, errors.Wrapf(err, "failed to start %s", argv[0])
	}
	// Only the child holds the write end now; EOF arrives when it and every
	// descendant sharing the pipe have exited.
	pw.Close()

	p := &localProcess{cmd: cmd, out: pr, done: make(chan struct{}), log: l.log}
	go p.reap()
	l.log.Debugf("spawned %v as pid %d", argv, cmd.Process.Pid)
	return p, nil
}

func (l *LocalExecutor) Signal(_ context.Context, pid int, sig syscall.Signal) error {
	if err := syscall.Kill(pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return errors.Wrapf(err, "failed to send %s to %d", sig, pid)
	}
	return nil
}

func (l *LocalExecutor) CheckDependencies(context.Context) (map[string]bool, error) {
	return map[string]bool{}, nil
}

func (l *LocalExecutor) SyncToRemote(_ context.Context, localPath string) (string, error) {
	return localPath, nil
}

func (l *LocalExecutor) SyncFromRemote(context.Context, string) error {
	return nil
}

func (l *LocalExecutor) FindProcess(ctx context.Context, name string) ([]int, error) {
	return findProcess(ctx, l, name)
}

func (l *LocalExecutor) Paths() *pathmap.Translator { return l.paths }

func (l *LocalExecutor) IsRemote() bool { return false }

func (l *LocalExecutor) Close() error { return nil }

func exitCodeOf(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	if status, ok := state.Sys().(syscall.WaitStatus); ok {
		if status.Signaled() {
			return 128 + int(status.Signal())
		}
		return status.ExitStatus()
	}
	return state.ExitCode()
}

type localProcess struct {
	cmd  *exec.Cmd
	out  *os.File
	done chan struct{}
	log  *logrus.Entry

	exitCode int
	err      error
}

func (p *localProcess) reap() {
	err := p.cmd.Wait()
	p.exitCode = exitCodeOf(p.cmd.ProcessState)
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		p.err = err
	}
	close(p.done)
}

func (p *localProcess) PID() (int, bool) { return p.cmd.Process.Pid, true }

func (p *localProcess) Output() io.Reader { return p.out }

func (p *localProcess) Poll() (int, bool) {
	select {
	case <-p.done:
		return p.exitCode, true
	default:
		return 0, false
	}
}

func (p *localProcess) Wait() (int, error) {
	<-p.done
	return p.exitCode, p.err
}

func (p *localProcess) signalGroup(sig syscall.Signal) error {
	if err := syscall.Kill(-p.cmd.Process.Pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return errors.Wrapf(err, "failed to send %s to process group %d", sig, p.cmd.Process.Pid)
	}
	return nil
}

func (p *localProcess) Terminate() error { return p.signalGroup(syscall.SIGTERM) }

func (p *localProcess) Kill() error { return p.signalGroup(syscall.SIGKILL) }

func (p *localProcess) Close() error { return p.out.Close() }
