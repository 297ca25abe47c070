package executor

import (
	"context"
	"io"
	"syscall"

	"github.com/mensylisir/xmbench/pathmap"
)

// Result of a command run to completion.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Executor runs commands on the device under test, which is either the local
// machine or a remote host reached over SSH. Both variants have the same shape.
type Executor interface {
	// Run executes argv to completion. A nonzero exit status is not an error.
	Run(ctx context.Context, argv []string, opts ...Option) (*Result, error)

	// Spawn starts argv as a long-lived process with stdout and stderr
	// combined into the handle's output stream.
	Spawn(ctx context.Context, argv []string, opts ...Option) (ProcessHandle, error)

	// Signal delivers sig to pid. A negative pid addresses a process group.
	Signal(ctx context.Context, pid int, sig syscall.Signal) error

	// CheckDependencies reports which required external tools are present.
	// Local targets are provisioned by deployment and report an empty map.
	CheckDependencies(ctx context.Context) (map[string]bool, error)

	// SyncToRemote mirrors localPath to its translated remote path and returns
	// that path. Directories are recreated from scratch. No-op for local targets.
	SyncToRemote(ctx context.Context, localPath string) (string, error)

	// SyncFromRemote pulls the translated remote path of localPath back into
	// localPath. Absent remote paths are skipped. No-op for local targets.
	SyncFromRemote(ctx context.Context, localPath string) error

	// FindProcess returns the pids whose command line contains name.
	FindProcess(ctx context.Context, name string) ([]int, error)

	Paths() *pathmap.Translator
	IsRemote() bool
	Close() error
}

// ProcessHandle is a spawned process. Local and remote handles behave the
// same; signals go to the whole process group of the spawned command.
type ProcessHandle interface {
	// PID is the process group leader id, when known.
	PID() (int, bool)
	Output() io.Reader
	// Poll reports the exit code without blocking.
	Poll() (exitCode int, exited bool)
	Wait() (exitCode int, err error)
	Terminate() error
	Kill() error
	Close() error
}

type execOptions struct {
	dir string
	env map[string]string
}

// Option customizes Run and Spawn.
type Option func(*execOptions)

// WithDir sets the working directory. Remote executors translate it.
func WithDir(dir string) Option {
	return func(o *execOptions) { o.dir = dir }
}

// WithEnv adds environment variables for the command.
func WithEnv(env map[string]string) Option {
	return func(o *execOptions) {
		if o.env == nil {
			o.env = make(map[string]string, len(env))
		}
		for k, v := range env {
			o.env[k] = v
		}
	}
}

func buildOptions(opts []Option) execOptions {
	var o execOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
