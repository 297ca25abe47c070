package connector

import (
	"context"
	"io"
)

// Connection is an authenticated session to one remote host.
type Connection interface {
	// Exec runs cmd to completion. stdin may be nil. A nonzero exit status is
	// reported through exitCode, not err; err is reserved for transport failures.
	Exec(ctx context.Context, cmd string, stdin io.Reader) (stdout []byte, stderr []byte, exitCode int, err error)

	// Start launches cmd and returns its combined stdout/stderr stream. The
	// stream outlives ctx, which only bounds channel setup.
	Start(ctx context.Context, cmd string, stdin io.Reader) (Stream, error)

	// Upload copies a local file or directory tree to remotePath.
	Upload(ctx context.Context, localPath, remotePath string) error

	// Download copies a remote file or directory tree to localPath.
	Download(ctx context.Context, remotePath, localPath string) error

	// Ping checks that the underlying transport is still usable.
	Ping(ctx context.Context) error

	Close() error
}

// Stream is a command started with Connection.Start.
type Stream interface {
	// Output yields stdout and stderr interleaved. It reaches EOF after the
	// command exits and all buffered output has been read.
	Output() io.Reader
	// Wait blocks until the command exits. The output must be drained
	// concurrently, otherwise Wait may never return.
	Wait() (exitCode int, err error)
	Close() error
}

// Dialer creates connections.
type Dialer interface {
	Dial(cfg Config) (Connection, error)
}
