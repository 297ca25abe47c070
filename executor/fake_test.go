package executor

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/mensylisir/xmbench/connector"
)

type fakeReply struct {
	stdout string
	stderr string
	code   int
	err    error
}

type fakeCall struct {
	cmd   string
	stdin string
}

// fakeConn answers Exec by exact command match; unknown commands succeed.
type fakeConn struct {
	mu      sync.Mutex
	replies map[string]fakeReply
	calls   []fakeCall
	started []string
	output  string
	exit    int
	pingErr error
	closed  bool

	uploads   [][2]string
	downloads [][2]string
}

func newFakeConn(replies map[string]fakeReply) *fakeConn {
	if replies == nil {
		replies = map[string]fakeReply{}
	}
	return &fakeConn{replies: replies}
}

func readAll(r io.Reader) string {
	if r == nil {
		return ""
	}
	b, _ := io.ReadAll(r)
	return string(b)
}

func (f *fakeConn) Exec(_ context.Context, cmd string, stdin io.Reader) ([]byte, []byte, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fakeCall{cmd: cmd, stdin: readAll(stdin)})
	r := f.replies[cmd]
	return []byte(r.stdout), []byte(r.stderr), r.code, r.err
}

func (f *fakeConn) Start(_ context.Context, cmd string, _ io.Reader) (connector.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, cmd)
	return &fakeStream{out: strings.NewReader(f.output), exit: f.exit}, nil
}

func (f *fakeConn) Upload(_ context.Context, local, remote string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, [2]string{local, remote})
	return nil
}

func (f *fakeConn) Download(_ context.Context, remote, local string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads = append(f.downloads, [2]string{remote, local})
	return nil
}

func (f *fakeConn) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.cmd)
	}
	return out
}

func (f *fakeConn) stdinFor(cmd string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.cmd == cmd {
			return c.stdin
		}
	}
	return ""
}

type fakeStream struct {
	out  io.Reader
	exit int
}

func (s *fakeStream) Output() io.Reader { return s.out }
func (s *fakeStream) Wait() (int, error) { return s.exit, nil }
func (s *fakeStream) Close() error       { return nil }

// fakeDialer hands out the queued connections in order.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
}

func (d *fakeDialer) Dial(connector.Config) (connector.Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dials >= len(d.conns) {
		return nil, errors.New("connection refused")
	}
	c := d.conns[d.dials]
	d.dials++
	return c, nil
}
