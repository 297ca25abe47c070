package executor

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mensylisir/xmbench/errdefs"
	"github.com/mensylisir/xmbench/pathmap"
)

const (
	cmdID          = "id -u"
	cmdSudoNoPass  = "sudo -n true"
	cmdSudoWithPwd = "sudo -S -p '' true"
)

func remoteTarget(password string) Target {
	return Target{Remote: true, Host: "10.0.0.5", Port: 22, User: "bench", Password: password}
}

func newTestRemote(t *testing.T, base string, password string, conns ...*fakeConn) (*RemoteExecutor, *fakeDialer) {
	t.Helper()
	d := &fakeDialer{conns: conns}
	return NewRemote(remoteTarget(password), pathmap.New(base, "/opt/xmbench", true), d), d
}

func TestResolvePrivilege(t *testing.T) {
	tests := []struct {
		name       string
		replies    map[string]fakeReply
		credential string
		want       Privilege
		wantKind   errdefs.Kind
		notTried   []string
	}{
		{
			name:     "root skips elevation",
			replies:  map[string]fakeReply{cmdID: {stdout: "0\n"}},
			want:     Privilege{IsRoot: true},
			notTried: []string{cmdSudoNoPass, cmdSudoWithPwd},
		},
		{
			name: "passwordless sudo wins over credential",
			replies: map[string]fakeReply{
				cmdID:         {stdout: "1000\n"},
				cmdSudoNoPass: {code: 0},
			},
			credential: "secret",
			want:       Privilege{Elevated: true},
			notTried:   []string{cmdSudoWithPwd},
		},
		{
			name: "credentialed sudo",
			replies: map[string]fakeReply{
				cmdID:          {stdout: "1000\n"},
				cmdSudoNoPass:  {code: 1},
				cmdSudoWithPwd: {code: 0},
			},
			credential: "secret",
			want:       Privilege{Elevated: true, NeedsCredential: true},
		},
		{
			name: "no credential fails closed",
			replies: map[string]fakeReply{
				cmdID:         {stdout: "1000\n"},
				cmdSudoNoPass: {code: 1},
			},
			wantKind: errdefs.KindPermission,
			notTried: []string{cmdSudoWithPwd},
		},
		{
			name: "wrong credential fails closed",
			replies: map[string]fakeReply{
				cmdID:          {stdout: "1000\n"},
				cmdSudoNoPass:  {code: 1},
				cmdSudoWithPwd: {code: 1},
			},
			credential: "wrong",
			wantKind:   errdefs.KindPermission,
		},
		{
			name:     "transport failure",
			replies:  map[string]fakeReply{cmdID: {code: -1, err: errors.New("eof")}},
			wantKind: errdefs.KindConnection,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := newFakeConn(tt.replies)
			got, err := resolvePrivilege(context.Background(), conn, tt.credential)
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.True(t, errdefs.Is(err, tt.wantKind), "got %v", err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			for _, cmd := range tt.notTried {
				assert.NotContains(t, conn.commands(), cmd)
			}
		})
	}
}

func TestResolvePrivilegePipesCredential(t *testing.T) {
	conn := newFakeConn(map[string]fakeReply{
		cmdID:         {stdout: "1000"},
		cmdSudoNoPass: {code: 1},
	})
	_, err := resolvePrivilege(context.Background(), conn, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "s3cret\n", conn.stdinFor(cmdSudoWithPwd))
}

func TestRemoteRunAppliesElevationAndDir(t *testing.T) {
	base := t.TempDir()
	conn := newFakeConn(map[string]fakeReply{
		cmdID:         {stdout: "1000"},
		cmdSudoNoPass: {code: 1},
	})
	r, _ := newTestRemote(t, base, "pw", conn)

	res, err := r.Run(context.Background(), []string{"ls", "-la"}, WithDir(filepath.Join(base, "scripts")))
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)

	want := "cd /opt/xmbench/scripts && sudo -S -E -p '' ls -la"
	assert.Contains(t, conn.commands(), want)
	assert.Equal(t, "pw\n", conn.stdinFor(want))
}

func TestRemoteSessionReusedAndPrivilegeCached(t *testing.T) {
	conn := newFakeConn(map[string]fakeReply{cmdID: {stdout: "0"}})
	r, d := newTestRemote(t, t.TempDir(), "", conn)

	for i := 0; i < 3; i++ {
		_, err := r.Run(context.Background(), []string{"true"})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, d.dials)

	probes := 0
	for _, c := range conn.commands() {
		if c == cmdID {
			probes++
		}
	}
	assert.Equal(t, 1, probes)
}

func TestRemoteSessionRedialsAfterFailedPing(t *testing.T) {
	first := newFakeConn(map[string]fakeReply{cmdID: {stdout: "0"}})
	second := newFakeConn(map[string]fakeReply{cmdID: {stdout: "0"}})
	r, d := newTestRemote(t, t.TempDir(), "", first, second)

	_, err := r.Run(context.Background(), []string{"true"})
	require.NoError(t, err)

	first.pingErr = errors.New("broken pipe")
	_, err = r.Run(context.Background(), []string{"true"})
	require.NoError(t, err)

	assert.Equal(t, 2, d.dials)
	assert.True(t, first.closed)
	assert.Contains(t, second.commands(), "true")
}

func TestRemotePermissionFailureDiscardsSession(t *testing.T) {
	conn := newFakeConn(map[string]fakeReply{
		cmdID:         {stdout: "1000"},
		cmdSudoNoPass: {code: 1},
	})
	r, _ := newTestRemote(t, t.TempDir(), "", conn)

	_, err := r.Run(context.Background(), []string{"true"})
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindPermission))
	assert.True(t, conn.closed)
	assert.NotContains(t, conn.commands(), "true")
}

func TestRemoteConnectionRefused(t *testing.T) {
	r, _ := newTestRemote(t, t.TempDir(), "")
	_, err := r.Run(context.Background(), []string{"true"})
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindConnection))
}

func TestRemoteSpawnParsesPID(t *testing.T) {
	conn := newFakeConn(map[string]fakeReply{cmdID: {stdout: "0"}})
	conn.output = "4242\nhello\nSTATUS: TICK\n"
	conn.exit = 3
	r, _ := newTestRemote(t, t.TempDir(), "", conn)

	h, err := r.Spawn(context.Background(), []string{"bash", "bench.sh"})
	require.NoError(t, err)

	pid, ok := h.PID()
	assert.True(t, ok)
	assert.Equal(t, 4242, pid)

	out, err := io.ReadAll(h.Output())
	require.NoError(t, err)
	assert.Equal(t, "hello\nSTATUS: TICK\n", string(out))

	code, err := h.Wait()
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	code, exited := h.Poll()
	assert.True(t, exited)
	assert.Equal(t, 3, code)

	require.Len(t, conn.started, 1)
	assert.Equal(t, "echo $$ && exec bash bench.sh", conn.started[0])

	require.NoError(t, h.Terminate())
	assert.Contains(t, conn.commands(), "kill -TERM -- -4242")
}

func TestRemoteSpawnWithoutPID(t *testing.T) {
	conn := newFakeConn(map[string]fakeReply{cmdID: {stdout: "0"}})
	conn.output = "not-a-pid\nrest\n"
	r, _ := newTestRemote(t, t.TempDir(), "", conn)

	h, err := r.Spawn(context.Background(), []string{"bash", "bench.sh"})
	require.NoError(t, err)

	_, ok := h.PID()
	assert.False(t, ok)

	out, err := io.ReadAll(h.Output())
	require.NoError(t, err)
	assert.Equal(t, "not-a-pid\nrest\n", string(out))

	before := len(conn.commands())
	assert.NoError(t, h.Kill())
	assert.Len(t, conn.commands(), before)
}

func TestRemoteSignalIgnoresMissingProcess(t *testing.T) {
	conn := newFakeConn(map[string]fakeReply{
		cmdID:               {stdout: "0"},
		"kill -KILL -- -77": {code: 1, stderr: "kill: (-77) - No such process"},
		"kill -TERM -- -88": {code: 1, stderr: "kill: (-88) - Operation not permitted"},
	})
	r, _ := newTestRemote(t, t.TempDir(), "", conn)

	assert.NoError(t, r.Signal(context.Background(), -77, syscall.SIGKILL))
	assert.Error(t, r.Signal(context.Background(), -88, syscall.SIGTERM))
}

func TestRemoteCheckDependenciesCached(t *testing.T) {
	conn := newFakeConn(map[string]fakeReply{
		cmdID:                        {stdout: "0"},
		"which nvme":                 {code: 1},
		"python3 -c 'import pandas'": {code: 1},
	})
	r, _ := newTestRemote(t, t.TempDir(), "", conn)

	deps, err := r.CheckDependencies(context.Background())
	require.NoError(t, err)
	assert.True(t, deps["fio"])
	assert.False(t, deps["nvme"])
	assert.True(t, deps["bc"])
	assert.False(t, deps[interpreterProbeName])

	before := len(conn.commands())
	_, err = r.CheckDependencies(context.Background())
	require.NoError(t, err)
	assert.Len(t, conn.commands(), before)
}

func TestRemoteSyncToRemoteDirectory(t *testing.T) {
	base := t.TempDir()
	scripts := filepath.Join(base, "scripts")
	require.NoError(t, os.MkdirAll(scripts, 0o755))

	conn := newFakeConn(map[string]fakeReply{
		cmdID:         {stdout: "1000"},
		cmdSudoNoPass: {code: 0},
	})
	r, _ := newTestRemote(t, base, "", conn)

	remote, err := r.SyncToRemote(context.Background(), scripts)
	require.NoError(t, err)
	assert.Equal(t, "/opt/xmbench/scripts", remote)

	cmds := conn.commands()
	assert.Contains(t, cmds, "sudo -n -E rm -rf /opt/xmbench/scripts")
	assert.Contains(t, cmds, "sudo -n -E mkdir -p /opt/xmbench/scripts")
	assert.Contains(t, cmds, "sudo -n -E chown -R bench /opt/xmbench/scripts")
	assert.Equal(t, [][2]string{{scripts, "/opt/xmbench/scripts"}}, conn.uploads)
}

func TestRemoteSyncToRemoteRefusesRoot(t *testing.T) {
	base := t.TempDir()
	conn := newFakeConn(map[string]fakeReply{cmdID: {stdout: "0"}})
	d := &fakeDialer{conns: []*fakeConn{conn}}
	r := NewRemote(remoteTarget(""), pathmap.New(base, "/", true), d)

	_, err := r.SyncToRemote(context.Background(), base)
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindSync))
	assert.Empty(t, conn.uploads)
}

func TestRemoteSyncRefusesPathOutsideBase(t *testing.T) {
	base := t.TempDir()
	outside := filepath.Join(t.TempDir(), "scripts")
	require.NoError(t, os.MkdirAll(outside, 0o755))

	conn := newFakeConn(map[string]fakeReply{cmdID: {stdout: "0"}})
	r, _ := newTestRemote(t, base, "", conn)

	_, err := r.SyncToRemote(context.Background(), outside)
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindSync))

	err = r.SyncFromRemote(context.Background(), outside)
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindSync))

	for _, cmd := range conn.commands() {
		assert.NotContains(t, cmd, outside)
	}
	assert.Empty(t, conn.uploads)
	assert.Empty(t, conn.downloads)
}

func TestRemoteSyncFromRemoteSkipsMissing(t *testing.T) {
	base := t.TempDir()
	results := filepath.Join(base, "results")
	conn := newFakeConn(map[string]fakeReply{
		cmdID:                        {stdout: "0"},
		"ls -d /opt/xmbench/results": {code: 2, stderr: "No such file or directory"},
	})
	r, _ := newTestRemote(t, base, "", conn)

	require.NoError(t, r.SyncFromRemote(context.Background(), results))
	assert.Empty(t, conn.downloads)
}

func TestRemoteSyncFromRemote(t *testing.T) {
	base := t.TempDir()
	logs := filepath.Join(base, "logs")
	conn := newFakeConn(map[string]fakeReply{cmdID: {stdout: "0"}})
	r, _ := newTestRemote(t, base, "", conn)

	require.NoError(t, r.SyncFromRemote(context.Background(), logs))
	assert.Equal(t, [][2]string{{"/opt/xmbench/logs", logs}}, conn.downloads)
	assert.NotContains(t, conn.commands(), "chmod -R a+rX /opt/xmbench/logs")
}

func TestNewSelectsVariant(t *testing.T) {
	base := t.TempDir()
	e, err := New(Target{}, pathmap.Identity(base))
	require.NoError(t, err)
	assert.False(t, e.IsRemote())

	_, err = New(Target{Remote: true, User: "x"}, pathmap.New(base, "/opt/xmbench", true))
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindConfiguration))

	e, err = New(remoteTarget(""), pathmap.New(base, "/opt/xmbench", true))
	require.NoError(t, err)
	assert.True(t, e.IsRemote())
}
