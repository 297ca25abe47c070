package file

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mensylisir/xmbench/common"
)

func TestPathExists(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "exists.txt")
	require.NoError(t, os.WriteFile(existing, []byte("hello"), common.FileMode0644))

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"existing file", existing, true},
		{"existing dir", dir, true},
		{"missing", filepath.Join(dir, "nope"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PathExists(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCreateDirRejectsFile(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(f, nil, common.FileMode0644))

	assert.Error(t, CreateDir(f))
	assert.NoError(t, CreateDir(filepath.Join(dir, "a", "b")))
	assert.NoError(t, CreateDir(filepath.Join(dir, "a", "b")))
}

func TestWriteFileAtomicReplaces(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "state", "run.json")

	require.NoError(t, WriteFileAtomic(target, []byte(`{"v":1}`)))
	require.NoError(t, WriteFileAtomic(target, []byte(`{"v":2}`)))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(data))

	leftovers, err := filepath.Glob(filepath.Join(dir, "state", "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestCopyFileKeepsMode(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "bench.sh")
	require.NoError(t, os.WriteFile(src, []byte("#!/bin/bash\n"), common.FileMode0755))

	dst := filepath.Join(dir, "copy", "bench.sh")
	require.NoError(t, CopyFile(src, dst))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, common.FileMode0755, info.Mode().Perm())
}

func TestTailLines(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "log")
	var b strings.Builder
	for i := 1; i <= 10; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	require.NoError(t, os.WriteFile(p, []byte(b.String()), common.FileMode0644))

	lines, err := TailLines(p, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"line 8", "line 9", "line 10"}, lines)

	all, err := TailLines(p, 100)
	require.NoError(t, err)
	assert.Len(t, all, 10)
}

func TestListNewest(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	for i, name := range []string{"benchmark_1.log", "benchmark_2.log", "benchmark_3.log", "notes.txt"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(name), common.FileMode0644))
		ts := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(p, ts, ts))
	}

	entries, err := ListNewest(dir, "*.log", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "benchmark_3.log", entries[0].Name)
	assert.Equal(t, "benchmark_2.log", entries[1].Name)

	missing, err := ListNewest(filepath.Join(dir, "absent"), "*.log", 5)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestListResults(t *testing.T) {
	root := t.TempDir()
	base := time.Now().Add(-time.Hour)
	files := map[string]string{
		"run_a/summary.txt":      "a",
		"run_b/fio/nvme0n1.json": "{}",
		"run_b/fio/nvme1n1.json": "{}",
		"run_b/report.csv":       "x,y",
		"stray.txt":              "ignored",
	}
	for rel, body := range files {
		require.NoError(t, WriteFile(filepath.Join(root, rel), []byte(body)))
	}
	require.NoError(t, CreateDir(filepath.Join(root, "run_empty")))
	for i, name := range []string{"run_a", "run_empty", "run_b"} {
		ts := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(filepath.Join(root, name), ts, ts))
	}

	dirs, err := ListResults(root)
	require.NoError(t, err)
	require.Len(t, dirs, 3)
	assert.Equal(t, []string{"run_b", "run_empty", "run_a"}, []string{dirs[0].Name, dirs[1].Name, dirs[2].Name})

	require.Len(t, dirs[0].Files, 3)
	assert.Equal(t, ResultFile{Name: "nvme0n1.json", Path: "run_b/fio/nvme0n1.json", Size: 2}, dirs[0].Files[0])
	assert.Equal(t, "run_b/report.csv", dirs[0].Files[2].Path)
	assert.NotNil(t, dirs[1].Files)
	assert.Empty(t, dirs[1].Files)

	missing, err := ListResults(filepath.Join(root, "absent"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}
