package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mensylisir/xmbench/errdefs"
	"github.com/mensylisir/xmbench/file"
	"github.com/mensylisir/xmbench/history"
	"github.com/mensylisir/xmbench/notify"
	"github.com/mensylisir/xmbench/runstate"
	"github.com/mensylisir/xmbench/telemetry"
)

func TestReadRunConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := readRunConfig("")
	require.NoError(t, err)
	assert.Nil(t, cfg)

	good := filepath.Join(dir, "run.json")
	require.NoError(t, os.WriteFile(good, []byte(`{"remote_mode": true, "remote_host": "10.0.0.5"}`), 0o644))
	cfg, err = readRunConfig(good)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", cfg["remote_host"])

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[1,2]`), 0o644))
	_, err = readRunConfig(bad)
	assert.True(t, errdefs.Is(err, errdefs.KindConfiguration))

	_, err = readRunConfig(filepath.Join(dir, "missing.json"))
	assert.True(t, errdefs.Is(err, errdefs.KindConfiguration))
}

func TestPrintEvent(t *testing.T) {
	tests := []struct {
		name      string
		telemetry bool
		ev        notify.Event
		want      string
	}{
		{
			name: "status",
			ev:   notify.Event{Type: notify.TypeStatus, Data: notify.Status{Status: "failed", Message: "disk full"}},
			want: "[failed] disk full\n",
		},
		{
			name: "status without message",
			ev:   notify.Event{Type: notify.TypeStatus, Data: notify.Status{Status: "syncing"}},
			want: "[syncing]\n",
		},
		{
			name: "log line",
			ev:   notify.Event{Type: notify.TypeLog, Data: map[string]string{"line": "fio: starting"}},
			want: "fio: starting\n",
		},
		{
			name: "state",
			ev:   notify.Event{Type: notify.TypeState, Data: map[string]string{"state": "PREPARING"}},
			want: "state: PREPARING\n",
		},
		{
			name: "stage",
			ev:   notify.Event{Type: notify.TypeStage, Data: runstate.StageInfo{Stage: runstate.StageRAID, Label: runstate.StageRAID.Label()}},
			want: "== " + runstate.StageRAID.Label() + " ==\n",
		},
		{
			name: "progress",
			ev: notify.Event{Type: notify.TypeProgress, Data: runstate.Progress{
				CurrentStep: 3, TotalSteps: 10, Percentage: 30, ElapsedSeconds: 90, RemainingSeconds: 210,
			}},
			want: "progress 3/10 (30.0%) elapsed 1m30s remaining 3m30s\n",
		},
		{
			name: "telemetry hidden",
			ev:   notify.Event{Type: notify.TypeTelemetry, Data: []telemetry.Sample{{Device: "nvme0n1"}}},
			want: "",
		},
		{
			name:      "telemetry shown",
			telemetry: true,
			ev:        notify.Event{Type: notify.TypeTelemetry, Data: []telemetry.Sample{{Device: "nvme0n1", ReadIOPS: 1200, ReadMBps: 4.5, Util: 12.5}}},
			want:      "  nvme0n1    r 1200/s 4.5MB/s  w 0/s 0.0MB/s  util 12.5%\n",
		},
		{
			name: "error",
			ev:   notify.Event{Type: notify.TypeError, Data: map[string]string{"message": "ambiguous"}},
			want: "error: ambiguous\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			o := &runOptions{showTelemetry: tt.telemetry}
			o.printEvent(&buf, tt.ev)
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestPrintRecord(t *testing.T) {
	var buf bytes.Buffer
	printRecord(&buf, nil, time.Now())
	assert.Equal(t, "No benchmark running\n", buf.String())

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local)
	buf.Reset()
	printRecord(&buf, &runstate.Record{
		RunID:     "r1",
		SessionID: "default",
		Status:    "running",
		StartTime: start,
		StageInfo: runstate.StageInfo{Stage: runstate.StageBaseline, Label: runstate.StageBaseline.Label()},
		Progress:  runstate.Progress{CurrentStep: 1, TotalSteps: 4, Percentage: 25},
		PID:       4242,
		Remote:    true,
		LogPath:   "/opt/xmbench-gui/logs/benchmark_1.log",
	}, start.Add(2*time.Minute))

	out := buf.String()
	assert.Contains(t, out, "r1")
	assert.Contains(t, out, "(2m ago)")
	assert.Contains(t, out, runstate.StageBaseline.Label())
	assert.Contains(t, out, "progress 1/4 (25.0%)")
	assert.Contains(t, out, "remote")
	assert.Contains(t, out, "4242")
}

func TestPrintLogEntriesAndHistory(t *testing.T) {
	var buf bytes.Buffer
	printLogEntries(&buf, nil)
	assert.Equal(t, "No benchmark logs\n", buf.String())

	buf.Reset()
	printLogEntries(&buf, []file.Entry{{Name: "benchmark_2.log", Size: 12, ModTime: time.Now()}})
	assert.Contains(t, buf.String(), "benchmark_2.log")

	buf.Reset()
	printHistory(&buf, nil)
	assert.Equal(t, "No finished runs\n", buf.String())

	buf.Reset()
	start := time.Now()
	printHistory(&buf, []history.Run{
		{RunID: "r1", Status: "completed", StartedAt: start, FinishedAt: start.Add(90 * time.Second), TotalSteps: 4, CurrentStep: 4},
		{RunID: "r2", Status: "failed", Remote: true, Host: "10.0.0.5", Message: "disk full", StartedAt: start, FinishedAt: start},
	})
	out := buf.String()
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "localhost")
	assert.Contains(t, out, "10.0.0.5")
	assert.Contains(t, out, "disk full")
}

func TestRootCommandTree(t *testing.T) {
	root := NewRootCmd()
	for _, name := range []string{"serve", "run", "status", "check", "logs", "history"} {
		c, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, c.Name())
	}
}

func TestStatusCommandWithDefaultsInTempDir(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "xmbench.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("apiVersion: xmbench.io/v1alpha1\nkind: Supervisor\nspec:\n  baseDir: "+dir+"\n"), 0o644))

	root := NewRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"--config", cfgPath, "status"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "No benchmark running\n", buf.String())
}
