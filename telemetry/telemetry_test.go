package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mensylisir/xmbench/executor"
)

const modernReport = `Linux 6.1.0 (dut) 	03/01/2025 	_x86_64_	(64 CPU)

Device            r/s     rMB/s   rrqm/s  %rrqm r_await rareq-sz     w/s     wMB/s   wrqm/s  %wrqm w_await wareq-sz  aqu-sz  %util
nvme0n1      250000.00    976.56     0.00   0.00    0.12     4.00 107000.00    417.97     0.00   0.00    0.30     4.00   62.10 100.00
nvme1n1      120.00      0.47     0.00   0.00    0.10     4.00     0.00      0.00     0.00   0.00    0.00     0.00    0.01   1.20

Device            r/s     rMB/s   rrqm/s  %rrqm r_await rareq-sz     w/s     wMB/s   wrqm/s  %wrqm w_await wareq-sz  aqu-sz  %util
nvme0n1      240000.00    937.50     0.00   0.00    0.13     4.00 100000.00    390.63     0.00   0.00    0.31     4.00   60.00  99.80

`

func feedAll(p *Parser, text string) [][]Sample {
	var batches [][]Sample
	for _, line := range strings.Split(text, "\n") {
		if b, ok := p.Feed(line); ok {
			batches = append(batches, b)
		}
	}
	if b, ok := p.Flush(); ok {
		batches = append(batches, b)
	}
	return batches
}

func TestParserModernColumns(t *testing.T) {
	batches := feedAll(NewParser(nil), modernReport)
	require.Len(t, batches, 2)
	require.Len(t, batches[0], 2)

	s := batches[0][0]
	assert.Equal(t, "nvme0n1", s.Device)
	assert.InDelta(t, 250000.0, s.ReadIOPS, 1e-6)
	assert.InDelta(t, 976.56, s.ReadMBps, 1e-6)
	assert.InDelta(t, 417.97, s.WriteMBps, 1e-6)
	assert.InDelta(t, 0.12, s.ReadAwait, 1e-6)
	assert.InDelta(t, 0.30, s.WriteAwait, 1e-6)
	assert.InDelta(t, 62.10, s.QueueSize, 1e-6)
	assert.InDelta(t, 100.0, s.Util, 1e-6)

	assert.Len(t, batches[1], 1)
}

func TestParserLegacyColumnsAndFallbacks(t *testing.T) {
	report := "Device:         rrqm/s   wrqm/s     r/s     w/s    rkB/s    wkB/s avgrq-sz avgqu-sz   await  svctm  %util\n" +
		"sda               0.00     1.00   10.00   20.00  2048.00  1024.00     8.00     0.50    2.50   0.40   3.00\n" +
		"\n"
	batches := feedAll(NewParser(nil), report)
	require.Len(t, batches, 1)
	s := batches[0][0]
	assert.Equal(t, "sda", s.Device)
	assert.InDelta(t, 2.0, s.ReadMBps, 1e-9)
	assert.InDelta(t, 1.0, s.WriteMBps, 1e-9)
	assert.InDelta(t, 2.5, s.ReadAwait, 1e-9)
	assert.InDelta(t, 2.5, s.WriteAwait, 1e-9)
	assert.InDelta(t, 0.5, s.QueueSize, 1e-9)
	assert.InDelta(t, 3.0, s.Util, 1e-9)
}

func TestParserMissingColumnsAreZero(t *testing.T) {
	report := "Device tps rio/s\nnvme0n1 50 100\n\n"
	batches := feedAll(NewParser(nil), report)
	require.Len(t, batches, 1)
	s := batches[0][0]
	assert.InDelta(t, 100.0, s.ReadIOPS, 1e-9)
	assert.Zero(t, s.ReadMBps)
	assert.Zero(t, s.Util)
}

func TestParserDeviceFilter(t *testing.T) {
	batches := feedAll(NewParser([]string{"/dev/nvme1n1", " "}), modernReport)
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	assert.Equal(t, "nvme1n1", batches[0][0].Device)
}

func TestCommand(t *testing.T) {
	assert.Equal(t, []string{"iostat", "-d", "-x", "-m", "-y", "-z", "2"}, Command(2))
	assert.Equal(t, "1", Command(0)[6])
}

// fakeExecutor runs a replacement command in place of iostat.
type fakeExecutor struct {
	executor.Executor
	local *executor.LocalExecutor
	argv  []string
}

func (f *fakeExecutor) Spawn(ctx context.Context, _ []string, opts ...executor.Option) (executor.ProcessHandle, error) {
	return f.local.Spawn(ctx, f.argv, opts...)
}

func TestMonitorEmitsAndStops(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "fake_iostat.sh")
	body := "#!/bin/bash\nwhile true; do\n" +
		"echo 'Device r/s rMB/s %util'\n" +
		"echo 'nvme0n1 10 1.5 50'\n" +
		"echo\n" +
		"sleep 0.1\ndone\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))

	var mu sync.Mutex
	var got [][]Sample
	fe := &fakeExecutor{local: executor.NewLocal(nil), argv: []string{"bash", script}}
	m := NewMonitor(fe, 1, nil, 20*time.Millisecond, func(b []Sample) {
		mu.Lock()
		got = append(got, b)
		mu.Unlock()
	})
	require.NoError(t, m.Start(context.Background()))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 2
	}, 5*time.Second, 20*time.Millisecond)

	m.Stop()
	m.Stop()

	mu.Lock()
	n := len(got)
	first := got[0][0]
	mu.Unlock()
	assert.Equal(t, "nvme0n1", first.Device)
	assert.InDelta(t, 1.5, first.ReadMBps, 1e-9)

	time.Sleep(300 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, n, len(got))
	mu.Unlock()
}

func TestMonitorStopWithoutStart(t *testing.T) {
	m := NewMonitor(executor.NewLocal(nil), 1, nil, 0, func([]Sample) {})
	m.Stop()
}
