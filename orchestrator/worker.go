package orchestrator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/mensylisir/xmbench/classifier"
	"github.com/mensylisir/xmbench/common"
	"github.com/mensylisir/xmbench/errdefs"
	"github.com/mensylisir/xmbench/executor"
	"github.com/mensylisir/xmbench/history"
	"github.com/mensylisir/xmbench/hook"
	"github.com/mensylisir/xmbench/notify"
	"github.com/mensylisir/xmbench/telemetry"
)

const (
	syncTimeout    = 10 * time.Minute
	historyTimeout = 5 * time.Second
	stopPoll       = 50 * time.Millisecond
)

var errStopped = errors.New("stopped before the driver was started")

// outcome is the terminal result of a run. keepRecord leaves the run record
// on disk for a later Recover.
type outcome struct {
	status     string
	message    string
	exitCode   *int
	keepRecord bool
}

func formatUnix(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

// work runs the benchmark to completion on its own goroutine.
func (m *Manager) work(run *activeRun) {
	var result outcome
	_ = hook.Call(hook.Funcs{
		TryFn: func() error {
			res, err := m.execute(run)
			if err != nil {
				return err
			}
			result = res
			return nil
		},
		CatchFn: func(err error) error {
			if errors.Is(err, errStopped) {
				return nil
			}
			run.log.Errorf("benchmark run failed: %v", err)
			result = outcome{status: notify.StatusFailed, message: err.Error()}
			return err
		},
		FinallyFn: func() {
			m.finish(run, result)
		},
	})
}

func (m *Manager) exitOutcome(run *activeRun, code int) outcome {
	c := code
	if code == 0 {
		return outcome{status: notify.StatusCompleted, message: "Benchmark completed", exitCode: &c}
	}
	if msg := run.class.LastError(); msg != "" {
		return outcome{status: notify.StatusFailed, message: msg, exitCode: &c}
	}
	return outcome{
		status:   notify.StatusFailed,
		message:  fmt.Sprintf("failed with code %d, no structured error captured", code),
		exitCode: &c,
	}
}

func (m *Manager) stopRequested(run *activeRun) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return run.stopRequested
}

// execute prepares the target, spawns the driver and reads its output until
// the process has exited and the stream is drained.
func (m *Manager) execute(run *activeRun) (outcome, error) {
	m.publishStatus(run, notify.StatusStarted, "Benchmark started")
	m.startTelemetry(run)

	if run.exec.IsRemote() {
		if err := m.syncUp(run); err != nil {
			return outcome{}, err
		}
	}
	if m.stopRequested(run) {
		return outcome{}, errStopped
	}

	ctx, cancel := context.WithTimeout(context.Background(), common.DefaultSSHTimeout)
	defer cancel()
	handle, err := run.exec.Spawn(ctx, []string{"bash", m.spec.DriverScript},
		executor.WithDir(m.spec.ScriptPath()),
		executor.WithEnv(map[string]string{"XMBENCH_RUN_ID": run.id}))
	if err != nil {
		return outcome{}, errdefs.Wrap(err, errdefs.KindProcessFailure, "spawn", "failed to start the driver")
	}
	defer handle.Close()

	pid, hasPID := handle.PID()
	m.mu.Lock()
	run.handle = handle
	if hasPID {
		run.record.PID = pid
	}
	stopping := run.stopRequested
	m.mu.Unlock()
	if stopping {
		m.terminate(run, handle)
	}
	if !hasPID {
		run.log.Warn("driver pid unknown, the run cannot be stopped by signal")
	}

	m.setPhase(common.PhaseRunning)
	m.publishStatus(run, notify.StatusRunning, "Benchmark running")
	m.persist(run)

	code, err := m.readOutput(run, handle)
	if err != nil {
		if m.stopRequested(run) {
			return outcome{}, err
		}
		return m.followDetached(run, err), nil
	}
	return m.exitOutcome(run, code), nil
}

// followDetached handles a broken output channel. The driver may outlive
// the channel, so the run record is only dropped once the driver is known to
// be gone. A live driver is watched by polling like a recovered run.
func (m *Manager) followDetached(run *activeRun, cause error) outcome {
	run.log.Warnf("lost the driver's output channel: %v", cause)

	m.mu.Lock()
	rec := *run.record
	m.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	pids, err := probe(ctx, run.exec, &rec)
	cancel()
	if err != nil {
		run.log.Errorf("cannot tell whether the driver is still running, keeping the run record: %v", err)
		return outcome{
			status:     notify.StatusFailed,
			message:    "lost contact with the driver: " + cause.Error(),
			keepRecord: true,
		}
	}
	if len(pids) > 0 {
		m.mu.Lock()
		run.handle = nil
		run.recovered = true
		if run.record.PID == 0 {
			run.record.PID = pids[0]
		}
		m.mu.Unlock()
		m.persist(run)
		run.log.Warnf("driver still running as %v, watching it without its output", pids)
		m.publish(run, notify.TypeLog, map[string]string{"line": "WARNING: output channel lost, the benchmark keeps running and is watched until it ends"})
		m.waitGone(run)
	}
	return outcome{status: notify.StatusRecovered, message: "Benchmark finished while detached, exit code unknown"}
}

func (m *Manager) syncUp(run *activeRun) error {
	m.setPhase(common.PhaseSyncing)
	m.publishStatus(run, notify.StatusSyncing, "Syncing scripts to the remote host")

	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()

	deps, err := run.exec.CheckDependencies(ctx)
	if err != nil {
		return err
	}
	var missing []string
	for name, ok := range deps {
		if !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		msg := "missing tools on the target: " + strings.Join(missing, ", ")
		run.log.Warn(msg)
		m.publish(run, notify.TypeLog, map[string]string{"line": "WARNING: " + msg})
	}

	for _, p := range []string{m.spec.ScriptPath(), m.spec.RunConfigPath()} {
		remote, err := run.exec.SyncToRemote(ctx, p)
		if err != nil {
			return err
		}
		run.log.Debugf("synced %s to %s", p, remote)
	}
	return nil
}

// readOutput relays the combined output line by line. The loop wakes up at
// least every poll interval so a process exit is noticed even if the stream
// stays open; after exit it keeps draining until EOF or until no output has
// arrived for the drain grace.
func (m *Manager) readOutput(run *activeRun, handle executor.ProcessHandle) (int, error) {
	lines := make(chan string, 256)
	quit := make(chan struct{})
	defer close(quit)
	go func() {
		defer close(lines)
		r := bufio.NewReader(handle.Output())
		for {
			line, err := r.ReadString('\n')
			if line != "" {
				select {
				case lines <- line:
				case <-quit:
					return
				}
			}
			if err != nil {
				if err != io.EOF {
					run.log.Debugf("output stream closed: %v", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(m.spec.Run.PollInterval)
	defer ticker.Stop()

	var (
		exited     bool
		exitCode   int
		lastActive = time.Now()
	)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return handle.Wait()
			}
			m.handleLine(run, line)
			lastActive = time.Now()
		case <-ticker.C:
			if !exited {
				if code, done := handle.Poll(); done {
					exited, exitCode = true, code
					lastActive = time.Now()
				}
				continue
			}
			if time.Since(lastActive) >= m.spec.Run.DrainGrace {
				run.log.Warnf("driver exited but its output stream is still open, giving up after %s", m.spec.Run.DrainGrace)
				if _, err := handle.Wait(); err != nil {
					return exitCode, err
				}
				return exitCode, nil
			}
		}
	}
}

// handleLine logs, classifies and relays one line of driver output.
func (m *Manager) handleLine(run *activeRun, raw string) {
	line := strings.TrimRight(raw, "\r\n")
	if _, err := run.logFile.WriteString(line + "\n"); err != nil {
		run.log.Warnf("failed to append to benchmark log: %v", err)
	}

	out := run.class.Classify(line)
	if out.Err != nil {
		run.log.Warn(out.Err)
	}
	if !out.Relay && len(out.Events) == 0 {
		return
	}

	m.mu.Lock()
	run.record.StageInfo = run.class.StageInfo()
	run.record.Progress = run.class.Progress()
	m.mu.Unlock()
	if out.Persist {
		m.persist(run)
	}

	for _, ev := range out.Events {
		switch ev.Type {
		case classifier.EventState:
			m.publish(run, notify.TypeState, map[string]string{"state": ev.State})
		case classifier.EventStage:
			run.log.Infof("stage: %s", ev.Stage.Label)
			m.publish(run, notify.TypeStage, ev.Stage)
		case classifier.EventProgress:
			m.publish(run, notify.TypeProgress, ev.Progress)
		case classifier.EventSnapshot:
			m.handleSnapshot(run, ev.Snapshot)
		case classifier.EventLog:
			m.publish(run, notify.TypeLog, map[string]string{"line": ev.Line})
		}
	}
}

func (m *Manager) handleSnapshot(run *activeRun, snap classifier.Snapshot) {
	m.mu.Lock()
	active := m.phase == common.PhaseRunning
	m.mu.Unlock()
	if !active {
		run.log.Infof("snapshot request for %s acknowledged, no active run", snap.TestName)
		return
	}
	run.log.Infof("snapshot requested for %s in %s", snap.TestName, snap.OutputDir)
	m.publish(run, notify.TypeSnapshot, snap)
}

func (m *Manager) startTelemetry(run *activeRun) {
	if !run.opts.TelemetryEnabled(m.spec.TelemetryEnabled()) {
		return
	}
	mon := telemetry.NewMonitor(run.exec, m.spec.Telemetry.IntervalSeconds, run.opts.NVMeList, m.spec.Run.PollInterval,
		func(batch []telemetry.Sample) {
			m.publish(run, notify.TypeTelemetry, batch)
		})
	if err := mon.Start(context.Background()); err != nil {
		run.log.Warnf("telemetry unavailable: %v", err)
		return
	}
	run.monitor = mon
}

// terminate sends SIGTERM to the driver's process group and SIGKILL if it
// is still alive after the stop grace.
func (m *Manager) terminate(run *activeRun, handle executor.ProcessHandle) {
	if err := handle.Terminate(); err != nil {
		run.log.Warnf("failed to terminate driver: %v", err)
	}
	deadline := time.Now().Add(m.spec.Run.StopGrace)
	for time.Now().Before(deadline) {
		if _, exited := handle.Poll(); exited {
			return
		}
		time.Sleep(stopPoll)
	}
	if _, exited := handle.Poll(); !exited {
		run.log.Warn("driver ignored SIGTERM, killing it")
		if err := handle.Kill(); err != nil {
			run.log.Warnf("failed to kill driver: %v", err)
		}
	}
}

// terminateRecovered signals a driver known only by pid. A pid found by
// search may not lead a process group, so the process itself is signalled
// after its group.
func (m *Manager) terminateRecovered(ctx context.Context, run *activeRun, pid int) {
	signal := func(sig syscall.Signal) {
		for _, target := range []int{-pid, pid} {
			if err := run.exec.Signal(ctx, target, sig); err != nil {
				run.log.Warnf("failed to send %s to recovered driver %d: %v", sig, target, err)
			}
		}
	}
	signal(syscall.SIGTERM)
	select {
	case <-time.After(m.spec.Run.StopGrace):
	case <-ctx.Done():
		return
	}
	signal(syscall.SIGKILL)
}

// finish runs the terminal sequence shared by normal, failed, stopped and
// recovered runs.
func (m *Manager) finish(run *activeRun, result outcome) {
	if m.stopRequested(run) {
		result = outcome{status: notify.StatusStopped, message: "Benchmark stopped by user", exitCode: result.exitCode}
	}
	if result.status == "" {
		result = outcome{status: notify.StatusFailed, message: "run ended without a result"}
	}
	m.mu.Lock()
	m.phase = terminalPhase(result.status)
	m.mu.Unlock()

	if run.monitor != nil {
		run.monitor.Stop()
	}

	if run.exec.IsRemote() {
		ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
		for _, p := range []string{m.spec.ResultsPath(), m.spec.LogsPath()} {
			if err := run.exec.SyncFromRemote(ctx, p); err != nil {
				run.log.Warnf("failed to sync %s back: %v", p, err)
			}
		}
		cancel()
	}

	if result.keepRecord {
		run.log.Warnf("run record kept at %s for recovery", m.store.Path())
	} else if err := m.store.Clear(); err != nil {
		run.log.Warnf("failed to clear run record: %v", err)
	}
	m.recordHistory(run, result)

	if err := run.exec.Close(); err != nil {
		run.log.Debugf("closing executor: %v", err)
	}
	if run.logFile != nil {
		run.logFile.Close()
	}

	m.mu.Lock()
	run.record.Status = result.status
	m.phase = common.PhaseIdle
	m.run = nil
	m.mu.Unlock()

	run.log.Infof("benchmark %s: %s", result.status, result.message)
	m.publish(run, notify.TypeStatus, notify.NewStatus(result.status, result.message))
	close(run.done)
}

func terminalPhase(status string) common.RunPhase {
	switch status {
	case notify.StatusCompleted, notify.StatusRecovered:
		return common.PhaseCompleted
	case notify.StatusStopped:
		return common.PhaseStopped
	default:
		return common.PhaseFailed
	}
}

func (m *Manager) recordHistory(run *activeRun, result outcome) {
	if m.history == nil {
		return
	}
	m.mu.Lock()
	rec := *run.record
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	err := m.history.Record(ctx, history.Run{
		RunID:       rec.RunID,
		SessionID:   rec.SessionID,
		Status:      result.status,
		Message:     result.message,
		ExitCode:    result.exitCode,
		Remote:      rec.Remote,
		Host:        run.opts.RemoteHost,
		LogPath:     rec.LogPath,
		StageLabel:  rec.StageInfo.Label,
		CurrentStep: rec.Progress.CurrentStep,
		TotalSteps:  rec.Progress.TotalSteps,
		StartedAt:   rec.StartTime,
		FinishedAt:  time.Now(),
	})
	if err != nil {
		run.log.Warnf("failed to record run history: %v", err)
	}
}
