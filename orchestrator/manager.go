// Package orchestrator owns the single active benchmark run: it starts the
// driver through an Executor, turns its output into events, persists the run
// record for crash recovery and reattaches to a surviving run on startup.
package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mensylisir/xmbench/classifier"
	"github.com/mensylisir/xmbench/common"
	"github.com/mensylisir/xmbench/config"
	"github.com/mensylisir/xmbench/errdefs"
	"github.com/mensylisir/xmbench/executor"
	"github.com/mensylisir/xmbench/file"
	"github.com/mensylisir/xmbench/history"
	"github.com/mensylisir/xmbench/logger"
	"github.com/mensylisir/xmbench/notify"
	"github.com/mensylisir/xmbench/pathmap"
	"github.com/mensylisir/xmbench/runstate"
	"github.com/mensylisir/xmbench/telemetry"
)

// ExecutorFactory builds the executor for a run target.
type ExecutorFactory func(target executor.Target, paths *pathmap.Translator) (executor.Executor, error)

// Recorder keeps finished runs.
type Recorder interface {
	Record(ctx context.Context, run history.Run) error
}

type Options struct {
	Spec     *config.SupervisorSpec
	Notifier notify.Notifier
	// History is optional.
	History Recorder
	// NewExecutor defaults to executor.New.
	NewExecutor ExecutorFactory
}

// Manager runs at most one benchmark at a time.
type Manager struct {
	spec        *config.SupervisorSpec
	notifier    notify.Notifier
	history     Recorder
	newExecutor ExecutorFactory
	store       *runstate.Store
	log         *logrus.Entry

	mu    sync.Mutex
	phase common.RunPhase
	run   *activeRun
}

// activeRun is the in-memory side of the run record. Fields below mu are
// guarded by Manager.mu.
type activeRun struct {
	id        string
	sessionID string
	opts      *config.RunOptions
	exec      executor.Executor
	class     *classifier.Classifier
	monitor   *telemetry.Monitor
	logFile   *os.File
	log       *logrus.Entry
	recovered bool
	done      chan struct{}
	wake      chan struct{}

	record        *runstate.Record
	handle        executor.ProcessHandle
	stopRequested bool
}

func New(opts Options) *Manager {
	if opts.NewExecutor == nil {
		opts.NewExecutor = executor.New
	}
	return &Manager{
		spec:        opts.Spec,
		notifier:    opts.Notifier,
		history:     opts.History,
		newExecutor: opts.NewExecutor,
		store:       runstate.NewStore(opts.Spec.StatePath()),
		log:         logger.Log.WithComponent("orchestrator"),
		phase:       common.PhaseIdle,
	}
}

// Status is a point-in-time view of the manager.
type Status struct {
	Running   bool               `json:"running"`
	Phase     string             `json:"phase"`
	RunID     string             `json:"run_id,omitempty"`
	SessionID string             `json:"session_id,omitempty"`
	StartTime *time.Time         `json:"start_time,omitempty"`
	LogPath   string             `json:"log_path,omitempty"`
	Remote    bool               `json:"remote"`
	Recovered bool               `json:"recovered,omitempty"`
	StageInfo runstate.StageInfo `json:"stage_info"`
	Progress  runstate.Progress  `json:"progress"`
	Timestamp time.Time          `json:"timestamp"`
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{Phase: m.phase.String(), Running: m.phase.Active(), Timestamp: time.Now()}
	if m.run != nil {
		rec := m.run.record
		start := rec.StartTime
		st.RunID = rec.RunID
		st.SessionID = rec.SessionID
		st.StartTime = &start
		st.LogPath = rec.LogPath
		st.Remote = rec.Remote
		st.Recovered = m.run.recovered
		st.StageInfo = rec.StageInfo
		st.Progress = rec.Progress
	}
	return st
}

// Start validates runConfig, claims the active-run slot and launches the run
// worker. A nil runConfig uses the saved configuration. It fails with a
// Conflict error, without side effects, when a run is already active.
func (m *Manager) Start(sessionID string, runConfig map[string]any) (string, error) {
	if sessionID == "" {
		sessionID = common.DefaultSessionID
	}
	if runConfig == nil {
		saved, err := m.SavedConfig()
		if err != nil {
			return "", err
		}
		runConfig = saved
	}
	opts, err := config.DecodeRunOptions(runConfig)
	if err != nil {
		return "", err
	}
	target, err := opts.Target()
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	if m.phase.Active() {
		m.mu.Unlock()
		return "", errdefs.New(errdefs.KindConflict, "start", "a benchmark is already running")
	}
	m.phase = common.PhaseStarting
	m.mu.Unlock()

	run, err := m.prepare(sessionID, runConfig, opts, target)
	if err != nil {
		m.mu.Lock()
		m.phase = common.PhaseIdle
		m.mu.Unlock()
		return "", err
	}

	m.mu.Lock()
	m.run = run
	m.mu.Unlock()

	run.log.Infof("benchmark started for session %s, config: %v", sessionID, config.Redact(runConfig))
	go m.work(run)
	return run.id, nil
}

// prepare does the synchronous part of a start: config files, log file,
// executor and the initial run record.
func (m *Manager) prepare(sessionID string, runConfig map[string]any, opts *config.RunOptions, target executor.Target) (*activeRun, error) {
	if err := m.SaveConfig(runConfig); err != nil {
		return nil, err
	}
	scriptCopy := filepath.Join(m.spec.ScriptPath(), filepath.Base(m.spec.RunConfigPath()))
	if scriptCopy != m.spec.RunConfigPath() {
		if err := file.CopyFile(m.spec.RunConfigPath(), scriptCopy); err != nil {
			return nil, errdefs.Wrap(err, errdefs.KindConfiguration, "start", "failed to place run configuration next to the driver")
		}
	}

	start := time.Now()
	logPath := filepath.Join(m.spec.LogsPath(), "benchmark_"+formatUnix(start)+".log")
	if err := file.CreateFileDir(logPath); err != nil {
		return nil, err
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, common.FileMode0644)
	if err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindConfiguration, "start", "failed to open benchmark log")
	}

	paths := pathmap.New(m.spec.BaseDir, m.spec.RemoteStagingRoot, target.Remote)
	exec, err := m.newExecutor(target, paths)
	if err != nil {
		logFile.Close()
		return nil, err
	}

	id := uuid.NewString()
	run := &activeRun{
		id:        id,
		sessionID: sessionID,
		opts:      opts,
		exec:      exec,
		class:     classifier.New(start, opts.EstimatedSeconds, m.spec.Run.TickPersist),
		logFile:   logFile,
		log:       logger.Log.WithRun(id).WithField(common.LogFieldSession, sessionID).WithField(common.LogFieldNode, nodeName(target)),
		done:      make(chan struct{}),
		wake:      make(chan struct{}),
		record: &runstate.Record{
			RunID:      id,
			SessionID:  sessionID,
			LogPath:    logPath,
			Config:     runConfig,
			StartTime:  start,
			Status:     notify.StatusStarted,
			Progress:   runstate.ComputeProgress(0, 0, 0, opts.EstimatedSeconds),
			ScriptName: m.spec.DriverScript,
			Remote:     target.Remote,
		},
	}
	if err := m.store.Save(run.record); err != nil {
		logFile.Close()
		exec.Close()
		return nil, errdefs.Wrap(err, errdefs.KindConfiguration, "start", "failed to persist run record")
	}
	return run, nil
}

// Stop ends the active run: terminate, grace period, kill. It returns false
// when no run was active. It waits for the run to reach a terminal state or
// for ctx to end.
func (m *Manager) Stop(ctx context.Context) (bool, error) {
	m.mu.Lock()
	run := m.run
	if run == nil || !m.phase.Active() {
		m.mu.Unlock()
		return false, nil
	}
	first := !run.stopRequested
	run.stopRequested = true
	m.phase = common.PhaseStopped
	handle := run.handle
	pid := run.record.PID
	m.mu.Unlock()

	if first {
		run.log.Info("stop requested")
		close(run.wake)
		switch {
		case handle != nil:
			m.terminate(run, handle)
		case run.recovered && pid > 0:
			m.terminateRecovered(ctx, run, pid)
		}
	}

	select {
	case <-run.done:
		return true, nil
	case <-ctx.Done():
		return true, ctx.Err()
	}
}

// Wait blocks until the current run, if any, has finished.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	run := m.run
	m.mu.Unlock()
	if run == nil {
		return nil
	}
	select {
	case <-run.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) setPhase(p common.RunPhase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// a stop request wins over worker progress
	if m.phase == common.PhaseStopped {
		return
	}
	m.phase = p
}

func (m *Manager) publish(run *activeRun, eventType string, data any) {
	if m.notifier == nil {
		return
	}
	m.notifier.Publish(run.sessionID, eventType, data)
}

func (m *Manager) publishStatus(run *activeRun, status, message string) {
	m.mu.Lock()
	run.record.Status = status
	m.mu.Unlock()
	m.publish(run, notify.TypeStatus, notify.NewStatus(status, message))
}

// persist saves a copy of the run record taken under the lock.
func (m *Manager) persist(run *activeRun) {
	m.mu.Lock()
	snap := *run.record
	m.mu.Unlock()
	if err := m.store.Save(&snap); err != nil {
		run.log.Warnf("failed to persist run record: %v", err)
	}
}

func nodeName(t executor.Target) string {
	if n := t.Node(); n != "" {
		return n
	}
	return common.LocalHostname
}
