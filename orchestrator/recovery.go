package orchestrator

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/mensylisir/xmbench/classifier"
	"github.com/mensylisir/xmbench/common"
	"github.com/mensylisir/xmbench/config"
	"github.com/mensylisir/xmbench/errdefs"
	"github.com/mensylisir/xmbench/executor"
	"github.com/mensylisir/xmbench/hook"
	"github.com/mensylisir/xmbench/logger"
	"github.com/mensylisir/xmbench/notify"
	"github.com/mensylisir/xmbench/pathmap"
	"github.com/mensylisir/xmbench/runstate"
)

const probeTimeout = time.Minute

// Recover reattaches to a run that survived a supervisor restart. It returns
// true when a live run was found and is now watched. A stale record is
// discarded. A record whose target cannot be probed is kept for the next
// attempt and the probe error is returned.
func (m *Manager) Recover(ctx context.Context) (bool, error) {
	rec := m.store.Load()
	if rec == nil {
		return false, nil
	}
	log := logger.Log.WithRun(rec.RunID).WithField(common.LogFieldSession, rec.SessionID)

	opts, err := config.DecodeRunOptions(rec.Config)
	if err != nil {
		log.Warnf("discarding run record with unusable config: %v", err)
		return false, m.store.Clear()
	}
	target, err := opts.Target()
	if err != nil {
		log.Warnf("discarding run record with unusable target: %v", err)
		return false, m.store.Clear()
	}
	exec, err := m.newExecutor(target, pathmap.New(m.spec.BaseDir, m.spec.RemoteStagingRoot, target.Remote))
	if err != nil {
		return false, err
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	pids, err := probe(probeCtx, exec, rec)
	cancel()
	if err != nil {
		exec.Close()
		return false, errdefs.Wrap(err, errdefs.KindConnection, "recover", "could not probe for the driver process")
	}
	if len(pids) == 0 {
		log.Infof("no %s process left on the target, discarding stale run record", rec.ScriptName)
		exec.Close()
		return false, m.store.Clear()
	}

	run := &activeRun{
		id:        rec.RunID,
		sessionID: rec.SessionID,
		opts:      opts,
		exec:      exec,
		class:     classifier.New(rec.StartTime, opts.EstimatedSeconds, m.spec.Run.TickPersist),
		log:       log.WithField(common.LogFieldNode, nodeName(target)),
		recovered: true,
		done:      make(chan struct{}),
		wake:      make(chan struct{}),
		record:    rec,
	}
	run.class.Restore(rec.StageInfo, rec.Progress)
	if len(pids) > 1 {
		msg := "found " + strconv.Itoa(len(pids)) + " processes matching " + rec.ScriptName + ", liveness of the recovered run is ambiguous"
		run.log.Warn(msg)
		m.publish(run, notify.TypeError, map[string]string{"message": msg})
	}

	m.mu.Lock()
	if m.phase.Active() {
		m.mu.Unlock()
		exec.Close()
		return false, errdefs.New(errdefs.KindConflict, "recover", "a benchmark is already running")
	}
	m.phase = common.PhaseRunning
	m.run = run
	rec.Status = notify.StatusRunning
	// found by search: pin the watched process so Stop and later probes target it
	pinned := rec.PID == 0
	if pinned {
		rec.PID = pids[0]
	}
	m.mu.Unlock()
	if pinned {
		m.persist(run)
	}

	run.log.Infof("reattached to running benchmark (pids %v)", pids)
	m.startTelemetry(run)
	m.publishStatus(run, notify.StatusRunning, "Reattached to running benchmark")
	go m.watch(run)
	return true, nil
}

// probe looks for the driver of rec on the target. A recorded pid is checked
// directly; without one the process table is searched by script name.
func probe(ctx context.Context, exec executor.Executor, rec *runstate.Record) ([]int, error) {
	if rec.PID > 0 {
		res, err := exec.Run(ctx, []string{"ps", "-o", "args=", "-p", strconv.Itoa(rec.PID)})
		if err != nil {
			return nil, err
		}
		if res.ExitCode == 0 && strings.Contains(res.Stdout, rec.ScriptName) {
			return []int{rec.PID}, nil
		}
		return nil, nil
	}
	return exec.FindProcess(ctx, rec.ScriptName)
}

// watch polls for the recovered driver until it is gone. Its output stream
// was lost with the previous supervisor, so polling is the only signal.
func (m *Manager) watch(run *activeRun) {
	var result outcome
	_ = hook.Call(hook.Funcs{
		TryFn: func() error {
			m.waitGone(run)
			result = outcome{status: notify.StatusRecovered, message: "Benchmark finished while detached, exit code unknown"}
			return nil
		},
		CatchFn: func(err error) error {
			run.log.Errorf("recovery watcher failed: %v", err)
			result = outcome{status: notify.StatusFailed, message: err.Error()}
			return err
		},
		FinallyFn: func() {
			m.finish(run, result)
		},
	})
}

func (m *Manager) waitGone(run *activeRun) {
	interval := m.spec.Run.WatchInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()
	wake := run.wake

	for {
		select {
		case <-timer.C:
		case <-wake:
			// stop requested: poll faster from now on
			wake = nil
			interval = m.spec.Run.PollInterval
		}

		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		pids, err := probe(ctx, run.exec, run.record)
		cancel()
		switch {
		case err != nil:
			run.log.Warnf("liveness probe failed, retrying: %v", err)
		case len(pids) == 0:
			return
		}
		timer.Reset(interval)
	}
}
