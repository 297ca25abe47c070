package orchestrator

import (
	"context"

	"github.com/mensylisir/xmbench/config"
	"github.com/mensylisir/xmbench/pathmap"
	"github.com/mensylisir/xmbench/telemetry"
)

// SystemInfo describes the hardware of the active run's target, or of the
// saved configuration's target when idle. It opens its own executor so an
// active run's connection is left alone.
func (m *Manager) SystemInfo(ctx context.Context) (*telemetry.SystemInfo, error) {
	var opts *config.RunOptions
	m.mu.Lock()
	if m.run != nil && m.phase.Active() {
		opts = m.run.opts
	}
	m.mu.Unlock()

	if opts == nil {
		saved, err := m.SavedConfig()
		if err != nil {
			return nil, err
		}
		if opts, err = config.DecodeRunOptions(saved); err != nil {
			return nil, err
		}
	}
	target, err := opts.Target()
	if err != nil {
		return nil, err
	}
	exec, err := m.newExecutor(target, pathmap.New(m.spec.BaseDir, m.spec.RemoteStagingRoot, target.Remote))
	if err != nil {
		return nil, err
	}
	defer exec.Close()

	m.log.WithField("remote", exec.IsRemote()).Debug("collecting system information")
	return telemetry.CollectSystemInfo(ctx, exec)
}
