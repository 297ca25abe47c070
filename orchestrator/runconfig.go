package orchestrator

import (
	"encoding/json"
	"os"

	"github.com/mensylisir/xmbench/errdefs"
	"github.com/mensylisir/xmbench/file"
)

// SavedConfig returns the last saved run configuration, or an empty one.
func (m *Manager) SavedConfig() (map[string]any, error) {
	data, err := os.ReadFile(m.spec.RunConfigPath())
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindConfiguration, "loadRunConfig", "failed to read saved run configuration")
	}
	cfg := map[string]any{}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindConfiguration, "loadRunConfig", "saved run configuration is not valid JSON")
	}
	return cfg, nil
}

// SaveConfig replaces the saved run configuration.
func (m *Manager) SaveConfig(cfg map[string]any) error {
	if cfg == nil {
		cfg = map[string]any{}
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errdefs.Wrap(err, errdefs.KindConfiguration, "saveRunConfig", "run configuration cannot be encoded")
	}
	if err := file.WriteFileAtomic(m.spec.RunConfigPath(), data); err != nil {
		return errdefs.Wrap(err, errdefs.KindConfiguration, "saveRunConfig", "failed to save run configuration")
	}
	return nil
}
