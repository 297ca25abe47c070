// Package config loads the supervisor configuration and decodes the options
// xmbench itself reads from a run configuration.
package config

import (
	"path/filepath"
	"time"
)

const (
	APIVersion = "xmbench.io/v1alpha1"
	Kind       = "Supervisor"
)

// Supervisor is the top-level configuration of the xmbench supervisor.
type Supervisor struct {
	APIVersion string         `yaml:"apiVersion"`
	Kind       string         `yaml:"kind"`
	Metadata   MetadataSpec   `yaml:"metadata"`
	Spec       SupervisorSpec `yaml:"spec"`
}

type MetadataSpec struct {
	Name string `yaml:"name"`
}

// SupervisorSpec locates the driver and its files and tunes run handling.
// Relative directories are resolved against BaseDir.
type SupervisorSpec struct {
	BaseDir           string        `yaml:"baseDir"`
	ScriptDir         string        `yaml:"scriptDir"`
	DriverScript      string        `yaml:"driverScript"`
	RunConfigFile     string        `yaml:"runConfigFile"`
	LogsDir           string        `yaml:"logsDir"`
	ResultsDir        string        `yaml:"resultsDir"`
	StateFile         string        `yaml:"stateFile"`
	HistoryDB         string        `yaml:"historyDB"`
	RemoteStagingRoot string        `yaml:"remoteStagingRoot"`
	ListenAddress     string        `yaml:"listenAddress"`
	Log               LogSpec       `yaml:"log"`
	Run               RunSpec       `yaml:"run"`
	Telemetry         TelemetrySpec `yaml:"telemetry"`
}

type LogSpec struct {
	Dir     string `yaml:"dir,omitempty"`
	Level   string `yaml:"level,omitempty"`
	Verbose bool   `yaml:"verbose,omitempty"`
}

// RunSpec holds the timings of the run worker and the recovery watcher.
type RunSpec struct {
	TickPersist   int           `yaml:"tickPersist"`
	PollInterval  time.Duration `yaml:"pollInterval"`
	StopGrace     time.Duration `yaml:"stopGrace"`
	DrainGrace    time.Duration `yaml:"drainGrace"`
	WatchInterval time.Duration `yaml:"watchInterval"`
}

type TelemetrySpec struct {
	Enabled         *bool `yaml:"enabled,omitempty"`
	IntervalSeconds int   `yaml:"intervalSeconds"`
}

func (s *SupervisorSpec) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.BaseDir, p)
}

func (s *SupervisorSpec) ScriptPath() string { return s.resolve(s.ScriptDir) }

func (s *SupervisorSpec) DriverPath() string {
	return filepath.Join(s.ScriptPath(), s.DriverScript)
}

// RunConfigPath is where the effective run configuration is saved.
func (s *SupervisorSpec) RunConfigPath() string { return s.resolve(s.RunConfigFile) }

func (s *SupervisorSpec) LogsPath() string { return s.resolve(s.LogsDir) }

func (s *SupervisorSpec) ResultsPath() string { return s.resolve(s.ResultsDir) }

func (s *SupervisorSpec) StatePath() string { return s.resolve(s.StateFile) }

func (s *SupervisorSpec) HistoryPath() string { return s.resolve(s.HistoryDB) }

func (s *SupervisorSpec) TelemetryEnabled() bool {
	return s.Telemetry.Enabled == nil || *s.Telemetry.Enabled
}
