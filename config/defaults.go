package config

import (
	"github.com/mensylisir/xmbench/common"
)

// Default returns a supervisor configuration with every default applied.
func Default() *Supervisor {
	cfg := &Supervisor{APIVersion: APIVersion, Kind: Kind, Metadata: MetadataSpec{Name: common.AppName}}
	SetDefaults(&cfg.Spec)
	return cfg
}

// SetDefaults fills every unset field of spec.
func SetDefaults(spec *SupervisorSpec) {
	setString(&spec.BaseDir, common.DefaultBaseDir)
	setString(&spec.ScriptDir, common.DefaultScriptDir)
	setString(&spec.DriverScript, common.DefaultDriverScript)
	setString(&spec.RunConfigFile, common.DefaultRunConfigFile)
	setString(&spec.LogsDir, common.DefaultLogsDir)
	setString(&spec.ResultsDir, common.DefaultResultsDir)
	setString(&spec.StateFile, common.DefaultStateFile)
	setString(&spec.HistoryDB, common.DefaultHistoryDB)
	setString(&spec.RemoteStagingRoot, common.RemoteStagingRoot)
	setString(&spec.ListenAddress, common.DefaultListenAddress)
	setString(&spec.Log.Level, "info")

	if spec.Run.TickPersist <= 0 {
		spec.Run.TickPersist = common.DefaultTickPersist
	}
	if spec.Run.PollInterval <= 0 {
		spec.Run.PollInterval = common.DefaultPollInterval
	}
	if spec.Run.StopGrace <= 0 {
		spec.Run.StopGrace = common.DefaultStopGrace
	}
	if spec.Run.DrainGrace <= 0 {
		spec.Run.DrainGrace = common.DefaultDrainGrace
	}
	if spec.Run.WatchInterval <= 0 {
		spec.Run.WatchInterval = common.DefaultWatchInterval
	}
	if spec.Telemetry.IntervalSeconds <= 0 {
		spec.Telemetry.IntervalSeconds = common.DefaultTelemetryEvery
	}
}

func setString(field *string, def string) {
	if *field == "" {
		*field = def
	}
}
