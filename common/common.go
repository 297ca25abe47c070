package common

import (
	"io/fs"
	"time"
)

const (
	AppName = "xmbench"

	// RemoteStagingRoot mirrors the local base directory on a remote DUT.
	RemoteStagingRoot = "/opt/xmbench"
)

// Log field keys, printed in this order by the logger formatter.
const (
	LogFieldRun       = "run"
	LogFieldSession   = "session"
	LogFieldNode      = "node"
	LogFieldComponent = "component"
	LogFieldStage     = "stage"
	LocalHostname     = "localhost"
)

const (
	// FileMode0755 represents rwxr-xr-x
	FileMode0755 fs.FileMode = 0755
	// FileMode0644 represents rw-r--r--
	FileMode0644 fs.FileMode = 0644
	// FileMode0600 represents rw-------
	FileMode0600 fs.FileMode = 0600
)

const (
	DefaultSSHPort    = 22
	DefaultSSHTimeout = 30 * time.Second
)

const (
	DefaultBaseDir        = "/opt/xmbench-gui"
	DefaultScriptDir      = "scripts"
	DefaultDriverScript   = "bench.sh"
	DefaultRunConfigFile  = "bench.conf"
	DefaultLogsDir        = "logs"
	DefaultResultsDir     = "results"
	DefaultStateFile      = ".run_state.json"
	DefaultHistoryDB      = "history.db"
	DefaultListenAddress  = ":5000"
	DefaultSessionID      = "default"
	DefaultTickPersist    = 10
	DefaultPollInterval   = 500 * time.Millisecond
	DefaultStopGrace      = time.Second
	DefaultDrainGrace     = 2 * time.Second
	DefaultWatchInterval  = 10 * time.Second
	DefaultTelemetryEvery = 1
)

// RunPhase is the lifecycle state of the single active benchmark run.
type RunPhase int

const (
	PhaseIdle RunPhase = iota
	PhaseStarting
	PhaseSyncing
	PhaseRunning
	PhaseCompleted
	PhaseFailed
	PhaseStopped
)

func (p RunPhase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseStarting:
		return "Starting"
	case PhaseSyncing:
		return "Syncing"
	case PhaseRunning:
		return "Running"
	case PhaseCompleted:
		return "Completed"
	case PhaseFailed:
		return "Failed"
	case PhaseStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Active reports whether the phase holds the run lock.
func (p RunPhase) Active() bool {
	return p != PhaseIdle
}
