// Package runstate holds the persisted snapshot of the active benchmark run
// and the progress model derived from driver tick markers.
package runstate

import (
	"encoding/json"
	"math"
	"time"

	"github.com/pkg/errors"
)

// Stage is the benchmark phase a run is in.
type Stage int

const (
	StageNone Stage = iota
	StageBaseline
	StageRAID
)

const (
	BaselineLabel = "Baseline (Physical Drives)"
	RAIDLabel     = "RAID (Virtual Drive)"
)

var stageNames = map[Stage]string{
	StageNone:     "NONE",
	StageBaseline: "BASELINE",
	StageRAID:     "RAID",
}

func (s Stage) String() string {
	if n, ok := stageNames[s]; ok {
		return n
	}
	return "NONE"
}

// Label is the fixed display text of the stage.
func (s Stage) Label() string {
	switch s {
	case StageBaseline:
		return BaselineLabel
	case StageRAID:
		return RAIDLabel
	default:
		return ""
	}
}

func (s Stage) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Stage) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return errors.Wrap(err, "stage must be a string")
	}
	for k, v := range stageNames {
		if v == name {
			*s = k
			return nil
		}
	}
	return errors.Errorf("unknown stage %q", name)
}

type StageInfo struct {
	Stage Stage  `json:"stage"`
	Label string `json:"label"`
}

// Progress is a snapshot of how far the driver has advanced.
type Progress struct {
	CurrentStep      int     `json:"current_step"`
	TotalSteps       int     `json:"total_steps"`
	Percentage       float64 `json:"percentage"`
	ElapsedSeconds   float64 `json:"elapsed_seconds"`
	RemainingSeconds float64 `json:"remaining_seconds"`
}

// ComputeProgress derives percentage and remaining time. Percentage is always
// within [0, 100] and remaining is never negative. estimate is the static
// pre-run duration used until at least one step has completed.
func ComputeProgress(current, total int, elapsed, estimate float64) Progress {
	p := Progress{
		CurrentStep:    current,
		TotalSteps:     total,
		ElapsedSeconds: finiteOrZero(elapsed),
	}
	if total > 0 {
		p.Percentage = clamp(float64(current)/float64(total)*100, 0, 100)
	}
	if p.Percentage > 0 {
		p.RemainingSeconds = p.ElapsedSeconds * (100/p.Percentage - 1)
	} else {
		p.RemainingSeconds = estimate
	}
	p.RemainingSeconds = math.Max(finiteOrZero(p.RemainingSeconds), 0)
	return p
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(math.Max(v, lo), hi)
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Record is the persisted state of the single active run.
type Record struct {
	RunID      string         `json:"run_id"`
	SessionID  string         `json:"session_id"`
	LogPath    string         `json:"log_path"`
	Config     map[string]any `json:"config"`
	StartTime  time.Time      `json:"start_time"`
	Status     string         `json:"status"`
	StageInfo  StageInfo      `json:"stage_info"`
	Progress   Progress       `json:"progress"`
	PID        int            `json:"pid,omitempty"`
	ScriptName string         `json:"script_name"`
	Remote     bool           `json:"remote"`
}
