// Package classifier turns the driver's free-form output into typed progress
// events. It never fails: malformed markers are reported on the Outcome and
// the line is relayed as plain text.
package classifier

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mensylisir/xmbench/errdefs"
	"github.com/mensylisir/xmbench/runstate"
)

const (
	statusPrefix   = "STATUS:"
	debugPrefix    = "DEBUG:"
	statePrefix    = "STATE:"
	workloadPrefix = "WORKLOAD:"
	totalPrefix    = "TOTAL_STEPS:"
	errorPrefix    = "ERROR:"
	snapshotPrefix = "SNAPSHOT:"

	markerBaseline = "STAGE_PD_START"
	markerRAID     = "STAGE_VD_START"
	markerTick     = "TICK"
)

var (
	ansiEscape    = regexp.MustCompile(`\x1b[@-_][0-?]*[ -/]*[@-~]`)
	snapshotField = regexp.MustCompile(`(\w+)="([^"]*)"`)
)

// workloadNames maps a '-'-separated token segment to its display name.
var workloadNames = map[string]string{
	"randrw73":  "4k Random Read/Write Mix(70/30)",
	"randrw55":  "4k Random Read/Write Mix(50/50)",
	"randread":  "4k Random Read",
	"randwrite": "4k Random Write",
	"seqread":   "1M Sequential Read",
	"seqwrite":  "1M Sequential Write",
}

// FriendlyWorkload resolves a workload token. Unknown tokens are returned verbatim.
func FriendlyWorkload(token string) string {
	for _, seg := range strings.Split(token, "-") {
		if name, ok := workloadNames[strings.ToLower(seg)]; ok {
			return name
		}
	}
	return token
}

type EventType string

const (
	EventState    EventType = "state"
	EventStage    EventType = "stage"
	EventProgress EventType = "progress"
	EventSnapshot EventType = "snapshot"
	EventLog      EventType = "log"
)

// Snapshot is a driver request to capture the state of a finished test.
type Snapshot struct {
	TestName  string `json:"test_name"`
	OutputDir string `json:"output_dir"`
}

type Event struct {
	Type     EventType
	State    string
	Stage    runstate.StageInfo
	Progress runstate.Progress
	Snapshot Snapshot
	Line     string
}

// Outcome is the result of classifying one line.
type Outcome struct {
	Events []Event
	// Persist asks the caller to save the run record before relaying Events.
	Persist bool
	// Relay is false for lines that must only be logged.
	Relay bool
	// Err is a ProtocolParseError for a malformed marker.
	Err error
}

// Classifier holds the stage and progress of one run.
type Classifier struct {
	start        time.Time
	estimate     float64
	persistEvery int
	now          func() time.Time

	stage     runstate.StageInfo
	progress  runstate.Progress
	lastError string
}

// New returns a classifier for a run started at start. estimate is the static
// duration estimate in seconds, persistEvery the tick batching interval.
func New(start time.Time, estimate float64, persistEvery int) *Classifier {
	if persistEvery <= 0 {
		persistEvery = 1
	}
	return &Classifier{
		start:        start,
		estimate:     estimate,
		persistEvery: persistEvery,
		now:          time.Now,
		progress:     runstate.ComputeProgress(0, 0, 0, estimate),
	}
}

// Restore seeds the classifier with state recovered from a run record.
func (c *Classifier) Restore(stage runstate.StageInfo, progress runstate.Progress) {
	c.stage = stage
	c.progress = progress
}

func (c *Classifier) StageInfo() runstate.StageInfo { return c.stage }

func (c *Classifier) Progress() runstate.Progress { return c.progress }

// LastError is the message of the most recent ERROR marker, if any.
func (c *Classifier) LastError() string { return c.lastError }

// Clean strips terminal escapes and surrounding whitespace.
func Clean(line string) string {
	return strings.TrimSpace(ansiEscape.ReplaceAllString(line, ""))
}

// Classify consumes one line of driver output.
func (c *Classifier) Classify(raw string) Outcome {
	line := Clean(raw)
	if line == "" {
		return Outcome{}
	}
	body := strings.TrimSpace(strings.TrimPrefix(line, statusPrefix))
	if strings.HasPrefix(body, debugPrefix) {
		return Outcome{}
	}

	switch {
	case strings.HasPrefix(body, statePrefix):
		token := strings.TrimSpace(strings.TrimPrefix(body, statePrefix))
		if token == "" {
			return c.malformed(line, "empty state token")
		}
		return Outcome{Events: []Event{{Type: EventState, State: token}}}

	case body == markerBaseline:
		return c.enterStage(runstate.StageBaseline)

	case body == markerRAID:
		return c.enterStage(runstate.StageRAID)

	case strings.HasPrefix(body, workloadPrefix):
		token := strings.TrimSpace(strings.TrimPrefix(body, workloadPrefix))
		if token == "" {
			return c.malformed(line, "empty workload token")
		}
		friendly := FriendlyWorkload(token)
		if base := c.stage.Stage.Label(); base != "" {
			c.stage.Label = base + " - " + friendly
		} else {
			c.stage.Label = friendly
		}
		return Outcome{Events: []Event{{Type: EventStage, Stage: c.stage}}, Persist: true}

	case strings.HasPrefix(body, totalPrefix):
		n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(body, totalPrefix)))
		if err != nil || n < 0 {
			return c.malformed(line, "total steps is not a non-negative integer")
		}
		c.progress = runstate.ComputeProgress(0, n, c.elapsed(), c.estimate)
		return Outcome{Events: []Event{{Type: EventProgress, Progress: c.progress}}, Persist: true}

	case body == markerTick:
		c.progress = runstate.ComputeProgress(c.progress.CurrentStep+1, c.progress.TotalSteps, c.elapsed(), c.estimate)
		return Outcome{
			Events:  []Event{{Type: EventProgress, Progress: c.progress}},
			Persist: c.progress.CurrentStep%c.persistEvery == 0,
		}

	case strings.HasPrefix(body, errorPrefix):
		msg := strings.TrimSpace(strings.TrimPrefix(body, errorPrefix))
		if msg == "" {
			return c.malformed(line, "empty error message")
		}
		c.lastError = msg
		return Outcome{}

	case strings.HasPrefix(body, snapshotPrefix):
		fields := map[string]string{}
		for _, m := range snapshotField.FindAllStringSubmatch(body, -1) {
			fields[m[1]] = m[2]
		}
		snap := Snapshot{TestName: fields["test_name"], OutputDir: fields["output_dir"]}
		if snap.TestName == "" || snap.OutputDir == "" {
			return c.malformed(line, "snapshot needs test_name and output_dir")
		}
		return Outcome{Events: []Event{{Type: EventSnapshot, Snapshot: snap}}}
	}

	return Outcome{Events: []Event{{Type: EventLog, Line: line}}, Relay: true}
}

func (c *Classifier) enterStage(stage runstate.Stage) Outcome {
	c.stage = runstate.StageInfo{Stage: stage, Label: stage.Label()}
	return Outcome{Events: []Event{{Type: EventStage, Stage: c.stage}}, Persist: true}
}

func (c *Classifier) malformed(line, reason string) Outcome {
	return Outcome{
		Events: []Event{{Type: EventLog, Line: line}},
		Relay:  true,
		Err:    errdefs.Newf(errdefs.KindProtocolParse, "classify", "%s: %q", reason, line),
	}
}

func (c *Classifier) elapsed() float64 {
	return c.now().Sub(c.start).Seconds()
}
