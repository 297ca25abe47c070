package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"

	"github.com/mensylisir/xmbench/common"
)

// Log is the global logger instance of XMLog.
var Log *XMLog

// XMLog wraps logrus for application-specific logging.
type XMLog struct {
	*logrus.Logger
}

var fieldsOrder = []string{
	common.LogFieldRun, common.LogFieldSession, common.LogFieldNode, common.LogFieldComponent, common.LogFieldStage,
}

func init() {
	Log = &XMLog{Logger: newConsoleLogger(os.Stderr, false, logrus.InfoLevel)}
}

func newConsoleLogger(out io.Writer, verbose bool, level logrus.Level) *logrus.Logger {
	l := logrus.New()
	if verbose {
		level = logrus.DebugLevel
	}
	l.SetLevel(level)
	l.SetOutput(out)
	l.SetFormatter(&Formatter{
		TimestampFormat:        "15:04:05",
		DisplayLevelName:       displayMode(verbose),
		DisableCaller:          true,
		FieldsDisplayWithOrder: fieldsOrder,
	})
	return l
}

func displayMode(verbose bool) LevelNameDisplayMode {
	if verbose {
		return ShowAll
	}
	return ShowAboveWarn
}

// InitGlobalLogger replaces the global Log. With an outputDir, entries go to a
// daily rotated xmbench.log in that directory; the console is kept only in
// verbose mode.
func InitGlobalLogger(outputDir string, verbose bool, level logrus.Level) error {
	if outputDir == "" {
		Log = &XMLog{Logger: newConsoleLogger(os.Stderr, verbose, level)}
		return nil
	}

	l := newConsoleLogger(os.Stderr, verbose, level)
	l.SetReportCaller(true)

	if err := os.MkdirAll(outputDir, common.FileMode0755); err != nil {
		return fmt.Errorf("failed to create log output directory %s: %w", outputDir, err)
	}
	logFilePath := filepath.Join(outputDir, common.AppName+".log")
	writer, err := rotatelogs.New(
		logFilePath+".%Y%m%d",
		rotatelogs.WithLinkName(logFilePath),
		rotatelogs.WithMaxAge(7*24*time.Hour),
		rotatelogs.WithRotationTime(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize rotatelogs for %s: %w", logFilePath, err)
	}

	fileFormatter := &Formatter{
		TimestampFormat:        "2006-01-02 15:04:05.000 MST",
		NoColors:               true,
		DisplayLevelName:       ShowAll,
		FieldsDisplayWithOrder: fieldsOrder,
		CustomCallerFormatter: func(frame *runtime.Frame) string {
			return fmt.Sprintf("[%s:%d]", filepath.Base(frame.File), frame.Line)
		},
	}

	writers := lfshook.WriterMap{}
	for _, lvl := range logrus.AllLevels {
		if l.IsLevelEnabled(lvl) {
			writers[lvl] = writer
		}
	}
	l.Hooks.Add(lfshook.NewHook(writers, fileFormatter))
	if !verbose {
		l.SetOutput(io.Discard)
	}

	Log = &XMLog{Logger: l}
	return nil
}

// WithRun returns an entry tagged with a run id.
func (xl *XMLog) WithRun(runID string) *logrus.Entry {
	return xl.WithField(common.LogFieldRun, runID)
}

// WithNode returns an entry tagged with the target host.
func (xl *XMLog) WithNode(node string) *logrus.Entry {
	if node == "" {
		node = common.LocalHostname
	}
	return xl.WithField(common.LogFieldNode, node)
}

// WithComponent returns an entry tagged with a component name.
func (xl *XMLog) WithComponent(name string) *logrus.Entry {
	return xl.WithField(common.LogFieldComponent, name)
}
