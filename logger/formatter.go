package logger

import (
	"bytes"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	resetColorCode         = 0
	defaultFieldSeparator  = " | "
	defaultTimestampFormat = time.RFC3339
)

// Formatter implements logrus.Formatter.
type Formatter struct {
	// TimestampFormat specifies the format of the timestamp. Default: time.RFC3339.
	TimestampFormat string
	// NoColors disables colorized level names.
	NoColors bool
	// DisplayLevelName configures which level names are printed.
	DisplayLevelName LevelNameDisplayMode
	// FieldsDisplayWithOrder lists field keys printed first, in order.
	// Remaining fields follow alphabetically.
	FieldsDisplayWithOrder []string
	// FieldSeparator defaults to " | ".
	FieldSeparator string
	DisableCaller  bool
	// CustomCallerFormatter overrides the default "(file:line func)" caller text.
	CustomCallerFormatter func(*runtime.Frame) string
	// MaxFieldValueLength truncates long field values. 0 means no truncation.
	MaxFieldValueLength int
}

// LevelNameDisplayMode defines how log level names are displayed.
type LevelNameDisplayMode int

const (
	ShowAll LevelNameDisplayMode = iota
	ShowAboveWarn
	ShowAboveError
	HideAll
)

// Format formats the log entry.
func (f *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	b := &bytes.Buffer{}

	timestampFormat := f.TimestampFormat
	if timestampFormat == "" {
		timestampFormat = defaultTimestampFormat
	}
	b.WriteString(entry.Time.Format(timestampFormat))
	b.WriteString(" ")

	if f.showLevel(entry.Level) {
		level := strings.ToUpper(entry.Level.String())
		if len(level) > 4 {
			level = level[:4]
		}
		if !f.NoColors {
			fmt.Fprintf(b, "\x1b[%dm[%s]\x1b[%dm ", getColorByLevel(entry.Level), level, resetColorCode)
		} else {
			fmt.Fprintf(b, "[%s] ", level)
		}
	}

	if len(entry.Data) > 0 {
		sep := f.FieldSeparator
		if sep == "" {
			sep = defaultFieldSeparator
		}
		b.WriteString("[")
		for i, key := range f.orderedKeys(entry.Data) {
			if i > 0 {
				b.WriteString(sep)
			}
			f.writeKeyValue(b, key, entry.Data[key])
		}
		b.WriteString("] ")
	}

	b.WriteString(entry.Message)

	if !f.DisableCaller && entry.HasCaller() {
		b.WriteString(" ")
		if f.CustomCallerFormatter != nil {
			b.WriteString(f.CustomCallerFormatter(entry.Caller))
		} else {
			fn := filepath.Base(entry.Caller.Function)
			if parts := strings.Split(fn, "."); len(parts) > 1 {
				fn = parts[len(parts)-1]
			}
			fmt.Fprintf(b, "(%s:%d %s)", filepath.Base(entry.Caller.File), entry.Caller.Line, fn)
		}
	}

	b.WriteByte('\n')
	return b.Bytes(), nil
}

func (f *Formatter) showLevel(level logrus.Level) bool {
	switch f.DisplayLevelName {
	case ShowAll:
		return true
	case ShowAboveWarn:
		return level <= logrus.WarnLevel
	case ShowAboveError:
		return level <= logrus.ErrorLevel
	default:
		return false
	}
}

func (f *Formatter) orderedKeys(data logrus.Fields) []string {
	keys := make([]string, 0, len(data))
	seen := make(map[string]bool, len(f.FieldsDisplayWithOrder))
	for _, k := range f.FieldsDisplayWithOrder {
		if _, ok := data[k]; ok {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	rest := make([]string, 0, len(data)-len(keys))
	for k := range data {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

func (f *Formatter) writeKeyValue(b *bytes.Buffer, key string, value interface{}) {
	val := fmt.Sprintf("%v", value)
	if f.MaxFieldValueLength > 0 && len(val) > f.MaxFieldValueLength {
		val = val[:f.MaxFieldValueLength] + "..."
	}
	fmt.Fprintf(b, "%s:%s", key, val)
}

func getColorByLevel(level logrus.Level) int {
	switch level {
	case logrus.DebugLevel, logrus.TraceLevel:
		return colorBlue
	case logrus.WarnLevel:
		return colorYellow
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return colorRed
	default:
		return colorGray
	}
}

const (
	colorRed    = 31
	colorYellow = 33
	colorBlue   = 36
	colorGray   = 37
)
