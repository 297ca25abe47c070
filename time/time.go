package time

import (
	"math"
	"strings"
	"time"
)

// ShortDur shortens the string representation of a time.Duration from d.String().
func ShortDur(d time.Duration) string {
	s := d.String()
	if d == 0 {
		return "0s"
	}
	if strings.HasSuffix(s, "m0s") {
		s = s[:len(s)-2]
	}
	if strings.HasSuffix(s, "h0m") {
		s = s[:len(s)-2]
	}
	return s
}

// Seconds renders a run-progress second count (elapsed, remaining) rounded to
// whole seconds. Negative and non-finite values render as "0s".
func Seconds(sec float64) string {
	if math.IsNaN(sec) || math.IsInf(sec, 0) || sec <= 0 {
		return "0s"
	}
	return ShortDur(time.Duration(math.Round(sec)) * time.Second)
}
