package connector

import (
	"regexp"
	"strings"
)

var shellSafe = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./-]+$`)

// ShellQuote returns arg as a single POSIX shell word. Words made only of
// safe characters are returned as-is; everything else is single-quoted.
func ShellQuote(arg string) string {
	if arg != "" && shellSafe.MatchString(arg) {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", "'\\''") + "'"
}
