package executor

import (
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/mensylisir/xmbench/connector"
)

var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// commandLine assembles a remote shell line from independently quoted parts:
// env exports, a directory change, an elevation prefix and the argument vector.
type commandLine struct {
	echoPID   bool
	env       map[string]string
	dir       string
	elevation []string
	argv      []string
}

func (c commandLine) build() (string, error) {
	if len(c.argv) == 0 {
		return "", errors.New("empty command")
	}

	var clauses []string
	if c.echoPID {
		clauses = append(clauses, "echo $$")
	}

	keys := make([]string, 0, len(c.env))
	for k := range c.env {
		if !envKeyPattern.MatchString(k) {
			return "", errors.Errorf("invalid environment variable name %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		clauses = append(clauses, "export "+k+"="+connector.ShellQuote(c.env[k]))
	}

	if c.dir != "" {
		clauses = append(clauses, "cd "+connector.ShellQuote(c.dir))
	}

	words := make([]string, 0, len(c.elevation)+len(c.argv))
	for _, w := range c.elevation {
		words = append(words, connector.ShellQuote(w))
	}
	for _, w := range c.argv {
		words = append(words, connector.ShellQuote(w))
	}
	cmd := strings.Join(words, " ")
	if c.echoPID {
		cmd = "exec " + cmd
	}
	clauses = append(clauses, cmd)

	return strings.Join(clauses, " && "), nil
}
