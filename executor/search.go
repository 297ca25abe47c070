package executor

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// searchPattern turns a literal name into a pgrep -f pattern that does not
// match its own command line (nor a sudo or shell wrapper around it).
func searchPattern(name string) string {
	first, size := utf8.DecodeRuneInString(name)
	if size == 0 {
		return ""
	}
	return "[" + regexp.QuoteMeta(string(first)) + "]" + regexp.QuoteMeta(name[size:])
}

type runner interface {
	Run(ctx context.Context, argv []string, opts ...Option) (*Result, error)
}

func findProcess(ctx context.Context, r runner, name string) ([]int, error) {
	if name == "" {
		return nil, errors.New("empty process name")
	}
	res, err := r.Run(ctx, []string{"pgrep", "-f", searchPattern(name)})
	if err != nil {
		return nil, err
	}
	switch res.ExitCode {
	case 0:
	case 1:
		return nil, nil
	default:
		return nil, errors.Errorf("pgrep exited with code %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	var pids []int
	for _, field := range strings.Fields(res.Stdout) {
		pid, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, nil
}
