// Package util holds small helpers shared by the transport layers.
package util

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

var (
	homeOnce sync.Once
	homeDir  string
	homeErr  error
)

// Home returns the current user's home directory, resolved once.
func Home() (string, error) {
	homeOnce.Do(func() {
		if u, err := user.Current(); err == nil && u.HomeDir != "" {
			homeDir = u.HomeDir
			return
		}
		if homeDir = os.Getenv("HOME"); homeDir == "" {
			homeErr = errors.New("cannot determine home directory: no passwd entry and HOME is unset")
		}
	})
	return homeDir, homeErr
}

// ExpandHome replaces a leading "~" in path with the current user's home
// directory. "~user" forms are returned unchanged.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := Home()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
