// Package pathmap maps local working-directory paths onto the remote staging
// root used when the device under test is a remote host.
package pathmap

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/mensylisir/xmbench/logger"
)

// Translator converts local paths under a base directory to their remote
// equivalents. For local targets it is the identity function.
type Translator struct {
	localBase  string
	remoteRoot string
	remote     bool
}

// New returns a Translator. remote selects whether paths are remapped at all.
func New(localBase, remoteRoot string, remote bool) *Translator {
	base, err := filepath.Abs(localBase)
	if err != nil {
		base = filepath.Clean(localBase)
	}
	return &Translator{
		localBase:  base,
		remoteRoot: path.Clean(remoteRoot),
		remote:     remote,
	}
}

// Identity returns a Translator that never remaps.
func Identity(localBase string) *Translator {
	return New(localBase, localBase, false)
}

func (t *Translator) IsRemote() bool { return t.remote }

func (t *Translator) LocalBase() string { return t.localBase }

func (t *Translator) RemoteRoot() string { return t.remoteRoot }

// ToRemote maps localPath below the local base onto the remote root.
// Paths outside the base are returned unchanged and are best-effort only.
func (t *Translator) ToRemote(localPath string) string {
	remote, _ := t.Translate(localPath)
	return remote
}

// Translate is ToRemote that also reports whether localPath was remapped
// onto the remote root. It is false for local targets and for paths outside
// the base.
func (t *Translator) Translate(localPath string) (string, bool) {
	if !t.remote || localPath == "" {
		return localPath, false
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return localPath, false
	}
	rel, err := filepath.Rel(t.localBase, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		logger.Log.Debugf("path %s is outside %s, passing it through unchanged", localPath, t.localBase)
		return localPath, false
	}
	if rel == "." {
		return t.remoteRoot, true
	}
	return path.Join(t.remoteRoot, filepath.ToSlash(rel)), true
}
