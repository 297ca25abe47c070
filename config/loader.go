package config

import (
	"os"
	"path"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/mensylisir/xmbench/errdefs"
)

// Loader reads a Supervisor document from a file.
type Loader struct {
	filePath string
}

func NewLoader(filePath string) *Loader {
	return &Loader{filePath: filePath}
}

// Load reads, validates and defaults the configuration. An empty path yields
// the defaults.
func (l *Loader) Load() (*Supervisor, error) {
	if l.filePath == "" {
		return Default(), nil
	}
	content, err := os.ReadFile(l.filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file '%s'", l.filePath)
	}
	if len(content) == 0 {
		return nil, errdefs.Newf(errdefs.KindConfiguration, "loadConfig", "configuration file '%s' is empty", l.filePath)
	}

	var cfg Supervisor
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindConfiguration, "loadConfig",
			"failed to unmarshal config YAML from '"+l.filePath+"'")
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	SetDefaults(&cfg.Spec)
	return &cfg, nil
}

// Validate checks the fields that have no sensible default.
func Validate(cfg *Supervisor) error {
	if cfg.APIVersion == "" {
		return errdefs.New(errdefs.KindConfiguration, "validateConfig", "apiVersion is a required field")
	}
	if cfg.Kind != Kind {
		return errdefs.Newf(errdefs.KindConfiguration, "validateConfig", "kind must be '%s', got '%s'", Kind, cfg.Kind)
	}
	if root := cfg.Spec.RemoteStagingRoot; root != "" {
		if !path.IsAbs(root) || path.Clean(root) == "/" {
			return errdefs.Newf(errdefs.KindConfiguration, "validateConfig",
				"remoteStagingRoot must be an absolute path below /, got '%s'", root)
		}
	}
	if cfg.Spec.DriverScript != "" && path.Base(cfg.Spec.DriverScript) != cfg.Spec.DriverScript {
		return errdefs.Newf(errdefs.KindConfiguration, "validateConfig",
			"driverScript must be a file name inside scriptDir, got '%s'", cfg.Spec.DriverScript)
	}
	return nil
}
