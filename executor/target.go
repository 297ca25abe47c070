package executor

import (
	"github.com/mensylisir/xmbench/connector"
	"github.com/mensylisir/xmbench/errdefs"
	"github.com/mensylisir/xmbench/pathmap"
)

// Target identifies the device under test. Remote-only fields are ignored
// when Remote is false.
type Target struct {
	Remote   bool
	Host     string
	Port     int
	User     string
	Password string
	KeyFile  string
}

func (t Target) Validate() error {
	if !t.Remote {
		return nil
	}
	if t.Host == "" {
		return errdefs.New(errdefs.KindConfiguration, "target", "remote mode requires a host")
	}
	if t.User == "" {
		return errdefs.New(errdefs.KindConfiguration, "target", "remote mode requires a user")
	}
	return nil
}

// Node names the target for logs.
func (t Target) Node() string {
	if t.Remote {
		return t.Host
	}
	return ""
}

func (t Target) sshConfig() connector.Config {
	return connector.Config{
		Username: t.User,
		Password: t.Password,
		Address:  t.Host,
		Port:     t.Port,
		KeyFile:  t.KeyFile,
	}
}

// New returns the executor variant for target. paths must be built for the
// same target.
func New(target Target, paths *pathmap.Translator) (Executor, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if !target.Remote {
		return NewLocal(paths), nil
	}
	return NewRemote(target, paths, connector.NewDialer()), nil
}
