package executor

import (
	"context"
	"strings"

	"github.com/mensylisir/xmbench/connector"
	"github.com/mensylisir/xmbench/errdefs"
)

// Privilege is the elevation level resolved for a live session.
type Privilege struct {
	IsRoot          bool
	Elevated        bool
	NeedsCredential bool
}

// prefix is the argument vector placed before every command.
func (p Privilege) prefix() []string {
	switch {
	case p.IsRoot:
		return nil
	case p.NeedsCredential:
		return []string{"sudo", "-S", "-E", "-p", ""}
	case p.Elevated:
		return []string{"sudo", "-n", "-E"}
	default:
		return nil
	}
}

func (p Privilege) String() string {
	switch {
	case p.IsRoot:
		return "root"
	case p.NeedsCredential:
		return "sudo (password)"
	case p.Elevated:
		return "sudo (passwordless)"
	default:
		return "unprivileged"
	}
}

// resolvePrivilege tries, in order: root, passwordless sudo, sudo with the
// supplied credential. It fails closed when none of them works.
func resolvePrivilege(ctx context.Context, conn connector.Connection, credential string) (Privilege, error) {
	stdout, _, code, err := conn.Exec(ctx, "id -u", nil)
	if err != nil {
		return Privilege{}, errdefs.Wrap(err, errdefs.KindConnection, "resolvePrivilege", "failed to query user id")
	}
	if code == 0 && strings.TrimSpace(string(stdout)) == "0" {
		return Privilege{IsRoot: true}, nil
	}

	_, _, code, err = conn.Exec(ctx, "sudo -n true", nil)
	if err != nil {
		return Privilege{}, errdefs.Wrap(err, errdefs.KindConnection, "resolvePrivilege", "failed to probe passwordless sudo")
	}
	if code == 0 {
		return Privilege{Elevated: true}, nil
	}

	if credential != "" {
		_, _, code, err = conn.Exec(ctx, "sudo -S -p '' true", credentialInput(credential))
		if err != nil {
			return Privilege{}, errdefs.Wrap(err, errdefs.KindConnection, "resolvePrivilege", "failed to probe sudo with password")
		}
		if code == 0 {
			return Privilege{Elevated: true, NeedsCredential: true}, nil
		}
		return Privilege{}, errdefs.New(errdefs.KindPermission, "resolvePrivilege", "sudo rejected the supplied password")
	}

	return Privilege{}, errdefs.New(errdefs.KindPermission, "resolvePrivilege",
		"user is not root, passwordless sudo is unavailable and no password was supplied")
}

func credentialInput(credential string) *strings.Reader {
	return strings.NewReader(credential + "\n")
}
