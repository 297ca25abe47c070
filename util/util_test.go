package util

import (
	"path/filepath"
	"sync"
	"testing"
)

func TestHome(t *testing.T) {
	homeOnce = sync.Once{}
	homeDir = ""
	homeErr = nil

	home, err := Home()
	if err != nil {
		t.Skipf("no home directory in this environment: %v", err)
	}
	if home == "" {
		t.Fatal("Home() returned an empty string")
	}

	homeAgain, errAgain := Home()
	if errAgain != err || homeAgain != home {
		t.Errorf("Home() on second call = %q, %v; want cached %q, %v", homeAgain, errAgain, home, err)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := Home()
	if err != nil {
		t.Skipf("no home directory in this environment: %v", err)
	}

	tests := []struct {
		in   string
		want string
	}{
		{in: "~", want: home},
		{in: "~/.ssh/id_ed25519", want: filepath.Join(home, ".ssh/id_ed25519")},
		{in: "/etc/xmbench/key", want: "/etc/xmbench/key"},
		{in: "relative/key", want: "relative/key"},
		{in: "~bench/.ssh/id_rsa", want: "~bench/.ssh/id_rsa"},
		{in: "", want: ""},
	}
	for _, tt := range tests {
		got, err := ExpandHome(tt.in)
		if err != nil {
			t.Errorf("ExpandHome(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ExpandHome(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
