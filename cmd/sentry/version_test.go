package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	orig := Version
	Version = "0.1.0-test"
	defer func() { Version = orig }()

	var out bytes.Buffer
	versionCmd.SetOut(&out)
	defer versionCmd.SetOut(nil)
	versionCmd.Run(versionCmd, nil)

	for _, want := range []string{"Sentry 0.1.0-test", "Git Commit:", "Go Version:", "OS/Arch:"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := map[string]bool{
		"check": false, "sanitize": false, "batch": false,
		"policy": false, "audit": false, "serve": false, "version": false,
	}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("command %q not registered", name)
		}
	}
}
