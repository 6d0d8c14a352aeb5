package cli

import (
	"errors"
	"fmt"
	"testing"
)

func TestConfigError(t *testing.T) {
	err := NewConfigError("detection.l3.strategy", "unknown strategy")

	expected := "config error in detection.l3.strategy: unknown strategy"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestCommandErrorUnwrap(t *testing.T) {
	underlying := errors.New("catalog locked")
	err := NewCommandError("policy import", underlying)

	if err.Error() != "command policy import failed: catalog locked" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, underlying) {
		t.Error("errors.Is() should see through CommandError")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: 0},
		{name: "exit error", err: &ExitError{Code: 3, Reason: "REVIEW"}, want: 3},
		{name: "wrapped exit error", err: fmt.Errorf("check: %w", &ExitError{Code: 4}), want: 4},
		{name: "config error", err: NewConfigError("format", "bad"), want: 2},
		{name: "command error", err: NewCommandError("check", errors.New("boom")), want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
