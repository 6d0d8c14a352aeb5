package policy

import (
	"errors"
	"fmt"
)

var (
	// ErrPolicyUnavailable indicates the policy is missing or disabled.
	ErrPolicyUnavailable = errors.New("policy unavailable")

	// ErrNotFound is returned by stores for unknown policy ids.
	ErrNotFound = errors.New("policy not found")

	// ErrBindingNotFound indicates no binding exists for the agent and scene.
	ErrBindingNotFound = errors.New("no cleaning binding found")
)

// UnavailableError reports why a policy could not be resolved.
type UnavailableError struct {
	PolicyID int64
	Reason   string
	Cause    error
}

// Error returns the error message.
func (e *UnavailableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("policy %d unavailable: %s: %v", e.PolicyID, e.Reason, e.Cause)
	}
	return fmt.Sprintf("policy %d unavailable: %s", e.PolicyID, e.Reason)
}

// Unwrap returns the underlying cause.
func (e *UnavailableError) Unwrap() error {
	return e.Cause
}

// Is matches ErrPolicyUnavailable.
func (e *UnavailableError) Is(target error) bool {
	return target == ErrPolicyUnavailable
}
