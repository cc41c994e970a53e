package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Rotation error taxonomy. Callers match these with errors.Is.
var (
	ErrInvalidInterval          = errors.New("invalid rotation interval")
	ErrPolicyViolation          = errors.New("credential policy violation")
	ErrRemoteStateUnavailable   = errors.New("remote state unavailable")
	ErrCyclicDependency         = errors.New("cyclic dependency")
	ErrReconciliationInProgress = errors.New("reconciliation in progress")
	ErrStalePlan                = errors.New("stale plan")
)

// ProvisioningFailed reports a provisioning action that did not complete.
// LastKnownGood is the binding state recorded for the spec when the action failed.
type ProvisioningFailed struct {
	Action        string
	Resource      string
	LastKnownGood string
	Cause         error
}

func (e *ProvisioningFailed) Error() string {
	msg := fmt.Sprintf("provisioning failed: %s %s", e.Action, e.Resource)
	if e.LastKnownGood != "" {
		msg += fmt.Sprintf(" (state: %s)", e.LastKnownGood)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ProvisioningFailed) Unwrap() error {
	return e.Cause
}

// PolicyViolation wraps ErrPolicyViolation with the offending field.
func PolicyViolation(field, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s: %s", ErrPolicyViolation, field, fmt.Sprintf(format, args...))
}

// RemoteUnavailable marks err as a transient remote-state failure.
func RemoteUnavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrRemoteStateUnavailable, op, err)
}

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
	Err        error
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

func (e ConfigError) Unwrap() error {
	return e.Err
}

// Suggest returns an operator hint for a rotation error, or "" if there is none
func Suggest(err error) string {
	var failed *ProvisioningFailed
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrReconciliationInProgress):
		return "Another pass holds the lock on this spec. Wait for it to finish; 'credrotate status' shows the holder"
	case errors.Is(err, ErrStalePlan):
		return "State changed since the plan was written. Run 'credrotate plan' again"
	case errors.Is(err, ErrInvalidInterval):
		return "Set a positive interval such as '24h', '1d' or '2w'"
	case errors.Is(err, ErrPolicyViolation):
		return "Increase the length, relax the min_* counts, or set a non-empty override_special"
	case errors.Is(err, ErrCyclicDependency):
		return "Remove the depends_on loop between resources"
	case errors.As(err, &failed):
		return "The state record keeps the failed step; the next 'credrotate rotate' resumes from it"
	case errors.Is(err, ErrRemoteStateUnavailable):
		return "The provisioning API could not be reached. Check network access and credentials, or raise timeout_ms"
	}
	return ""
}

// Present wraps a rotation error as a UserError with a suggestion when one applies
func Present(err error) error {
	if err == nil {
		return nil
	}
	var ue UserError
	if errors.As(err, &ue) {
		return err
	}
	var ce ConfigError
	if errors.As(err, &ce) {
		return err
	}
	suggestion := Suggest(err)
	if suggestion == "" {
		return err
	}
	return UserError{
		Message:    err.Error(),
		Suggestion: suggestion,
		Err:        err,
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRemoteStateUnavailable) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"timeout",
		"temporary failure",
		"connection reset",
		"connection refused",
		"broken pipe",
		"rate limit",
		"throttling",
		"too many requests",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
