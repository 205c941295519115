package deploy

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrToolMissing is returned when the container engine is absent or unreachable.
	ErrToolMissing = errors.New("required tool missing")

	// ErrUnauthenticated is returned when the AWS credential check fails.
	ErrUnauthenticated = errors.New("not authenticated to the registry provider")

	// ErrRepositoryOperationFailed is returned when the repository cannot be
	// described or created.
	ErrRepositoryOperationFailed = errors.New("repository operation failed")

	// ErrAuthenticationFailed is returned when the registry token fetch or the
	// engine login fails.
	ErrAuthenticationFailed = errors.New("registry authentication failed")

	// ErrImageOperationFailed is returned when pull, tag, or push fails.
	ErrImageOperationFailed = errors.New("image operation failed")

	// ErrPolicyApplicationFailed is returned when the lifecycle policy is rejected.
	ErrPolicyApplicationFailed = errors.New("lifecycle policy application failed")

	// ErrVerificationFailed is returned when the post-push image listing fails.
	ErrVerificationFailed = errors.New("verification failed")
)

// StepError reports which step of the run failed and of what kind the failure
// is. Every failure aborts the run; there is no retry or rollback.
type StepError struct {
	Step Step
	Kind error
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v: %v", e.Step, e.Kind, e.Err)
}

func (e *StepError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// NewStepError creates a new StepError.
func NewStepError(step Step, kind, err error) *StepError {
	return &StepError{Step: step, Kind: kind, Err: err}
}
