package registry

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrUnauthenticated is returned when the caller identity cannot be resolved.
	ErrUnauthenticated = errors.New("not authenticated to AWS")

	// ErrRepositoryNotFound is returned when a repository does not exist.
	ErrRepositoryNotFound = errors.New("repository not found")

	// ErrRepositoryOperationFailed is returned when describe/create fails.
	ErrRepositoryOperationFailed = errors.New("repository operation failed")

	// ErrTokenInvalid is returned when an authorization token cannot be decoded.
	ErrTokenInvalid = errors.New("authorization token is invalid")

	// ErrPolicyRejected is returned when a lifecycle policy put fails.
	ErrPolicyRejected = errors.New("lifecycle policy rejected")

	// ErrConnectionFailed is returned when the AWS configuration cannot be loaded.
	ErrConnectionFailed = errors.New("AWS connection failed")
)

// RegistryError wraps errors with additional context.
type RegistryError struct {
	Op         string // Operation that failed (e.g., "EnsureRepository")
	Repository string // Repository name if applicable
	Message    string
	Err        error
}

func (e *RegistryError) Error() string {
	if e.Repository != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Repository, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *RegistryError) Unwrap() error {
	return e.Err
}

// NewRegistryError creates a new RegistryError.
func NewRegistryError(op, repository, message string, err error) *RegistryError {
	return &RegistryError{
		Op:         op,
		Repository: repository,
		Message:    message,
		Err:        err,
	}
}
