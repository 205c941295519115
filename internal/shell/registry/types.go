// Package registry provides an ECR client for repository and image management.
package registry

import "time"

// =============================================================================
// Registry Types
// =============================================================================

// Identity describes the AWS principal the client is authenticated as.
type Identity struct {
	Account string
	ARN     string
	UserID  string
}

// Repository describes an ECR repository.
type Repository struct {
	Name       string
	URI        string
	ARN        string
	RegistryID string
	CreatedAt  time.Time
}

// Image describes a stored image version.
type Image struct {
	Digest    string
	Tags      []string
	PushedAt  time.Time
	SizeBytes int64
}

// Auth is a short-lived registry credential obtained from ECR.
// Password is valid until ExpiresAt; each deployment run fetches a fresh one.
type Auth struct {
	Username      string
	Password      string
	ProxyEndpoint string
	ExpiresAt     time.Time
}
