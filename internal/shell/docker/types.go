// Package docker provides a Docker client for registry login and image
// pull/tag/push operations.
package docker

import "context"

// =============================================================================
// Engine Types
// =============================================================================

// RegistryAuth carries a credential for logging the engine into a registry.
type RegistryAuth struct {
	Username      string
	Password      string
	ServerAddress string
}

// VersionInfo describes the engine the client is connected to.
type VersionInfo struct {
	Version    string
	APIVersion string
	OS         string
	Arch       string
}

// Client is the engine surface the deployment uses.
type Client interface {
	Ping(ctx context.Context) error
	Version(ctx context.Context) (*VersionInfo, error)
	Login(ctx context.Context, auth RegistryAuth) error
	Pull(ctx context.Context, ref string) error
	Tag(ctx context.Context, source, target string) error
	Push(ctx context.Context, ref string) error
	ImageDigest(ctx context.Context, ref string) (string, error)
	Close() error
}
