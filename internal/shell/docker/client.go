package docker

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/docker/docker/api/types/image"
	registrytypes "github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/opencontainers/go-digest"
)

// =============================================================================
// Docker Client Implementation
// =============================================================================

// EngineClient implements the Client interface using the Docker SDK.
type EngineClient struct {
	cli *client.Client

	// encodedAuth is set by Login and reused for every push in the run.
	encodedAuth string
}

// NewEngineClient creates a new Docker client.
// If host is empty, it uses the default Docker host from environment.
// On macOS with Docker Desktop, it automatically detects the correct socket.
func NewEngineClient(host string) (*EngineClient, error) {
	var opts []client.Opt
	opts = append(opts, client.FromEnv)
	opts = append(opts, client.WithAPIVersionNegotiation())

	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewDockerError("NewEngineClient", "", "", "failed to create client", ErrConnectionFailed)
	}

	// Try to ping with default settings
	ctx := context.Background()
	if _, pingErr := cli.Ping(ctx); pingErr != nil {
		// If default socket fails, try Docker Desktop socket on macOS
		homeDir, _ := os.UserHomeDir()
		dockerDesktopSocket := "unix://" + homeDir + "/.docker/run/docker.sock"

		cli2, err2 := client.NewClientWithOpts(
			client.WithHost(dockerDesktopSocket),
			client.WithAPIVersionNegotiation(),
		)
		if err2 == nil {
			if _, pingErr2 := cli2.Ping(ctx); pingErr2 == nil {
				cli.Close()
				return &EngineClient{cli: cli2}, nil
			}
			cli2.Close()
		}
	}

	return &EngineClient{cli: cli}, nil
}

// Ping checks if the Docker daemon is reachable.
func (d *EngineClient) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	if err != nil {
		return NewDockerError("Ping", "", "", "failed to ping docker: "+err.Error(), ErrConnectionFailed)
	}
	return nil
}

// Version returns the engine version, used as the preflight identity query.
func (d *EngineClient) Version(ctx context.Context) (*VersionInfo, error) {
	v, err := d.cli.ServerVersion(ctx)
	if err != nil {
		return nil, NewDockerError("Version", "", "", err.Error(), ErrConnectionFailed)
	}
	return &VersionInfo{
		Version:    v.Version,
		APIVersion: v.APIVersion,
		OS:         v.Os,
		Arch:       v.Arch,
	}, nil
}

// Close closes the Docker client connection.
func (d *EngineClient) Close() error {
	return d.cli.Close()
}

// =============================================================================
// Registry Operations
// =============================================================================

// Login authenticates the engine against a registry and retains the encoded
// credential for subsequent pushes.
func (d *EngineClient) Login(ctx context.Context, auth RegistryAuth) error {
	authConfig := registrytypes.AuthConfig{
		Username:      auth.Username,
		Password:      auth.Password,
		ServerAddress: auth.ServerAddress,
	}

	if _, err := d.cli.RegistryLogin(ctx, authConfig); err != nil {
		return NewDockerError("Login", "registry", auth.ServerAddress, err.Error(), ErrLoginFailed)
	}

	encoded, err := registrytypes.EncodeAuthConfig(authConfig)
	if err != nil {
		return NewDockerError("Login", "registry", auth.ServerAddress, err.Error(), ErrLoginFailed)
	}
	d.encodedAuth = encoded
	return nil
}

// =============================================================================
// Image Operations
// =============================================================================

// Pull pulls an image from its source registry.
func (d *EngineClient) Pull(ctx context.Context, ref string) error {
	reader, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "not found") ||
			strings.Contains(errStr, "manifest unknown") ||
			strings.Contains(errStr, "repository does not exist") ||
			strings.Contains(errStr, "pull access denied") {
			return NewDockerError("Pull", "image", ref, "image not found", ErrImageNotFound)
		}
		return NewDockerError("Pull", "image", ref, err.Error(), ErrImagePullFailed)
	}

	if err := drainStream(reader); err != nil {
		return NewDockerError("Pull", "image", ref, err.Error(), ErrImagePullFailed)
	}
	return nil
}

// Tag creates a local alias for an image.
func (d *EngineClient) Tag(ctx context.Context, source, target string) error {
	if err := d.cli.ImageTag(ctx, source, target); err != nil {
		if client.IsErrNotFound(err) {
			return NewDockerError("Tag", "image", source, "image not found", ErrImageNotFound)
		}
		return NewDockerError("Tag", "image", target, err.Error(), ErrImageTagFailed)
	}
	return nil
}

// Push uploads a tagged image using the credential retained by Login.
func (d *EngineClient) Push(ctx context.Context, ref string) error {
	if d.encodedAuth == "" {
		return NewDockerError("Push", "image", ref, "login must precede push", ErrNotLoggedIn)
	}

	reader, err := d.cli.ImagePush(ctx, ref, image.PushOptions{RegistryAuth: d.encodedAuth})
	if err != nil {
		return NewDockerError("Push", "image", ref, err.Error(), ErrImagePushFailed)
	}

	if err := drainStream(reader); err != nil {
		return NewDockerError("Push", "image", ref, err.Error(), ErrImagePushFailed)
	}
	return nil
}

// ImageDigest returns the repo digest recorded for a local image, or "" when
// the image has never been pushed or pulled by digest.
func (d *EngineClient) ImageDigest(ctx context.Context, ref string) (string, error) {
	inspect, _, err := d.cli.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", NewDockerError("ImageDigest", "image", ref, "image not found", ErrImageNotFound)
		}
		return "", NewDockerError("ImageDigest", "image", ref, err.Error(), err)
	}

	for _, repoDigest := range inspect.RepoDigests {
		_, raw, ok := strings.Cut(repoDigest, "@")
		if !ok {
			continue
		}
		dgst, err := digest.Parse(raw)
		if err != nil {
			continue
		}
		return dgst.String(), nil
	}
	return "", nil
}

// =============================================================================
// Helpers
// =============================================================================

// drainStream consumes a pull/push progress stream. The engine reports
// failures in-band, so the stream must be decoded rather than discarded.
func drainStream(rc io.ReadCloser) error {
	defer rc.Close()

	err := jsonmessage.DisplayJSONMessagesStream(rc, io.Discard, 0, false, nil)
	if err != nil {
		var jsonErr *jsonmessage.JSONError
		if errors.As(err, &jsonErr) {
			return errors.New(jsonErr.Message)
		}
		return err
	}
	return nil
}
