package deploy

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/shipper/internal/shell/docker"
	"github.com/artpar/shipper/internal/shell/registry"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeRegistry struct {
	identity    *registry.Identity
	identityErr error

	repos       map[string]*registry.Repository
	ensureErr   error
	createCalls int

	tokenErr error

	policies  map[string]string
	policyErr error

	images  []registry.Image
	listErr error

	mutations []string // every state-changing call, in order
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		identity: &registry.Identity{
			Account: "123456789012",
			ARN:     "arn:aws:iam::123456789012:user/deployer",
		},
		repos:    map[string]*registry.Repository{},
		policies: map[string]string{},
	}
}

func (f *fakeRegistry) CheckAccess(ctx context.Context) (*registry.Identity, error) {
	if f.identityErr != nil {
		return nil, f.identityErr
	}
	return f.identity, nil
}

func (f *fakeRegistry) EnsureRepository(ctx context.Context, name string) (*registry.Repository, bool, error) {
	if f.ensureErr != nil {
		return nil, false, f.ensureErr
	}
	if repo, ok := f.repos[name]; ok {
		return repo, false, nil
	}
	f.createCalls++
	f.mutations = append(f.mutations, "CreateRepository")
	repo := &registry.Repository{
		Name:      name,
		URI:       "123456789012.dkr.ecr.us-east-1.amazonaws.com/" + name,
		CreatedAt: time.Now(),
	}
	f.repos[name] = repo
	return repo, true, nil
}

func (f *fakeRegistry) AuthorizationToken(ctx context.Context) (*registry.Auth, error) {
	if f.tokenErr != nil {
		return nil, f.tokenErr
	}
	return &registry.Auth{
		Username:      "AWS",
		Password:      "sekrit",
		ProxyEndpoint: "https://123456789012.dkr.ecr.us-east-1.amazonaws.com",
		ExpiresAt:     time.Now().Add(12 * time.Hour),
	}, nil
}

func (f *fakeRegistry) PutLifecyclePolicy(ctx context.Context, name, policyText string) error {
	if f.policyErr != nil {
		return f.policyErr
	}
	f.mutations = append(f.mutations, "PutLifecyclePolicy")
	f.policies[name] = policyText
	return nil
}

func (f *fakeRegistry) ListImages(ctx context.Context, name string) ([]registry.Image, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.images, nil
}

type fakeEngine struct {
	pingErr    error
	versionErr error
	loginErr   error
	pullErr    error
	tagErr     error
	pushErr    map[string]error // per-target failures

	loggedIn bool
	tagged   []string
	pushed   []string
	digest   string

	mutations []string
}

func (f *fakeEngine) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeEngine) Version(ctx context.Context) (*docker.VersionInfo, error) {
	if f.versionErr != nil {
		return nil, f.versionErr
	}
	return &docker.VersionInfo{Version: "28.0.0", APIVersion: "1.47"}, nil
}

func (f *fakeEngine) Login(ctx context.Context, auth docker.RegistryAuth) error {
	if f.loginErr != nil {
		return f.loginErr
	}
	f.loggedIn = true
	return nil
}

func (f *fakeEngine) Pull(ctx context.Context, ref string) error {
	if f.pullErr != nil {
		return f.pullErr
	}
	f.mutations = append(f.mutations, "Pull "+ref)
	return nil
}

func (f *fakeEngine) Tag(ctx context.Context, source, target string) error {
	if f.tagErr != nil {
		return f.tagErr
	}
	f.tagged = append(f.tagged, target)
	return nil
}

func (f *fakeEngine) Push(ctx context.Context, ref string) error {
	if err, ok := f.pushErr[ref]; ok {
		return err
	}
	f.pushed = append(f.pushed, ref)
	f.mutations = append(f.mutations, "Push "+ref)
	return nil
}

func (f *fakeEngine) ImageDigest(ctx context.Context, ref string) (string, error) {
	if f.digest == "" {
		return "", nil
	}
	return f.digest, nil
}

func (f *fakeEngine) Close() error { return nil }

type fakePrompter struct {
	answer bool
	err    error
	asked  []string
}

func (f *fakePrompter) Confirm(question string) (bool, error) {
	f.asked = append(f.asked, question)
	return f.answer, f.err
}

// =============================================================================
// Test Helpers
// =============================================================================

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		SourceImage: "nginx:latest",
		Repository:  "my-app",
		Region:      "us-east-1",
		VersionTag:  "v1.0.0",
		KeepImages:  10,
		PolicyPath:  filepath.Join(t.TempDir(), "policy.json"),
	}
}

func testOrchestrator(t *testing.T, cfg Config, reg *fakeRegistry, eng *fakeEngine, p *fakePrompter) *Orchestrator {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewOrchestrator(cfg, reg, eng, p, logger)
}

// =============================================================================
// Full Run Tests
// =============================================================================

func TestRun_Success(t *testing.T) {
	reg := newFakeRegistry()
	reg.images = []registry.Image{{Digest: "sha256:abc", Tags: []string{"latest", "v1.0.0"}}}
	eng := &fakeEngine{digest: "sha256:abc"}
	p := &fakePrompter{answer: true}
	cfg := testConfig(t)

	res, err := testOrchestrator(t, cfg, reg, eng, p).Run(context.Background(), "run-1")
	require.NoError(t, err)

	assert.True(t, res.RepositoryCreated)
	assert.Equal(t, "123456789012.dkr.ecr.us-east-1.amazonaws.com/my-app", res.RepositoryURI)
	assert.Equal(t, "123456789012", res.AccountID)
	assert.Equal(t, "sha256:abc", res.Digest)
	assert.Equal(t, []string{
		"123456789012.dkr.ecr.us-east-1.amazonaws.com/my-app:latest",
		"123456789012.dkr.ecr.us-east-1.amazonaws.com/my-app:v1.0.0",
	}, res.PushedTags)
	assert.Len(t, res.Images, 1)
	assert.Empty(t, res.FailedStep)
	assert.False(t, res.Cancelled)
	assert.True(t, eng.loggedIn)

	// Policy applied with the configured retention count.
	assert.Contains(t, reg.policies["my-app"], `"countNumber": 10`)
}

func TestRun_EnsureIsIdempotent(t *testing.T) {
	reg := newFakeRegistry()
	eng := &fakeEngine{}
	cfg := testConfig(t)

	first, err := testOrchestrator(t, cfg, reg, eng, &fakePrompter{answer: true}).Run(context.Background(), "run-1")
	require.NoError(t, err)
	require.True(t, first.RepositoryCreated)

	second, err := testOrchestrator(t, cfg, reg, eng, &fakePrompter{answer: true}).Run(context.Background(), "run-2")
	require.NoError(t, err)

	assert.False(t, second.RepositoryCreated)
	assert.Equal(t, first.RepositoryURI, second.RepositoryURI)
	assert.Equal(t, 1, reg.createCalls, "second run must not create a second repository")
}

func TestRun_ExistingRepositoryReused(t *testing.T) {
	reg := newFakeRegistry()
	reg.repos["my-app"] = &registry.Repository{
		Name: "my-app",
		URI:  "123456789012.dkr.ecr.us-east-1.amazonaws.com/my-app",
	}
	cfg := testConfig(t)

	res, err := testOrchestrator(t, cfg, reg, &fakeEngine{}, &fakePrompter{answer: true}).Run(context.Background(), "run-1")
	require.NoError(t, err)

	assert.False(t, res.RepositoryCreated)
	assert.Zero(t, reg.createCalls)
}

// =============================================================================
// Confirmation Gate Tests
// =============================================================================

func TestRun_DeclinedConfirmation(t *testing.T) {
	reg := newFakeRegistry()
	eng := &fakeEngine{}
	p := &fakePrompter{answer: false}

	res, err := testOrchestrator(t, testConfig(t), reg, eng, p).Run(context.Background(), "run-1")
	require.NoError(t, err, "voluntary cancellation is not a failure")

	assert.True(t, res.Cancelled)
	assert.Len(t, p.asked, 1)
	assert.Empty(t, reg.mutations, "no mutating registry call after a decline")
	assert.Empty(t, eng.mutations, "no mutating engine call after a decline")
	assert.False(t, eng.loggedIn)
}

func TestRun_AutoApproveSkipsPrompt(t *testing.T) {
	p := &fakePrompter{answer: false} // would decline if asked
	cfg := testConfig(t)
	cfg.AutoApprove = true

	res, err := testOrchestrator(t, cfg, newFakeRegistry(), &fakeEngine{}, p).Run(context.Background(), "run-1")
	require.NoError(t, err)

	assert.False(t, res.Cancelled)
	assert.Empty(t, p.asked)
}

func TestRun_PromptMentionsTarget(t *testing.T) {
	p := &fakePrompter{answer: true}

	_, err := testOrchestrator(t, testConfig(t), newFakeRegistry(), &fakeEngine{}, p).Run(context.Background(), "run-1")
	require.NoError(t, err)

	require.Len(t, p.asked, 1)
	assert.Contains(t, p.asked[0], "nginx:latest")
	assert.Contains(t, p.asked[0], "my-app")
	assert.Contains(t, p.asked[0], "us-east-1")
}

// =============================================================================
// Failure Tests
// =============================================================================

func TestRun_MissingEngineDetectedBeforeNetwork(t *testing.T) {
	reg := newFakeRegistry()
	reg.identityErr = errors.New("CheckAccess must not be reached")
	eng := &fakeEngine{pingErr: errors.New("no daemon")}

	res, err := testOrchestrator(t, testConfig(t), reg, eng, &fakePrompter{answer: true}).Run(context.Background(), "run-1")
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrToolMissing)
	assert.Equal(t, StepPreflight, res.FailedStep)
	assert.Empty(t, reg.mutations)
}

func TestRun_UnauthenticatedStopsBeforePrompt(t *testing.T) {
	reg := newFakeRegistry()
	reg.identityErr = errors.New("expired token")
	p := &fakePrompter{answer: true}

	res, err := testOrchestrator(t, testConfig(t), reg, &fakeEngine{}, p).Run(context.Background(), "run-1")
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Equal(t, StepCredentials, res.FailedStep)
	assert.Empty(t, p.asked)
}

func TestRun_SecondPushFailureKeepsFirstTag(t *testing.T) {
	reg := newFakeRegistry()
	eng := &fakeEngine{
		pushErr: map[string]error{
			"123456789012.dkr.ecr.us-east-1.amazonaws.com/my-app:v1.0.0": errors.New("connection reset"),
		},
	}

	res, err := testOrchestrator(t, testConfig(t), reg, eng, &fakePrompter{answer: true}).Run(context.Background(), "run-1")
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrImageOperationFailed)
	assert.Equal(t, StepPush, res.FailedStep)
	assert.Equal(t, []string{"123456789012.dkr.ecr.us-east-1.amazonaws.com/my-app:latest"}, res.PushedTags,
		"the tag pushed before the failure stays pushed")
	assert.Empty(t, reg.policies, "no policy applied after a failed push")
}

func TestRun_TokenFailure(t *testing.T) {
	reg := newFakeRegistry()
	reg.tokenErr = errors.New("throttled")

	res, err := testOrchestrator(t, testConfig(t), reg, &fakeEngine{}, &fakePrompter{answer: true}).Run(context.Background(), "run-1")
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Equal(t, StepLogin, res.FailedStep)
}

func TestRun_PolicyFailure(t *testing.T) {
	reg := newFakeRegistry()
	reg.policyErr = errors.New("malformed policy")

	res, err := testOrchestrator(t, testConfig(t), reg, &fakeEngine{}, &fakePrompter{answer: true}).Run(context.Background(), "run-1")
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrPolicyApplicationFailed)
	assert.Equal(t, StepPolicy, res.FailedStep)
}

func TestRun_StepErrorNamesStep(t *testing.T) {
	reg := newFakeRegistry()
	reg.ensureErr = errors.New("access denied")

	_, err := testOrchestrator(t, testConfig(t), reg, &fakeEngine{}, &fakePrompter{answer: true}).Run(context.Background(), "run-1")
	require.Error(t, err)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepEnsureRepo, stepErr.Step)
	assert.ErrorIs(t, err, ErrRepositoryOperationFailed)
	assert.Contains(t, err.Error(), "ensure-repository")
}

// =============================================================================
// Policy Overwrite Tests
// =============================================================================

func TestRun_PolicyOverwrittenEachRun(t *testing.T) {
	reg := newFakeRegistry()
	eng := &fakeEngine{}
	cfg := testConfig(t)

	_, err := testOrchestrator(t, cfg, reg, eng, &fakePrompter{answer: true}).Run(context.Background(), "run-1")
	require.NoError(t, err)

	cfg.KeepImages = 5
	_, err = testOrchestrator(t, cfg, reg, eng, &fakePrompter{answer: true}).Run(context.Background(), "run-2")
	require.NoError(t, err)

	policy := reg.policies["my-app"]
	assert.Contains(t, policy, `"countNumber": 5`, "last submitted policy wins")
	assert.NotContains(t, policy, `"countNumber": 10`)
}

func TestRun_WritesPolicyArtifact(t *testing.T) {
	cfg := testConfig(t)

	_, err := testOrchestrator(t, cfg, newFakeRegistry(), &fakeEngine{}, &fakePrompter{answer: true}).Run(context.Background(), "run-1")
	require.NoError(t, err)

	data, err := os.ReadFile(cfg.PolicyPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "imageCountMoreThan")
}

// =============================================================================
// Cancellation Semantics
// =============================================================================

func TestRun_CancelledResultIsComplete(t *testing.T) {
	res, err := testOrchestrator(t, testConfig(t), newFakeRegistry(), &fakeEngine{}, &fakePrompter{answer: false}).
		Run(context.Background(), "run-1")
	require.NoError(t, err)

	assert.True(t, res.Cancelled)
	assert.Equal(t, "123456789012", res.AccountID, "identity resolved before the gate is kept")
	assert.Empty(t, res.RepositoryURI)
	assert.False(t, res.FinishedAt.IsZero())
}
