// Package deploy implements the deployment run: an ordered, fail-fast
// sequence of steps that publishes a public image into a private ECR
// repository.
package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/artpar/shipper/internal/shell/docker"
	"github.com/artpar/shipper/internal/shell/registry"
)

// =============================================================================
// Steps
// =============================================================================

// Step names one stage of the run.
type Step string

const (
	StepPreflight   Step = "preflight"
	StepCredentials Step = "credentials"
	StepConfirm     Step = "confirm"
	StepEnsureRepo  Step = "ensure-repository"
	StepLogin       Step = "login"
	StepPull        Step = "pull"
	StepTag         Step = "tag"
	StepPush        Step = "push"
	StepPolicy      Step = "lifecycle-policy"
	StepVerify      Step = "verify"
)

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// Registry is the registry provider surface the run needs.
type Registry interface {
	CheckAccess(ctx context.Context) (*registry.Identity, error)
	EnsureRepository(ctx context.Context, name string) (*registry.Repository, bool, error)
	AuthorizationToken(ctx context.Context) (*registry.Auth, error)
	PutLifecyclePolicy(ctx context.Context, name, policyText string) error
	ListImages(ctx context.Context, name string) ([]registry.Image, error)
}

// Prompter asks the operator for the single go/no-go decision.
type Prompter interface {
	Confirm(question string) (bool, error)
}

// =============================================================================
// Configuration and Result
// =============================================================================

// Config is the immutable configuration of one run.
type Config struct {
	SourceImage string
	Repository  string
	Region      string
	VersionTag  string
	KeepImages  int
	AutoApprove bool
	PolicyPath  string
}

// Result is the state resolved during a run, threaded explicitly through the
// steps instead of living in ambient variables.
type Result struct {
	RunID             string
	SourceImage       string
	Repository        string
	RepositoryURI     string
	RepositoryCreated bool
	Region            string
	AccountID         string
	CallerARN         string
	EngineVersion     string
	Digest            string
	PushedTags        []string
	Images            []registry.Image
	Cancelled         bool
	FailedStep        Step
	StartedAt         time.Time
	FinishedAt        time.Time
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator sequences the deployment steps against the registry provider
// and the container engine.
type Orchestrator struct {
	cfg      Config
	registry Registry
	engine   docker.Client
	prompter Prompter
	logger   *slog.Logger
}

// NewOrchestrator creates an orchestrator for one run.
func NewOrchestrator(cfg Config, reg Registry, engine docker.Client, prompter Prompter, logger *slog.Logger) *Orchestrator {
	if cfg.PolicyPath == "" {
		cfg.PolicyPath = DefaultPolicyPath()
	}
	return &Orchestrator{
		cfg:      cfg,
		registry: reg,
		engine:   engine,
		prompter: prompter,
		logger:   logger.With("component", "deploy"),
	}
}

// Run executes the deployment. The first failing step aborts the run with a
// StepError; nothing is retried and nothing already done is undone — a
// repository created by the ensure step survives a later failure, and a
// failure between the two tag pushes leaves the repository with one updated
// tag. Declining the confirmation prompt returns a cancelled Result and a nil
// error before any mutating call is made.
func (o *Orchestrator) Run(ctx context.Context, runID string) (*Result, error) {
	res := &Result{
		RunID:       runID,
		SourceImage: o.cfg.SourceImage,
		Repository:  o.cfg.Repository,
		Region:      o.cfg.Region,
		StartedAt:   time.Now(),
	}

	// Step 1: preflight — the engine must be present and queryable before
	// anything touches the network.
	if err := o.engine.Ping(ctx); err != nil {
		return o.fail(res, StepPreflight, ErrToolMissing, err)
	}
	version, err := o.engine.Version(ctx)
	if err != nil {
		return o.fail(res, StepPreflight, ErrToolMissing, err)
	}
	res.EngineVersion = version.Version
	o.logger.Info("engine ready", "run_id", runID, "version", version.Version, "api_version", version.APIVersion)

	// Step 2: credential check via identity introspection.
	id, err := o.registry.CheckAccess(ctx)
	if err != nil {
		return o.fail(res, StepCredentials, ErrUnauthenticated, err)
	}
	res.AccountID = id.Account
	res.CallerARN = id.ARN
	o.logger.Info("authenticated", "run_id", runID, "account", id.Account)

	// Step 3: confirmation gate. Everything after this point mutates state.
	if !o.cfg.AutoApprove {
		question := fmt.Sprintf("Deploy %s to repository %q in %s (account %s)?",
			o.cfg.SourceImage, o.cfg.Repository, o.cfg.Region, id.Account)
		ok, err := o.prompter.Confirm(question)
		if err != nil {
			return o.fail(res, StepConfirm, ErrToolMissing, err)
		}
		if !ok {
			o.logger.Info("deployment cancelled by operator", "run_id", runID)
			res.Cancelled = true
			res.FinishedAt = time.Now()
			return res, nil
		}
	}

	// Step 4: ensure the repository exists; resolve its URI either way.
	repo, created, err := o.registry.EnsureRepository(ctx, o.cfg.Repository)
	if err != nil {
		return o.fail(res, StepEnsureRepo, ErrRepositoryOperationFailed, err)
	}
	res.RepositoryURI = repo.URI
	res.RepositoryCreated = created
	o.logger.Info("repository ready", "run_id", runID, "uri", repo.URI, "created", created)

	// Step 5: fetch a fresh token and log the engine in. Tokens are
	// short-lived; every run re-authenticates unconditionally.
	auth, err := o.registry.AuthorizationToken(ctx)
	if err != nil {
		return o.fail(res, StepLogin, ErrAuthenticationFailed, err)
	}
	endpoint := trimScheme(auth.ProxyEndpoint)
	if err := o.engine.Login(ctx, docker.RegistryAuth{
		Username:      auth.Username,
		Password:      auth.Password,
		ServerAddress: endpoint,
	}); err != nil {
		return o.fail(res, StepLogin, ErrAuthenticationFailed, err)
	}
	o.logger.Info("logged in", "run_id", runID, "endpoint", endpoint)

	// Step 6: pull the source image. The source is referenced by tag, not
	// digest, so re-runs may pull different bytes under the same reference.
	if err := o.engine.Pull(ctx, o.cfg.SourceImage); err != nil {
		return o.fail(res, StepPull, ErrImageOperationFailed, err)
	}
	o.logger.Info("image pulled", "run_id", runID, "image", o.cfg.SourceImage)

	// Step 7: create both destination aliases.
	targets := []string{
		repo.URI + ":latest",
		repo.URI + ":" + o.cfg.VersionTag,
	}
	for _, target := range targets {
		if err := o.engine.Tag(ctx, o.cfg.SourceImage, target); err != nil {
			return o.fail(res, StepTag, ErrImageOperationFailed, err)
		}
	}

	// Step 8: push both tags. Each push is independent; a failure after the
	// first succeeds leaves exactly one new tag in the repository.
	for _, target := range targets {
		if err := o.engine.Push(ctx, target); err != nil {
			return o.fail(res, StepPush, ErrImageOperationFailed, err)
		}
		res.PushedTags = append(res.PushedTags, target)
		o.logger.Info("image pushed", "run_id", runID, "tag", target)
	}

	// The registry assigns the repo digest on push; record it so tag drift
	// across runs is at least visible.
	if digest, err := o.engine.ImageDigest(ctx, targets[0]); err == nil {
		res.Digest = digest
	} else {
		o.logger.Debug("digest lookup failed", "run_id", runID, "error", err)
	}

	// Step 9: apply the retention policy, replacing whatever is there.
	policyText, err := RetentionPolicy(o.cfg.KeepImages)
	if err != nil {
		return o.fail(res, StepPolicy, ErrPolicyApplicationFailed, err)
	}
	if err := WritePolicyDocument(o.cfg.PolicyPath, policyText); err != nil {
		return o.fail(res, StepPolicy, ErrPolicyApplicationFailed, err)
	}
	if err := o.registry.PutLifecyclePolicy(ctx, o.cfg.Repository, policyText); err != nil {
		return o.fail(res, StepPolicy, ErrPolicyApplicationFailed, err)
	}

	// Step 10: verification — read-only listing of what the repository holds.
	images, err := o.registry.ListImages(ctx, o.cfg.Repository)
	if err != nil {
		return o.fail(res, StepVerify, ErrVerificationFailed, err)
	}
	res.Images = images

	res.FinishedAt = time.Now()
	o.logger.Info("deployment complete", "run_id", runID,
		"uri", res.RepositoryURI, "digest", res.Digest, "images", len(images))
	return res, nil
}

func (o *Orchestrator) fail(res *Result, step Step, kind, err error) (*Result, error) {
	res.FailedStep = step
	res.FinishedAt = time.Now()
	o.logger.Error("step failed", "run_id", res.RunID, "step", string(step), "error", err)
	return res, NewStepError(step, kind, err)
}

func trimScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return strings.TrimPrefix(endpoint, "http://")
}
