// Command shipper deploys a public container image into a private AWS ECR
// repository: preflight, credential check, repository ensure, registry login,
// pull, re-tag, push, lifecycle policy, verification, summary. Fail-fast:
// the first failing step aborts the run and nothing is rolled back.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/artpar/shipper/internal/core/deploy"
	"github.com/artpar/shipper/internal/shell/docker"
	"github.com/artpar/shipper/internal/shell/prompt"
	"github.com/artpar/shipper/internal/shell/registry"
	"github.com/artpar/shipper/internal/shell/store"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess       = 0
	ExitConfigError   = 1
	ExitDockerError   = 2
	ExitRegistryError = 3
	ExitDeployError   = 4
	ExitStoreError    = 5
)

func main() {
	os.Exit(run())
}

func run() int {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	image := flag.String("image", "", "Source image reference to deploy")
	repository := flag.String("repository", "", "Destination ECR repository name")
	region := flag.String("region", "", "Target AWS region")
	yes := flag.Bool("yes", false, "Skip the confirmation prompt")
	output := flag.String("output", "", "Summary format: text, json, or yaml")
	flag.Parse()

	// Handle version flag
	if *showVersion {
		fmt.Printf("shipper %s (built %s)\n", Version, BuildTime)
		return ExitSuccess
	}

	// Load configuration
	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}

	// Flags override file and environment
	if *image != "" {
		cfg.Deploy.SourceImage = *image
	}
	if *repository != "" {
		cfg.Deploy.Repository = *repository
	}
	if *region != "" {
		cfg.Deploy.Region = *region
	}
	if *yes {
		cfg.Deploy.AutoApprove = true
	}
	if *output != "" {
		cfg.Deploy.Output = *output
	}

	// Setup logger
	logger := SetupLogger(cfg)
	logger.Info("starting shipper",
		"version", Version,
		"image", cfg.Deploy.SourceImage,
		"repository", cfg.Deploy.Repository,
	)

	ctx := context.Background()
	prompter := prompt.New(os.Stdin, os.Stdout)

	// Region selection: operator override, or the fixed default. The value is
	// not validated here; an invalid region fails on the first AWS call.
	if cfg.Deploy.Region == "" {
		if cfg.Deploy.AutoApprove {
			cfg.Deploy.Region = DefaultRegion
		} else {
			selected, err := prompter.Region(DefaultRegion)
			if err != nil {
				fmt.Fprintf(os.Stderr, "region prompt failed: %v\n", err)
				return ExitConfigError
			}
			cfg.Deploy.Region = selected
		}
	}

	// Connect to Docker
	engine, err := docker.NewEngineClient(cfg.Docker.Host)
	if err != nil {
		logger.Error("failed to create docker client", "error", err)
		return ExitDockerError
	}
	defer engine.Close()

	// Create the registry client
	reg, err := registry.NewClient(ctx, cfg.Deploy.Region, cfg.Registry.Endpoint, logger)
	if err != nil {
		logger.Error("failed to create registry client", "error", err)
		return ExitRegistryError
	}

	// Open the run journal if enabled
	var journal store.Store
	if cfg.History.Enabled {
		journal, err = store.NewSQLiteStore(cfg.History.DSN)
		if err != nil {
			logger.Error("failed to open run journal", "error", err)
			return ExitStoreError
		}
		defer journal.Close()
	}

	orchestrator := deploy.NewOrchestrator(deploy.Config{
		SourceImage: cfg.Deploy.SourceImage,
		Repository:  cfg.Deploy.Repository,
		Region:      cfg.Deploy.Region,
		VersionTag:  cfg.Deploy.VersionTag,
		KeepImages:  cfg.Deploy.KeepImages,
		AutoApprove: cfg.Deploy.AutoApprove,
	}, reg, engine, prompter, logger)

	runID := store.NewRunID()
	result, runErr := orchestrator.Run(ctx, runID)

	if journal != nil {
		recordRun(ctx, journal, result, runErr, logger)
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "deployment failed: %v\n", runErr)
		return ExitDeployError
	}

	if result.Cancelled {
		// Voluntary cancellation is a clean exit, not a failure.
		fmt.Println("Deployment cancelled.")
		return ExitSuccess
	}

	if err := deploy.NewSummary(result).Render(os.Stdout, cfg.Deploy.Output); err != nil {
		fmt.Fprintf(os.Stderr, "failed to render summary: %v\n", err)
		return ExitConfigError
	}
	return ExitSuccess
}

// recordRun appends the run outcome to the journal. Journal failures are
// logged, not fatal: the deployment itself already happened.
func recordRun(ctx context.Context, journal store.Store, result *deploy.Result, runErr error, logger *slog.Logger) {
	run := &store.Run{
		ID:            result.RunID,
		SourceImage:   result.SourceImage,
		Repository:    result.Repository,
		RepositoryURI: result.RepositoryURI,
		Region:        result.Region,
		AccountID:     result.AccountID,
		Digest:        result.Digest,
		StartedAt:     result.StartedAt,
		FinishedAt:    result.FinishedAt,
	}

	switch {
	case runErr != nil:
		run.Status = store.RunFailed
		run.FailedStep = string(result.FailedStep)
		run.Error = runErr.Error()
	case result.Cancelled:
		run.Status = store.RunCancelled
	default:
		run.Status = store.RunSucceeded
	}

	if err := journal.SaveRun(ctx, run); err != nil {
		logger.Warn("failed to record run", "run_id", run.ID, "error", err)
	}
}
