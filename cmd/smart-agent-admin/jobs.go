package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/target/smart-agent/internal/adapters/reaper"
	"github.com/target/smart-agent/internal/bootstrap"
	"github.com/target/smart-agent/internal/domain/model"
	"github.com/target/smart-agent/internal/service"
)

type migrateOptions struct {
	Timeout time.Duration
	DryRun  bool
}

type listJobsOptions struct {
	Status    model.JobStatus
	Limit     int
	AllAgents bool
	JSON      bool
}

type jobOptions struct {
	ID   string
	JSON bool
}

type sweepOptions struct {
	DryRun bool
	Yes    bool
}

func runListJobs(cmdCtx *commandContext, args []string) error {
	opts, err := parseListJobsFlags(args)
	if err != nil {
		return err
	}

	filter := model.JobRecordFilter{Status: opts.Status, Limit: opts.Limit}
	if !opts.AllAgents {
		filter.Scope = bootstrap.AgentScope(cmdCtx.Config.Agent)
	}

	return withStore(cmdCtx, defaultCommandTimeout, func(ctx context.Context, handle *bootstrap.StoreHandle) error {
		status, err := service.NewStatusService(service.StatusServiceOptions{Store: handle.Store})
		if err != nil {
			return err
		}
		views, err := status.List(ctx, filter)
		if err != nil {
			return fmt.Errorf("list job records: %w", err)
		}
		if opts.JSON {
			return writeJSON(os.Stdout, views)
		}
		return renderJobTable(os.Stdout, views)
	})
}

func runJobStatus(cmdCtx *commandContext, args []string) error {
	opts, err := parseJobFlags("job-status", args)
	if err != nil {
		return err
	}

	return withStore(cmdCtx, defaultCommandTimeout, func(ctx context.Context, handle *bootstrap.StoreHandle) error {
		status, err := service.NewStatusService(service.StatusServiceOptions{Store: handle.Store})
		if err != nil {
			return err
		}
		view, err := status.Get(ctx, opts.ID)
		if errors.Is(err, service.ErrJobNotFound) {
			return writef(os.Stdout, "job %s not found\n", opts.ID)
		}
		if err != nil {
			return fmt.Errorf("get job record: %w", err)
		}
		if opts.JSON {
			return writeJSON(os.Stdout, view)
		}
		return renderJobDetail(os.Stdout, view)
	})
}

func runAbortJob(cmdCtx *commandContext, args []string) error {
	opts, err := parseJobFlags("abort-job", args)
	if err != nil {
		return err
	}

	return withStore(cmdCtx, defaultCommandTimeout, func(ctx context.Context, handle *bootstrap.StoreHandle) error {
		aborter, err := service.NewAbortService(service.AbortServiceOptions{
			Store:  handle.Store,
			Logger: cmdCtx.Logger,
		})
		if err != nil {
			return err
		}
		res, err := aborter.Abort(ctx, opts.ID)
		if err != nil {
			return fmt.Errorf("abort job: %w", err)
		}
		return writef(os.Stdout, "%s: %s\n", res.Status, res.Result)
	})
}

func runSweep(cmdCtx *commandContext, args []string) error {
	opts, err := parseSweepFlags(args)
	if err != nil {
		return err
	}
	scope := bootstrap.AgentScope(cmdCtx.Config.Agent)

	return withStore(cmdCtx, defaultCommandTimeout, func(ctx context.Context, handle *bootstrap.StoreHandle) error {
		if opts.DryRun {
			status, err := service.NewStatusService(service.StatusServiceOptions{Store: handle.Store})
			if err != nil {
				return err
			}
			views, err := status.List(ctx, model.JobRecordFilter{Status: model.JobStatusInProgress, Scope: scope})
			if err != nil {
				return fmt.Errorf("list job records: %w", err)
			}
			if err := writef(os.Stdout, "Dry run: %d in-progress record(s) would be removed.\n", len(views)); err != nil {
				return err
			}
			return renderJobTable(os.Stdout, views)
		}

		target := fmt.Sprintf("agent %q in %q", scope.AgentName, scope.Environment)
		if err := confirmAction(opts, "remove every in-progress job record", target); err != nil {
			return err
		}

		cleanup, err := service.NewCleanupService(service.CleanupServiceOptions{
			Store: handle.Store,
			Config: service.CleanupConfig{
				Scope:       scope,
				Timeout:     cmdCtx.Config.Cleanup.Timeout,
				Concurrency: cmdCtx.Config.Cleanup.Concurrency,
			},
			Logger: cmdCtx.Logger,
		})
		if err != nil {
			return err
		}
		removed, err := cleanup.Sweep(ctx)
		if err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		return writef(os.Stdout, "Removed %d in-progress record(s).\n", removed)
	})
}

func runReap(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("reap", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	allAgents := fs.Bool("all-agents", false, "Reap records of every agent, not just this one")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var scope model.Tags
	if !*allAgents {
		scope = bootstrap.AgentScope(cmdCtx.Config.Agent)
	}

	return withStore(cmdCtx, defaultMigrationTimeout, func(ctx context.Context, handle *bootstrap.StoreHandle) error {
		runner, err := reaper.NewRunner(reaper.RunnerOptions{
			Store:  handle.Store,
			Config: cmdCtx.Config.Reaper,
			Scope:  scope,
			Logger: cmdCtx.Logger,
		})
		if err != nil {
			return err
		}
		if err := runner.RunOnce(ctx); err != nil {
			return fmt.Errorf("reap: %w", err)
		}
		cmdCtx.Logger.Info("reaper pass completed")
		return nil
	})
}

func parseMigrateFlags(args []string) (migrateOptions, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := migrateOptions{
		Timeout: defaultMigrationTimeout,
	}

	fs.DurationVar(
		&opts.Timeout,
		"timeout",
		defaultMigrationTimeout,
		"Maximum duration to wait for migrations to complete",
	)
	fs.BoolVar(&opts.DryRun, "dry-run", false, "List pending migrations without applying them")

	if err := fs.Parse(args); err != nil {
		return migrateOptions{}, err
	}

	if opts.Timeout <= 0 {
		return migrateOptions{}, errors.New("--timeout must be greater than zero")
	}

	return opts, nil
}

func parseListJobsFlags(args []string) (listJobsOptions, error) {
	fs := flag.NewFlagSet("list-jobs", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		opts   listJobsOptions
		status string
	)
	fs.StringVar(&status, "status", "", "Filter by status (pending, inprogress, completed, error, aborted)")
	fs.IntVar(&opts.Limit, "limit", 50, "Maximum number of records to show")
	fs.BoolVar(&opts.AllAgents, "all-agents", false, "Include records of every agent and environment")
	fs.BoolVar(&opts.JSON, "json", false, "Print JSON instead of a table")

	if err := fs.Parse(args); err != nil {
		return listJobsOptions{}, err
	}
	if status != "" {
		if err := opts.Status.UnmarshalText([]byte(status)); err != nil {
			return listJobsOptions{}, fmt.Errorf("--status: %w", err)
		}
	}
	if opts.Limit < 1 {
		return listJobsOptions{}, errors.New("--limit must be at least 1")
	}
	return opts, nil
}

// parseJobFlags accepts the job id as --id or as the first positional argument.
func parseJobFlags(name string, args []string) (jobOptions, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts jobOptions
	fs.StringVar(&opts.ID, "id", "", "Job id")
	fs.BoolVar(&opts.JSON, "json", false, "Print JSON instead of text")

	if err := fs.Parse(args); err != nil {
		return jobOptions{}, err
	}
	if opts.ID == "" && fs.NArg() > 0 {
		opts.ID = fs.Arg(0)
	}
	opts.ID = strings.TrimSpace(opts.ID)
	if opts.ID == "" {
		return jobOptions{}, errors.New("a job id is required (--id or first argument)")
	}
	return opts, nil
}

func parseSweepFlags(args []string) (sweepOptions, error) {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts sweepOptions
	fs.BoolVar(&opts.DryRun, "dry-run", false, "List the records that would be removed")
	fs.BoolVar(&opts.Yes, "yes", false, "Skip the confirmation prompt")

	if err := fs.Parse(args); err != nil {
		return sweepOptions{}, err
	}
	return opts, nil
}
