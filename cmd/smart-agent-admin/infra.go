package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/target/smart-agent/config"
	"github.com/target/smart-agent/internal/bootstrap"
	"github.com/target/smart-agent/internal/data"
)

var errNotPostgres = errors.New("command requires JOB_STORE=postgres")

// withStore opens the configured job record store for the duration of fn.
// The context is cancelled on SIGINT/SIGTERM or after timeout.
func withStore(
	cmdCtx *commandContext,
	timeout time.Duration,
	fn func(ctx context.Context, handle *bootstrap.StoreHandle) error,
) error {
	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cfg := cmdCtx.Config
	if cfg.Store.Backend == config.StoreMemory {
		return errors.New("the memory job store is process-local; set JOB_STORE to redis or postgres")
	}

	handle, err := bootstrap.OpenJobRecordStore(ctx, &cfg, cmdCtx.Logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := handle.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("store close failed", "error", closeErr)
		}
	}()

	return fn(ctx, handle)
}

func runMigrations(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags(args)
	if err != nil {
		return err
	}
	if cmdCtx.Config.Store.Backend != config.StorePostgres {
		return errNotPostgres
	}

	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(ctx, bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", closeErr)
		}
	}()

	if opts.DryRun {
		pending, pendingErr := data.PendingMigrations(ctx, db)
		if pendingErr != nil {
			return fmt.Errorf("list pending migrations: %w", pendingErr)
		}
		if len(pending) == 0 {
			return writeln(os.Stdout, "Schema is up to date.")
		}
		for _, v := range pending {
			if writeErr := writef(os.Stdout, "pending %s\n", v); writeErr != nil {
				return writeErr
			}
		}
		return nil
	}

	cmdCtx.Logger.Info("running database migrations")

	if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
		return fmt.Errorf("run migrations: %w", migrateErr)
	}

	cmdCtx.Logger.Info("migrations completed successfully")
	return nil
}
