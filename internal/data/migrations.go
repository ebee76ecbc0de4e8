package data

import (
	"context"
	"database/sql"

	"github.com/target/smart-agent/internal/migrate"
)

// RunMigrations brings the job_records schema up to date.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	return migrate.Run(ctx, db)
}

// PendingMigrations lists schema versions that RunMigrations would apply.
func PendingMigrations(ctx context.Context, db *sql.DB) ([]string, error) {
	return migrate.Pending(ctx, db)
}
