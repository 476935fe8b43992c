package cache

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// newMigrationProvider builds a goose provider over the embedded schema.
// The provider is not closed by callers: closing it closes db.
func newMigrationProvider(db *sql.DB) (*goose.Provider, error) {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("cache: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return nil, fmt.Errorf("cache: creating migration provider: %w", err)
	}

	return provider, nil
}

// runMigrations applies all pending schema migrations.
func runMigrations(ctx context.Context, provider *goose.Provider, logger *slog.Logger) error {
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("cache: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// resetSchema rolls every migration back and reapplies them, leaving an
// empty items table on the current schema.
func resetSchema(ctx context.Context, provider *goose.Provider) error {
	if _, err := provider.DownTo(ctx, 0); err != nil {
		return fmt.Errorf("cache: rolling back schema: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("cache: reapplying schema: %w", err)
	}

	return nil
}
