package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"

	"PerpVault/internal/observability"
	"PerpVault/internal/persistence"
	"PerpVault/internal/projection"
	"PerpVault/migrations"

	_ "github.com/lib/pq"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <up|down|list|status|rebuild-projections|truncate-log>")
		fmt.Println("  up   - apply all pending migrations")
		fmt.Println("  down - roll back the last migration")
		fmt.Println("  list - print the available migrations")
		fmt.Println("  status - print each migration and whether it is applied")
		fmt.Println("  rebuild-projections - drop read models so the service rebuilds them from the event log")
		fmt.Println("  truncate-log - discard operations logged after the latest verified snapshot")
		fmt.Println()
		fmt.Println("Environment:")
		fmt.Println("  PERP_POSTGRES_DSN    - Postgres connection string")
		fmt.Println("  PERP_MIGRATIONS_DIR  - read migrations from disk instead of the embedded set")
		os.Exit(1)
	}

	logger := observability.NewLogger("migrate")

	var fsys fs.FS = migrations.FS
	if dir := os.Getenv("PERP_MIGRATIONS_DIR"); dir != "" {
		fsys = os.DirFS(dir)
	}

	if os.Args[1] == "list" {
		names, err := persistence.ListMigrations(fsys, ".up.sql")
		if err != nil {
			logger.Fatal().Err(err).Msg("list migrations")
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return
	}

	dsn := os.Getenv("PERP_POSTGRES_DSN")
	if dsn == "" {
		dsn = "postgres://localhost:5432/perpvault?sslmode=disable"
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, fsys, logger)

	switch os.Args[1] {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate up")
		}
		logger.Info().Msg("all migrations applied")

	case "down":
		if err := migrator.Down(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate down")
		}
		logger.Info().Msg("last migration rolled back")

	case "status":
		statuses, err := migrator.Status(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("migration status")
		}
		for _, st := range statuses {
			mark := "pending"
			if st.Applied {
				mark = "applied"
			}
			fmt.Printf("%s  %-8s %s\n", st.Version, mark, st.File)
		}

	case "rebuild-projections":
		if err := projection.Rebuild(ctx, db); err != nil {
			logger.Fatal().Err(err).Msg("rebuild projections")
		}
		logger.Info().Msg("projections cleared, restart perpvault to repopulate")

	case "truncate-log":
		// After an unclean exit the log runs ahead of the last snapshot and
		// perpvault refuses to start. Those operations cannot be replayed.
		sm := persistence.NewSnapshotManager(db, nil, logger)
		seq, removed, err := sm.TruncateToSnapshot(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("truncate event log")
		}
		if err := projection.TruncateAfter(ctx, db, seq); err != nil {
			logger.Fatal().Err(err).Msg("truncate projections")
		}
		logger.Info().Int64("snapshot_seq", seq).Int64("removed", removed).Msg("event log truncated, perpvault can start from the snapshot")

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (use 'up', 'down', 'list', 'status', 'rebuild-projections' or 'truncate-log')\n", os.Args[1])
		os.Exit(1)
	}
}
