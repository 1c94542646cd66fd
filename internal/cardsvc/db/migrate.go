package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

//go:embed migrations
var migrations embed.FS

const migrationTable = "schema_migrations"

func migrationFiles(dialect string) ([]string, error) {
	root := "migrations/" + dialect
	entries, err := fs.ReadDir(migrations, root)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, root+"/"+entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// MigratePostgres applies the embedded postgres migrations at most once per file.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS `+migrationTable+` (
    name TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	files, err := migrationFiles("postgres")
	if err != nil {
		return err
	}

	for _, file := range files {
		content, err := migrations.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}

		err = RunInTx(ctx, pool, func(ctx context.Context) error {
			tx, _ := PgTx(ctx)
			tag, err := tx.Exec(ctx, `INSERT INTO `+migrationTable+` (name) VALUES ($1) ON CONFLICT DO NOTHING`, file)
			if err != nil {
				return fmt.Errorf("record migration %s: %w", file, err)
			}
			if tag.RowsAffected() == 0 {
				return nil
			}
			if _, err := tx.Exec(ctx, string(content)); err != nil {
				return fmt.Errorf("exec migration %s: %w", file, err)
			}
			log.Infof("applied migration %s", file)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// MigrateSQLite applies the embedded sqlite migrations at most once per file.
func MigrateSQLite(ctx context.Context, sqlDB *sql.DB) error {
	if _, err := sqlDB.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS `+migrationTable+` (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	files, err := migrationFiles("sqlite")
	if err != nil {
		return err
	}

	for _, file := range files {
		content, err := migrations.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}

		err = RunInSQLTx(ctx, sqlDB, func(ctx context.Context) error {
			tx, _ := SQLTx(ctx)
			res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO `+migrationTable+` (name, applied_at) VALUES (?, ?)`,
				file, time.Now().UTC().UnixMilli())
			if err != nil {
				return fmt.Errorf("record migration %s: %w", file, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return nil
			}
			if _, err := tx.ExecContext(ctx, string(content)); err != nil {
				return fmt.Errorf("exec migration %s: %w", file, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
