package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/lazarusking/theaccelbot/internal/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// legacyColumns maps the column names of databases written by the first
// version of the bot to the current names.
var legacyColumns = [][2]string{
	{"chat_id", "owner_chat"},
	{"user_id", "owner_user"},
	{"message", "payload"},
	{"interval", "recurrence"},
	{"next_run_time", "next_fire_at"},
}

// Migrate upgrades a legacy jobs table in place and then applies every
// pending migration. Each migration runs in its own transaction.
func Migrate(ctx context.Context, db *sql.DB, log *logger.Logger) error {
	if err := upgradeLegacySchema(ctx, db, log); err != nil {
		return err
	}

	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	applied := 0
	for _, filename := range files {
		version, _, _ := strings.Cut(filename, "_")

		var exists bool
		err := db.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", version).Scan(&exists)
		if err != nil {
			// schema_migrations does not exist until 000 has run.
			if version != "000" {
				return fmt.Errorf("schema_migrations table missing, but migration is not 000: %s", filename)
			}
		} else if exists {
			continue
		}

		body, err := migrations.ReadFile(path.Join("migrations", filename))
		if err != nil {
			return fmt.Errorf("read %s: %w", filename, err)
		}

		if log != nil {
			log.InfoCtx(ctx, "applying migration",
				logger.Field{Key: "migration", Value: filename},
				logger.Field{Key: "version", Value: version})
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for %s: %w", filename, err)
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("execute %s: %w", filename, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record %s: %w", filename, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", filename, err)
		}
		applied++
	}

	if log != nil {
		log.DebugCtx(ctx, "migrations complete",
			logger.Field{Key: "total", Value: len(files)},
			logger.Field{Key: "applied", Value: applied})
	}
	return nil
}

// upgradeLegacySchema renames the columns of a jobs table created by the
// first release. It is a no-op for fresh or already upgraded databases.
func upgradeLegacySchema(ctx context.Context, db *sql.DB, log *logger.Logger) error {
	cols, err := tableColumns(ctx, db, "jobs")
	if err != nil {
		return err
	}
	if !cols["chat_id"] {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin legacy upgrade: %w", err)
	}
	for _, rename := range legacyColumns {
		if !cols[rename[0]] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE jobs RENAME COLUMN %s TO %s", rename[0], rename[1])
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("legacy upgrade %s: %w", rename[0], err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit legacy upgrade: %w", err)
	}

	if log != nil {
		log.InfoCtx(ctx, "upgraded legacy jobs table")
	}
	return nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("inspect %s: %w", table, err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
