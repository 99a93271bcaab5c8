package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/platinummonkey/permit/pkg/observability"
	"github.com/platinummonkey/permit/pkg/storage"
)

// Migration is one versioned schema change. SQL may use the {{serial}},
// {{timestamp}} and {{now}} tokens, which are rendered per dialect.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

var dialectTokens = map[storage.Dialect]*strings.Replacer{
	storage.DialectPostgres: strings.NewReplacer(
		"{{serial}}", "BIGSERIAL PRIMARY KEY",
		"{{timestamp}}", "TIMESTAMPTZ",
		"{{now}}", "NOW()",
	),
	storage.DialectSQLite: strings.NewReplacer(
		"{{serial}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
		"{{timestamp}}", "TIMESTAMP",
		"{{now}}", "CURRENT_TIMESTAMP",
	),
}

// Render returns the migration SQL for a dialect
func (m Migration) Render(dialect storage.Dialect) string {
	return dialectTokens[dialect].Replace(m.SQL)
}

// GetMigrations returns all schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS permissions (
					id {{serial}},
					name VARCHAR(255) NOT NULL UNIQUE,
					description TEXT NOT NULL DEFAULT '',
					created_at {{timestamp}} NOT NULL DEFAULT {{now}},
					updated_at {{timestamp}} NOT NULL DEFAULT {{now}}
				);
			`,
		},
		{
			Version:     2,
			Description: "Create roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id {{serial}},
					name VARCHAR(255) NOT NULL UNIQUE,
					description TEXT NOT NULL DEFAULT '',
					is_system BOOLEAN NOT NULL DEFAULT FALSE,
					created_at {{timestamp}} NOT NULL DEFAULT {{now}},
					updated_at {{timestamp}} NOT NULL DEFAULT {{now}}
				);
			`,
		},
		{
			Version:     3,
			Description: "Create role_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_permissions (
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					created_at {{timestamp}} NOT NULL DEFAULT {{now}},
					PRIMARY KEY (role_id, permission_id)
				);

				CREATE INDEX IF NOT EXISTS idx_role_permissions_permission_id ON role_permissions(permission_id);
			`,
		},
		{
			Version:     4,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id {{serial}},
					username VARCHAR(255) NOT NULL UNIQUE,
					role_id BIGINT REFERENCES roles(id),
					created_at {{timestamp}} NOT NULL DEFAULT {{now}},
					updated_at {{timestamp}} NOT NULL DEFAULT {{now}}
				);

				CREATE INDEX IF NOT EXISTS idx_users_role_id ON users(role_id);
			`,
		},
		{
			Version:     5,
			Description: "Create user_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_permissions (
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					granted BOOLEAN NOT NULL,
					created_at {{timestamp}} NOT NULL DEFAULT {{now}},
					updated_at {{timestamp}} NOT NULL DEFAULT {{now}},
					PRIMARY KEY (user_id, permission_id)
				);

				CREATE INDEX IF NOT EXISTS idx_user_permissions_permission_id ON user_permissions(permission_id);
			`,
		},
	}
}

// RunMigrations applies every migration not yet recorded in rbac_migrations
func RunMigrations(ctx context.Context, db *sql.DB, dialect storage.Dialect, logger *observability.Logger) error {
	_, err := db.ExecContext(ctx, (Migration{SQL: `
		CREATE TABLE IF NOT EXISTS rbac_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at {{timestamp}} NOT NULL DEFAULT {{now}}
		)
	`}).Render(dialect))
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		logger.WithField("version", migration.Version).Infof("Running migration: %s", migration.Description)

		err := storage.WithTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, migration.Render(dialect)); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO rbac_migrations (version, description) VALUES ($1, $2)",
				migration.Version, migration.Description,
			); err != nil {
				return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
			}
			return nil
		})
		if err != nil {
			if storage.IsUniqueViolation(err) {
				// Another instance recorded this version first.
				logger.WithField("version", migration.Version).Info("Migration already applied concurrently")
				continue
			}
			return err
		}
	}

	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM rbac_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}
