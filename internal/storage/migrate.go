package storage

import (
	"context"
	"crypto/md5"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"storefront-fulfillment/internal/common/logging"
)

//go:embed schema/*.sql
var schemaFS embed.FS

var migrationVersionRegex = regexp.MustCompile(`^(\d+)_.*\.sql$`)

// Migration represents a single schema migration
type Migration struct {
	Version  string
	Filename string
	Content  string
	Checksum string
}

// MigrationManager applies versioned schema files and records them in schema_migrations
type MigrationManager struct {
	db      *sql.DB
	dialect string
	files   fs.FS
	logger  logging.Logger
}

func NewMigrationManager(db *sql.DB, dialect string, logger logging.Logger) *MigrationManager {
	return &MigrationManager{db: db, dialect: dialect, files: schemaFS, logger: logger}
}

// RunMigrations applies every pending migration in version order
func (m *MigrationManager) RunMigrations(ctx context.Context) error {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	migrations, err := m.loadMigrations()
	if err != nil {
		return err
	}

	applied, err := m.getAppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	var pending []Migration
	for _, mig := range migrations {
		checksum, ok := applied[mig.Version]
		if !ok {
			pending = append(pending, mig)
			continue
		}
		if checksum != "" && checksum != mig.Checksum {
			m.logger.Warn("Applied migration differs from embedded file",
				logging.Field{Key: "version", Value: mig.Version},
				logging.Field{Key: "filename", Value: mig.Filename},
			)
		}
	}

	if len(pending) == 0 {
		m.logger.Debug("No pending migrations", logging.Field{Key: "dialect", Value: m.dialect})
		return nil
	}

	for _, mig := range pending {
		if err := m.applyMigration(ctx, mig); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", mig.Version, err)
		}
	}

	m.logger.Info("Migrations applied",
		logging.Field{Key: "dialect", Value: m.dialect},
		logging.Field{Key: "count", Value: len(pending)},
	)
	return nil
}

func (m *MigrationManager) ensureMigrationsTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL,
		checksum TEXT
	)`)
	return err
}

func (m *MigrationManager) loadMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(m.files, "schema")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded schema: %w", err)
	}

	suffix := "_" + m.dialect + ".sql"
	var migrations []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}
		matches := migrationVersionRegex.FindStringSubmatch(name)
		if len(matches) < 2 {
			m.logger.Warn("Skipping migration with invalid name",
				logging.Field{Key: "filename", Value: name},
				logging.Field{Key: "expected_format", Value: "###_name_<dialect>.sql"},
			)
			continue
		}
		content, err := fs.ReadFile(m.files, "schema/"+name)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		migrations = append(migrations, Migration{
			Version:  matches[1],
			Filename: name,
			Content:  string(content),
			Checksum: fmt.Sprintf("%x", md5.Sum(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		a, _ := strconv.Atoi(migrations[i].Version)
		b, _ := strconv.Atoi(migrations[j].Version)
		return a < b
	})
	return migrations, nil
}

func (m *MigrationManager) getAppliedMigrations(ctx context.Context) (map[string]string, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version, checksum FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var (
			version  string
			checksum sql.NullString
		)
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, err
		}
		applied[version] = checksum.String
	}
	return applied, rows.Err()
}

func (m *MigrationManager) applyMigration(ctx context.Context, mig Migration) error {
	m.logger.Info("Applying migration",
		logging.Field{Key: "version", Value: mig.Version},
		logging.Field{Key: "filename", Value: mig.Filename},
	)

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range splitStatements(mig.Content) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute migration SQL: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		rebind(m.dialect, "INSERT INTO schema_migrations (version, filename, applied_at, checksum) VALUES (?, ?, ?, ?)"),
		mig.Version, mig.Filename, time.Now().UTC(), mig.Checksum,
	); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}

// splitStatements breaks a schema file on semicolons. Schema files must not
// contain semicolons inside string literals or function bodies.
func splitStatements(content string) []string {
	var out []string
	for _, part := range strings.Split(content, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
