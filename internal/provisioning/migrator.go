package provisioning

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"tenancy/internal/tenantdb"
)

//go:embed migrations
var migrationsFS embed.FS

// TenantMigrations is the migration path shared by every tenant.
const TenantMigrations = "tenant"

// MigrationResult is the outcome of one migration run.
type MigrationResult struct {
	Applied  []string
	Output   string
	ExitCode int
}

// SchemaMigrator applies ordered SQL scripts named like "0002_name.sql" and records
// each applied version in schema_migrations inside the tenant database.
type SchemaMigrator struct {
	source fs.FS
	log    *zap.Logger
}

// NewSchemaMigrator reads migration paths from source; a nil source uses the
// embedded migrations.
func NewSchemaMigrator(source fs.FS, log *zap.Logger) *SchemaMigrator {
	if source == nil {
		sub, err := fs.Sub(migrationsFS, "migrations")
		if err != nil {
			panic(err)
		}
		source = sub
	}
	return &SchemaMigrator{source: source, log: log}
}

func (m *SchemaMigrator) Run(ctx context.Context, conn tenantdb.Conn, path string) (*MigrationResult, error) {
	res := &MigrationResult{}
	var out strings.Builder

	entries, err := fs.ReadDir(m.source, path)
	if err != nil {
		res.ExitCode = 1
		return res, fmt.Errorf("read migration path %q: %w", path, err)
	}
	var scripts []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			scripts = append(scripts, e.Name())
		}
	}
	sort.Strings(scripts)

	if _, err := conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`); err != nil {
		res.ExitCode = 1
		return res, fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		res.ExitCode = 1
		return res, err
	}

	for _, name := range scripts {
		version, err := scriptVersion(name)
		if err != nil {
			res.ExitCode = 1
			return res, err
		}
		if applied[version] {
			continue
		}

		script, err := fs.ReadFile(m.source, path+"/"+name)
		if err != nil {
			res.ExitCode = 1
			return res, err
		}
		fmt.Fprintf(&out, "Migrating: %s\n", name)
		m.log.Debug("executing tenant migration", zap.String("migration_name", name))

		if err := applyScript(ctx, conn, version, string(script)); err != nil {
			fmt.Fprintf(&out, "Failed: %s: %v\n", name, err)
			res.Output, res.ExitCode = out.String(), 1
			return res, fmt.Errorf("migration %s: %w", name, err)
		}
		fmt.Fprintf(&out, "Migrated: %s\n", name)
		res.Applied = append(res.Applied, name)
	}

	if len(res.Applied) == 0 {
		out.WriteString("Nothing to migrate.\n")
	}
	res.Output = out.String()
	return res, nil
}

func appliedVersions(ctx context.Context, conn tenantdb.Conn) (map[string]bool, error) {
	rows, err := conn.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	applied := make(map[string]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

func applyScript(ctx context.Context, conn tenantdb.Conn, version, script string) error {
	return inTx(ctx, conn, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, script); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version)
		return err
	})
}

// inTx commits when fn succeeds and rolls back otherwise.
func inTx(ctx context.Context, conn tenantdb.Conn, fn func(pgx.Tx) error) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// scriptVersion extracts the zero-padded version prefix from "0002_name.sql".
func scriptVersion(filename string) (string, error) {
	v, _, _ := strings.Cut(filename, "_")
	if _, err := strconv.Atoi(v); err != nil {
		return "", fmt.Errorf("migration %s: invalid version prefix", filename)
	}
	return v, nil
}
