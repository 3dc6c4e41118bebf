// Package migrate applies ordered SQL migration and seed files to a database.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"beacon.org/internal/obs"
	"beacon.org/internal/store/dialect"
)

const (
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"
)

var ErrNothingApplied = errors.New("migrate: no migrations applied")

// Manager executes SQL migrations and seed files read from file systems.
type Manager struct {
	db              *sql.DB
	dialect         dialect.Dialect
	migrations      fs.FS
	seeds           fs.FS
	migrationsTable string
	seedsTable      string
	now             func() time.Time
}

// Option configures Manager.
type Option func(*Manager)

// WithSeeds sets the file system seed files are read from.
func WithSeeds(seeds fs.FS) Option {
	return func(m *Manager) {
		m.seeds = seeds
	}
}

// WithMigrationsTable overrides the default migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// WithSeedsTable overrides the default seeds bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

// WithClock overrides the time recorded for applied files.
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewManager constructs a Manager. Migration files are the *.up.sql and
// *.down.sql entries at the root of migrations.
func NewManager(db *sql.DB, d dialect.Dialect, migrations fs.FS, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		dialect:         d,
		migrations:      migrations,
		migrationsTable: defaultMigrationsTable,
		seedsTable:      defaultSeedsTable,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies all pending migrations and returns the names applied.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	executed, err := m.listExecuted(ctx, m.migrationsTable)
	if err != nil {
		return nil, err
	}
	files, err := collectSQL(m.migrations, ".up.sql")
	if err != nil {
		return nil, err
	}
	var applied []string
	for _, name := range files {
		if executed[name] {
			continue
		}
		if err := m.exec(ctx, m.migrations, name, func(tx *sql.Tx) error {
			return m.insertRecord(ctx, tx, m.migrationsTable, name)
		}); err != nil {
			return applied, fmt.Errorf("apply migration %s: %w", name, err)
		}
		obs.Info("migration applied", map[string]any{"name": name})
		applied = append(applied, name)
	}
	return applied, nil
}

// Down rolls back the most recent applied migration and returns its name.
func (m *Manager) Down(ctx context.Context) (string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return "", err
	}
	executed, err := m.history(ctx, m.migrationsTable)
	if err != nil {
		return "", err
	}
	if len(executed) == 0 {
		return "", ErrNothingApplied
	}
	last := executed[len(executed)-1]
	downName := strings.TrimSuffix(last, ".up.sql") + ".down.sql"
	if _, err := fs.Stat(m.migrations, downName); err != nil {
		return "", fmt.Errorf("missing down migration for %s", last)
	}
	del := m.dialect.Rebind(fmt.Sprintf(`delete from %s where name = $1`, m.migrationsTable))
	if err := m.exec(ctx, m.migrations, downName, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, del, last)
		return err
	}); err != nil {
		return "", fmt.Errorf("rollback migration %s: %w", last, err)
	}
	obs.Info("migration rolled back", map[string]any{"name": last})
	return last, nil
}

// Status returns applied migrations in order.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	return m.history(ctx, m.migrationsTable)
}

// Pending returns migrations not yet applied, in order.
func (m *Manager) Pending(ctx context.Context) ([]string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	executed, err := m.listExecuted(ctx, m.migrationsTable)
	if err != nil {
		return nil, err
	}
	files, err := collectSQL(m.migrations, ".up.sql")
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, name := range files {
		if !executed[name] {
			pending = append(pending, name)
		}
	}
	return pending, nil
}

// Seed applies seed files idempotently.
func (m *Manager) Seed(ctx context.Context) error {
	if m.seeds == nil {
		return nil
	}
	if err := m.ensureTables(ctx); err != nil {
		return err
	}
	executed, err := m.listExecuted(ctx, m.seedsTable)
	if err != nil {
		return err
	}
	files, err := collectSQL(m.seeds, ".sql")
	if err != nil {
		return err
	}
	for _, name := range files {
		if executed[name] {
			continue
		}
		if err := m.exec(ctx, m.seeds, name, func(tx *sql.Tx) error {
			return m.insertRecord(ctx, tx, m.seedsTable, name)
		}); err != nil {
			return fmt.Errorf("apply seed %s: %w", name, err)
		}
	}
	return nil
}

func (m *Manager) ensureTables(ctx context.Context) error {
	for _, table := range []string{m.migrationsTable, m.seedsTable} {
		ddl := fmt.Sprintf(`
			create table if not exists %s (
				name text primary key,
				applied_at %s not null
			);`, table, m.dialect.TimestampType)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

// exec runs every statement of file and then record in one transaction.
func (m *Manager) exec(ctx context.Context, fsys fs.FS, name string, record func(*sql.Tx) error) error {
	sqlBytes, err := fs.ReadFile(fsys, name)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(sqlBytes)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if err := record(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) insertRecord(ctx context.Context, tx *sql.Tx, table, name string) error {
	q := m.dialect.Rebind(fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, table))
	_, err := tx.ExecContext(ctx, q, name, m.now().UTC())
	return err
}

func (m *Manager) listExecuted(ctx context.Context, table string) (map[string]bool, error) {
	names, err := m.history(ctx, table)
	if err != nil {
		return nil, err
	}
	result := make(map[string]bool, len(names))
	for _, name := range names {
		result[name] = true
	}
	return result, nil
}

// history lists applied names. Files carry a sortable numeric prefix, so
// name order is application order.
func (m *Manager) history(ctx context.Context, table string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s order by name asc`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res = append(res, name)
	}
	return res, rows.Err()
}

func collectSQL(fsys fs.FS, suffix string) ([]string, error) {
	if fsys == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		files = append(files, path.Base(e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// splitStatements naively splits SQL by semicolon while preserving simple cases.
func splitStatements(sql string) []string {
	var stmts []string
	var current strings.Builder
	var inString bool
	for _, r := range sql {
		current.WriteRune(r)
		switch r {
		case '\'':
			inString = !inString
		case ';':
			if !inString {
				stmts = append(stmts, current.String())
				current.Reset()
			}
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		stmts = append(stmts, current.String())
	}
	return stmts
}
