// Package sqlstore persists credentials, organizations and integration
// secrets in Postgres or SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"beacon.org/internal/auth"
	"beacon.org/internal/ids"
	"beacon.org/internal/migrate"
	"beacon.org/internal/secrets"
	"beacon.org/internal/store/dialect"
)

//go:embed migrations
var migrationFiles embed.FS

var ErrEmailTaken = errors.New("sqlstore: email already registered")

var (
	_ auth.Store    = (*Store)(nil)
	_ secrets.Store = (*Store)(nil)
)

// Store is a database/sql backed auth.Store and secrets.Store.
type Store struct {
	db      *sql.DB
	dialect dialect.Dialect
	now     func() time.Time
}

// Open connects using driver ("pgx" or "sqlite") and dsn.
func Open(driver, dsn string) (*Store, error) {
	d, err := dialect.ForDriver(driver)
	if err != nil {
		return nil, err
	}
	if d == dialect.SQLite && !strings.Contains(dsn, "_pragma=foreign_keys") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=foreign_keys(1)"
	}
	db, err := sql.Open(d.Name, dsn)
	if err != nil {
		return nil, err
	}
	if d == dialect.SQLite {
		// One writer at a time; SQLite returns SQLITE_BUSY otherwise.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(15 * time.Minute)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}
	return New(db, d), nil
}

// New wraps an existing handle.
func New(db *sql.DB, d dialect.Dialect) *Store {
	return &Store{db: db, dialect: d, now: time.Now}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Dialect reports the backend in use.
func (s *Store) Dialect() dialect.Dialect { return s.dialect }

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Migrations returns the schema files for the store's dialect.
func (s *Store) Migrations() fs.FS {
	dir := "migrations/postgres"
	if s.dialect == dialect.SQLite {
		dir = "migrations/sqlite"
	}
	sub, err := fs.Sub(migrationFiles, dir)
	if err != nil {
		panic(err)
	}
	return sub
}

// Migrator returns a migration manager over the embedded schema.
func (s *Store) Migrator(opts ...migrate.Option) *migrate.Manager {
	return migrate.NewManager(s.db, s.dialect, s.Migrations(), opts...)
}

// Migrate applies pending schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.Migrator().Up(ctx)
	return err
}

// SeedIfEmpty runs the seed files in seeds when no credential exists yet and
// reports whether it did. Seeds already recorded are not run again.
func (s *Store) SeedIfEmpty(ctx context.Context, seeds fs.FS) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `select count(*) from credentials`).Scan(&n); err != nil {
		return false, fmt.Errorf("sqlstore: count credentials: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	if err := s.Migrator(migrate.WithSeeds(seeds)).Seed(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) q(query string) string { return s.dialect.Rebind(query) }

const credentialColumns = `id, email, name, title, coalesce(password_hash, ''), role,
	coalesce(organization_id, ''), is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (*auth.Credential, error) {
	var c auth.Credential
	if err := row.Scan(&c.ID, &c.Email, &c.Name, &c.Title, &c.PasswordHash, &c.Role,
		&c.OrganizationID, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) FindCredentialByEmail(ctx context.Context, email string) (*auth.Credential, error) {
	row := s.db.QueryRowContext(ctx,
		s.q(`select `+credentialColumns+` from credentials where lower(email) = $1`),
		auth.NormalizeEmail(email))
	c, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrUserNotFound
	}
	return c, err
}

func (s *Store) FindCredentialByID(ctx context.Context, id string) (*auth.Credential, error) {
	row := s.db.QueryRowContext(ctx, s.q(`select `+credentialColumns+` from credentials where id = $1`), id)
	c, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrUserNotFound
	}
	return c, err
}

// CreateCredential inserts c. A blank ID is filled with a new ULID; a blank
// password hash or organization is stored as NULL.
func (s *Store) CreateCredential(ctx context.Context, c auth.Credential) (auth.Credential, error) {
	c.Email = auth.NormalizeEmail(c.Email)
	if c.Email == "" {
		return auth.Credential{}, errors.New("sqlstore: email is required")
	}
	if c.ID == "" {
		c.ID = ids.New()
	}
	if c.Role == "" {
		c.Role = auth.RoleEmployee
	}
	c.Role = strings.ToUpper(c.Role)
	now := s.now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx, s.q(`
		insert into credentials(id, email, name, title, password_hash, role, organization_id, is_active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`),
		c.ID, c.Email, c.Name, c.Title, nullable(c.PasswordHash), c.Role, nullable(c.OrganizationID),
		c.IsActive, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return auth.Credential{}, ErrEmailTaken
		}
		return auth.Credential{}, fmt.Errorf("sqlstore: insert credential: %w", err)
	}
	return c, nil
}

// SetPasswordHash replaces the stored hash. An empty hash disables password
// login.
func (s *Store) SetPasswordHash(ctx context.Context, id, hash string) error {
	return s.updateCredential(ctx, `update credentials set password_hash = $1, updated_at = $2 where id = $3`,
		nullable(hash), s.now().UTC(), id)
}

// SetActive enables or disables an account.
func (s *Store) SetActive(ctx context.Context, id string, active bool) error {
	return s.updateCredential(ctx, `update credentials set is_active = $1, updated_at = $2 where id = $3`,
		active, s.now().UTC(), id)
}

// SetOrganization moves an account to organizationID, or detaches it when
// organizationID is empty.
func (s *Store) SetOrganization(ctx context.Context, id, organizationID string) error {
	return s.updateCredential(ctx, `update credentials set organization_id = $1, updated_at = $2 where id = $3`,
		nullable(organizationID), s.now().UTC(), id)
}

func (s *Store) updateCredential(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return fmt.Errorf("sqlstore: update credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}

func (s *Store) FindOrganization(ctx context.Context, id string) (*auth.Organization, error) {
	var o auth.Organization
	err := s.db.QueryRowContext(ctx, s.q(`select id, name, created_at from organizations where id = $1`), id).
		Scan(&o.ID, &o.Name, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrOrganizationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// UpsertOrganization creates o or renames an existing one.
func (s *Store) UpsertOrganization(ctx context.Context, o auth.Organization) (auth.Organization, error) {
	o.Name = strings.TrimSpace(o.Name)
	if o.Name == "" {
		return auth.Organization{}, errors.New("sqlstore: organization name is required")
	}
	if o.ID == "" {
		o.ID = ids.New()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		insert into organizations(id, name, created_at) values ($1, $2, $3)
		on conflict (id) do update set name = excluded.name`),
		o.ID, o.Name, o.CreatedAt)
	if err != nil {
		return auth.Organization{}, fmt.Errorf("sqlstore: upsert organization: %w", err)
	}
	return o, nil
}

func (s *Store) PutSecret(ctx context.Context, rec secrets.Record) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		insert into integration_secrets(organization_id, name, blob, updated_at) values ($1, $2, $3, $4)
		on conflict (organization_id, name) do update set blob = excluded.blob, updated_at = excluded.updated_at`),
		rec.OrganizationID, rec.Name, rec.Blob, rec.UpdatedAt)
	return err
}

func (s *Store) GetSecret(ctx context.Context, organizationID, name string) (secrets.Record, error) {
	rec := secrets.Record{OrganizationID: organizationID, Name: name}
	err := s.db.QueryRowContext(ctx,
		s.q(`select blob, updated_at from integration_secrets where organization_id = $1 and name = $2`),
		organizationID, name).Scan(&rec.Blob, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return secrets.Record{}, secrets.ErrNotFound
	}
	if err != nil {
		return secrets.Record{}, err
	}
	return rec, nil
}

func (s *Store) ListSecrets(ctx context.Context, organizationID string) ([]secrets.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`select name, blob, updated_at from integration_secrets where organization_id = $1 order by name`),
		organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []secrets.Record
	for rows.Next() {
		rec := secrets.Record{OrganizationID: organizationID}
		if err := rows.Scan(&rec.Name, &rec.Blob, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
