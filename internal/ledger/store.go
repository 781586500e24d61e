package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/bondtrace/bondtrace/internal/anchor"
	"github.com/bondtrace/bondtrace/internal/config"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added (guarantee_id, is_anchor, id) index for nearest-anchor scans
const currentSchemaVersion = 1

// Store provides durable storage for guarantee history streams.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db              *sql.DB
	policy          anchor.Policy
	templateVersion string
}

// Option configures a Store at open time.
type Option func(*Store)

// WithSettings applies the anchor policy and default template version
// from loaded settings.
func WithSettings(s config.Settings) Option {
	return func(st *Store) {
		st.policy = s.Policy()
		st.templateVersion = s.TemplateVersion
	}
}

// WithPolicy overrides the anchor policy.
func WithPolicy(p anchor.Policy) Option {
	return func(st *Store) {
		st.policy = p
	}
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	st := &Store{
		db:              db,
		policy:          anchor.Default(),
		templateVersion: config.Default().TemplateVersion,
	}
	for _, opt := range opts {
		opt(st)
	}
	return st, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Policy returns the anchor policy the store was opened with.
func (s *Store) Policy() anchor.Policy {
	return s.policy
}

// TemplateVersion returns the default template version stamped on new
// rows when the caller's aux metadata does not carry one.
func (s *Store) TemplateVersion() string {
	return s.templateVersion
}

// Begin starts a transaction. The backfill migrator uses this to wrap a
// whole apply run; mutation handlers use it to commit the business
// mutation and the ledger append atomically.
func (s *Store) Begin(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// Execer is the subset of sql.DB/sql.Tx the write paths need, so the
// same code can run standalone or inside a caller's transaction.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CreateGuarantee inserts a guarantee entity row and returns its id.
// The business CRUD layer owns this table; the ledger only needs it for
// the stream foreign key.
func (s *Store) CreateGuarantee(ctx context.Context, reference string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO guarantees (reference) VALUES (?)
	`, reference)
	if err != nil {
		return 0, fmt.Errorf("create guarantee: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create guarantee: last insert id: %w", err)
	}
	return id, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
		version = 1
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the nearest-anchor index for existing databases.
// New databases get it from schema.sql, but databases created before v1
// need it added explicitly.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_guarantee_events_anchor
		ON guarantee_events(guarantee_id, is_anchor, id)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
