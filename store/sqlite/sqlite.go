/*
Package sqlite provides the SQLite-backed record store.

PURPOSE:
  Persists providers, clients, contracts, payments, client metrics and
  document metadata. Implements billing.ClientDirectory,
  billing.PaymentStore and documents.Metadata.

VERSIONING:
  Clients, contracts and payments are never updated in place for business
  changes. A row is current while valid_to IS NULL:
  - A new contract closes the client's previous active contract
  - UpdatePayment closes the old payment row and inserts a new one
  - DeletePayment only closes the row

KEY TABLES:
  providers:      Plan providers (recordkeepers)
  clients:        Retirement-plan clients
  contracts:      Fee structure and schedule per client (one active)
  payments:       Received payments with applied_* period columns
  client_metrics: Derived last payment / last paid period per client
  client_files:   Document metadata
  payment_files:  Document-to-payment associations

CLIENT METRICS:
  Recomputed in Go inside the same transaction as every payment or contract
  write, using the billing package's span decoding. There are no triggers.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. An in-memory database is limited to a
  single connection since every connection would otherwise see its own
  empty database.

USAGE:
  store, err := sqlite.New("./data/fees.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  preparer := billing.NewPreparer(store)

SEE ALSO:
  - billing/store.go: Interface definitions
  - billing/encoding.go: applied_* column encoding
  - billing/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store implements the record store using SQLite.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for valid_from/valid_to stamps and
// year-to-date totals.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS providers (
		provider_id INTEGER PRIMARY KEY AUTOINCREMENT,
		provider_name TEXT NOT NULL UNIQUE,
		valid_from TEXT NOT NULL,
		valid_to TEXT
	);

	CREATE TABLE IF NOT EXISTS clients (
		client_id INTEGER PRIMARY KEY AUTOINCREMENT,
		provider_id INTEGER REFERENCES providers(provider_id),
		display_name TEXT NOT NULL,
		full_name TEXT,
		ima_signed_date TEXT,
		participants INTEGER,
		valid_from TEXT NOT NULL,
		valid_to TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_clients_provider
		ON clients(provider_id) WHERE valid_to IS NULL;

	CREATE TABLE IF NOT EXISTS contracts (
		contract_id INTEGER PRIMARY KEY AUTOINCREMENT,
		client_id INTEGER NOT NULL REFERENCES clients(client_id),
		provider_id INTEGER REFERENCES providers(provider_id),
		contract_number TEXT,
		fee_type TEXT NOT NULL,
		percent_rate TEXT,
		flat_rate TEXT,
		payment_schedule TEXT NOT NULL,
		num_people INTEGER,
		valid_from TEXT NOT NULL,
		valid_to TEXT
	);

	-- At most one active contract per client
	CREATE UNIQUE INDEX IF NOT EXISTS idx_contracts_active
		ON contracts(client_id) WHERE valid_to IS NULL;

	CREATE TABLE IF NOT EXISTS payments (
		payment_id INTEGER PRIMARY KEY AUTOINCREMENT,
		client_id INTEGER NOT NULL REFERENCES clients(client_id),
		contract_id INTEGER NOT NULL REFERENCES contracts(contract_id),
		received_date TEXT NOT NULL,
		total_assets TEXT,
		expected_fee TEXT,
		actual_fee TEXT NOT NULL,
		method TEXT,
		notes TEXT,
		payment_schedule TEXT NOT NULL,
		applied_start_month INTEGER,
		applied_start_month_year INTEGER,
		applied_end_month INTEGER,
		applied_end_month_year INTEGER,
		applied_start_quarter INTEGER,
		applied_start_quarter_year INTEGER,
		applied_end_quarter INTEGER,
		applied_end_quarter_year INTEGER,
		valid_from TEXT NOT NULL,
		valid_to TEXT
	);

	-- Payment history listing (hot path)
	CREATE INDEX IF NOT EXISTS idx_payments_client_date
		ON payments(client_id, received_date) WHERE valid_to IS NULL;

	CREATE TABLE IF NOT EXISTS client_metrics (
		client_id INTEGER PRIMARY KEY REFERENCES clients(client_id),
		last_payment_date TEXT,
		last_payment_amount TEXT,
		last_payment_month INTEGER,
		last_payment_month_year INTEGER,
		last_payment_quarter INTEGER,
		last_payment_quarter_year INTEGER,
		last_recorded_assets TEXT,
		total_ytd_payments TEXT NOT NULL DEFAULT '0',
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS client_files (
		file_id INTEGER PRIMARY KEY AUTOINCREMENT,
		client_id INTEGER NOT NULL REFERENCES clients(client_id),
		file_name TEXT NOT NULL,
		path TEXT NOT NULL UNIQUE,
		content_type TEXT,
		size INTEGER NOT NULL,
		uploaded_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS payment_files (
		payment_id INTEGER NOT NULL REFERENCES payments(payment_id),
		file_id INTEGER NOT NULL REFERENCES client_files(file_id),
		linked_at TEXT NOT NULL,
		PRIMARY KEY (payment_id, file_id)
	);

	CREATE INDEX IF NOT EXISTS idx_payment_files_file
		ON payment_files(file_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// inTx runs fn in a database transaction. The caller holds s.mu.
func (s *Store) inTx(ctx context.Context, fn func(q querier) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Store) stamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseStamp(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func parseNullStamp(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseStamp(s.String)
	return &t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
