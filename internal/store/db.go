package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/ThilakShekharShriyan/akash-autopilot/internal/clock"
)

// Dialect selects the SQL flavour the store speaks.
type Dialect int

const (
	// SQLite is the embedded default (modernc.org/sqlite).
	SQLite Dialect = iota
	// Postgres uses lib/pq and $n placeholders.
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// ParseDialect maps a DB_DRIVER value to a Dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pq":
		return Postgres, nil
	default:
		return SQLite, fmt.Errorf("unsupported database driver %q", driver)
	}
}

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyTerminal is returned when a ledger record that already left
	// the pending state is transitioned again.
	ErrAlreadyTerminal = errors.New("action already in a terminal state")
	// ErrInvalidStatus is returned for a status value the ledger does not accept.
	ErrInvalidStatus = errors.New("invalid action status")
)

// Store is the ledger store: deployment snapshots, the append-only action
// ledger and the cooldown table. Every write is committed before the call
// returns.
type Store struct {
	db      *sql.DB
	dialect Dialect
	clock   clock.Clock
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for timestamps and expiry checks.
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// New creates a new SQLite-backed Store at dbPath.
// Use ":memory:" for in-memory databases (useful for testing).
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only allows one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return NewWithDB(db, SQLite, opts...), nil
}

// Open connects to the database named by driver ("sqlite" or "postgres").
// For sqlite, dsn is a file path.
func Open(driver, dsn string, opts ...Option) (*Store, error) {
	dialect, err := ParseDialect(driver)
	if err != nil {
		return nil, err
	}
	if dialect == SQLite {
		return New(dsn, opts...)
	}

	if dsn == "" {
		return nil, fmt.Errorf("postgres requires a connection string")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	return NewWithDB(db, Postgres, opts...), nil
}

// NewWithDB wraps an already opened handle.
func NewWithDB(db *sql.DB, dialect Dialect, opts ...Option) *Store {
	s := &Store{db: db, dialect: dialect, clock: clock.Real()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB returns the underlying database connection for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect reports which SQL flavour the store speaks.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateSchema creates all tables and indexes.
func (s *Store) CreateSchema() error {
	ddl := sqliteSchema
	if s.dialect == Postgres {
		ddl = postgresSchema
	}
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders into $n for Postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}

	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
