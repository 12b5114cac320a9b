package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// applyMigrations executes every embedded .sql file in lexical order. Each
// statement uses IF NOT EXISTS guards, so this is idempotent and safe to run
// on every startup — there is no migration-history table to keep in sync.
func applyMigrations(ctx context.Context, db *sql.DB) error {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		sqlBytes, err := migrationFiles.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(sqlBytes)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

// Config selects the database connection parameters. The embedded store is
// WAL-mode sqlite, per §4.2.
type Config struct {
	DSN    string
	Logger *zap.Logger
}

// Store is the persistence layer handle. All entity-specific files in this
// package (runs.go, events.go, ...) are methods on Store sharing this one
// *sql.DB and the single writeMu serializing mutating statements.
type Store struct {
	db     *sql.DB
	logger *zap.Logger

	// writeMu serializes every mutating statement (INSERT/UPDATE/DELETE).
	// This is the lock §4.2 requires be held across "allocate id, insert
	// row, return last-insert-id" for event-id monotonicity; rather than
	// take it out selectively per call site, every write takes it, which
	// is simpler to audit and costs nothing extra under WAL single-writer
	// sqlite (SetMaxOpenConns(1) already serializes at the driver level —
	// writeMu exists so the invariant is enforced by this package's own
	// contract, not an incidental side effect of connection pool sizing).
	writeMu sync.Mutex
}

// Open opens the database with WAL mode enabled, applies the embedded
// migrations, and returns a ready Store.
func Open(cfg Config) (*Store, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = "file::memory:?cache=shared"
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", dsn+sep+"_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer guarantee (§4.2)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	if err := applyMigrations(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger.Named("store")}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// withWriteLock runs fn while holding writeMu, for any statement that
// mutates state or allocates a server-assigned id.
func (s *Store) withWriteLock(fn func() error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return fn()
}
