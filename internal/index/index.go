// Package index provides the SQLite secondary index over items.
//
// The index is a denormalized projection of item metadata used for listing
// and relationship queries. It is not the source of truth: the content
// store is. The two are written separately and may diverge after a crash;
// divergence is detected by the world's data check, never repaired here.
//
// Architecture:
//   - Database file: <root>/index.db
//   - WAL mode: concurrent readers during writes
//   - Schema: global (one row), item
//   - has_special(special, kind): bitmask predicate registered per connection
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ncruces/go-sqlite3"
	"github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.uber.org/zap"
)

// Index errors.
var (
	// ErrNotFound is returned when no row exists for an ident.
	ErrNotFound = errors.New("item not in index")

	// ErrRowCount is returned when an update or delete does not touch
	// exactly one row.
	ErrRowCount = errors.New("unexpected row count")
)

// maxDepth bounds the hierarchical query against parent cycles.
const maxDepth = 32

// DB wraps the SQLite connection pool.
type DB struct {
	conn *sql.DB
	path string
	log  *zap.Logger
}

// Open creates or opens the index at path and ensures its schema.
//
// The caller MUST call Close() when done.
func Open(path string, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	conn, err := driver.Open("file:"+path, initConn)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping index: %w", err)
	}

	// A single writer per process; a few readers are enough.
	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path, log: logger.Named("index")}
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if err := db.InitSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	db.log.Debug("index open", zap.String("path", path))
	return db, nil
}

// initConn runs on every new connection in the pool.
func initConn(c *sqlite3.Conn) error {
	if err := c.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return err
	}
	return c.CreateFunction("has_special", 2, sqlite3.DETERMINISTIC, hasSpecial)
}

// hasSpecial tests bit kind of the special bitmask.
func hasSpecial(ctx sqlite3.Context, arg ...sqlite3.Value) {
	special := arg[0].Int64()
	kind := arg[1].Int64()
	if kind < 0 || kind > 7 {
		ctx.ResultBool(false)
		return
	}
	ctx.ResultBool(special&(1<<kind) != 0)
}

// Path returns the database file.
func (db *DB) Path() string {
	return db.path
}

// Close checkpoints the WAL and closes the pool.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		db.log.Warn("failed to checkpoint WAL", zap.Error(err))
	}
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close index: %w", err)
	}
	db.conn = nil
	return nil
}

// InitSchema creates the tables if they don't exist. Idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the tables with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS global (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		ident_prefix TEXT NOT NULL DEFAULT '',
		last_ident INTEGER NOT NULL DEFAULT 0
	);
	INSERT OR IGNORE INTO global (id, ident_prefix, last_ident) VALUES (1, '', 0);

	CREATE TABLE IF NOT EXISTS item (
		ident TEXT PRIMARY KEY,
		type_name TEXT NOT NULL,
		name TEXT NOT NULL,
		open INTEGER NOT NULL,
		ready INTEGER NOT NULL,
		parent TEXT,
		sort TEXT NOT NULL DEFAULT '',
		classify TEXT NOT NULL DEFAULT 'normal',
		special INTEGER NOT NULL DEFAULT 0,
		targeted INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_item_parent ON item(parent);
	CREATE INDEX IF NOT EXISTS idx_item_type ON item(type_name);
	CREATE INDEX IF NOT EXISTS idx_item_open ON item(open, classify);
	`
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// ===================
// Globals
// ===================

// Global is the single row of per-index counters.
type Global struct {
	Prefix    string
	LastIdent int
}

// ReadGlobal returns the global row.
func (db *DB) ReadGlobal() (Global, error) {
	return db.ReadGlobalContext(context.Background())
}

// ReadGlobalContext returns the global row with context support.
func (db *DB) ReadGlobalContext(ctx context.Context) (Global, error) {
	var g Global
	err := db.conn.QueryRowContext(ctx,
		"SELECT ident_prefix, last_ident FROM global WHERE id = 1").Scan(&g.Prefix, &g.LastIdent)
	if err != nil {
		return Global{}, fmt.Errorf("failed to read globals: %w", err)
	}
	return g, nil
}

// WriteLastIdent persists the ident counter.
func (db *DB) WriteLastIdent(n int) error {
	return db.WriteLastIdentContext(context.Background(), n)
}

// WriteLastIdentContext persists the ident counter with context support.
func (db *DB) WriteLastIdentContext(ctx context.Context, n int) error {
	if _, err := db.conn.ExecContext(ctx, "UPDATE global SET last_ident = ? WHERE id = 1", n); err != nil {
		return fmt.Errorf("failed to write last ident: %w", err)
	}
	return nil
}

// WritePrefix records the ident prefix in use.
func (db *DB) WritePrefix(ctx context.Context, prefix string) error {
	if _, err := db.conn.ExecContext(ctx, "UPDATE global SET ident_prefix = ? WHERE id = 1", prefix); err != nil {
		return fmt.Errorf("failed to write ident prefix: %w", err)
	}
	return nil
}
