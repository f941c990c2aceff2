// Package db opens the SQLite databases used for persisted sync state.
package db

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/idsync/internal/utils"
)

const MemoryPath = ":memory:"

const defaultPragma = `
PRAGMA journal_mode=WAL;
PRAGMA busy_timeout=5000;
PRAGMA foreign_keys=ON;
PRAGMA synchronous=NORMAL;
PRAGMA temp_store=MEMORY;
`

type options struct {
	path            string
	pragmas         string
	maxOpenConns    int
	maxIdleConns    int
	connMaxLifetime time.Duration
}

// Option configures NewSqliteDB.
type Option func(*options)

// WithPath sets the database file. MemoryPath keeps it in memory.
func WithPath(path string) Option {
	return func(o *options) { o.path = path }
}

// WithPragmas replaces the default pragma block.
func WithPragmas(pragmas string) Option {
	return func(o *options) { o.pragmas = pragmas }
}

func WithMaxOpenConns(n int) Option {
	return func(o *options) { o.maxOpenConns = n }
}

func WithMaxIdleConns(n int) Option {
	return func(o *options) { o.maxIdleConns = n }
}

func WithConnMaxLifetime(d time.Duration) Option {
	return func(o *options) { o.connMaxLifetime = d }
}

// NewSqliteDB connects to a SQLite database and applies the pragmas.
func NewSqliteDB(opts ...Option) (*sqlx.DB, error) {
	o := &options{
		path:         MemoryPath,
		pragmas:      defaultPragma,
		maxIdleConns: 2,
	}
	for _, opt := range opts {
		opt(o)
	}

	dsn := MemoryPath
	if o.path != MemoryPath {
		if err := utils.EnsureParent(o.path); err != nil {
			return nil, fmt.Errorf("ensure parent directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_txlock=immediate&mode=rwc", o.path)
	}

	slog.Debug("db open", "driver", driverID, "path", o.path)
	conn, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// a memory database lives per connection
	if o.path == MemoryPath {
		conn.SetMaxOpenConns(1)
	} else if o.maxOpenConns > 0 {
		conn.SetMaxOpenConns(o.maxOpenConns)
	}
	if o.maxIdleConns > 0 {
		conn.SetMaxIdleConns(o.maxIdleConns)
	}
	if o.connMaxLifetime > 0 {
		conn.SetConnMaxLifetime(o.connMaxLifetime)
	}

	if _, err := conn.Exec(o.pragmas); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}

	return conn, nil
}
