// Package store is the datastore access layer (spec §4.2): a thin wrapper around sqlx/goqu
// that exposes explicit transaction handles and hides the sqlite-vs-Postgres locking
// difference behind SupportsRowLevelLocking.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type DBDriver string

func (d DBDriver) String() string { return string(d) }

type DatabaseConnectionString string

func (d DatabaseConnectionString) String() string { return string(d) }

const (
	Sqlite   DBDriver = "sqlite3"
	Postgres DBDriver = "postgres"

	DefaultMaxIdleConnections = 2
	DefaultMaxOpenConnections = 8
)

type DatabaseConfig struct {
	ConnectionString   DatabaseConnectionString
	Driver             DBDriver
	MaxIdleConnections int
	MaxOpenConnections int
}

// MigrationRunner applies (or rolls back) schema migrations against a connection string
// before the engine starts serving traffic. See engine/store/migrations.
type MigrationRunner interface {
	Up(ctx context.Context, driver DBDriver, connectionString DatabaseConnectionString) error
	Down(ctx context.Context, driver DBDriver, connectionString DatabaseConnectionString) error
}

// DB is a pooled connection to the datastore. Every engine service is constructed with one
// of these rather than reaching for a process-global handle (see SPEC_FULL.md's note on
// replacing ambient/global datastore handles with an explicit engine context).
type DB struct {
	*sqlx.DB
	Driver           DBDriver
	ConnectionString DatabaseConnectionString
	lock             sync.RWMutex
}

// Tx is an in-flight transaction obtained from DB.WithTx.
type Tx struct {
	tx *sqlx.Tx
}

// Binder binds named query parameters; satisfied by both *sqlx.DB and *sqlx.Tx.
type Binder interface {
	BindNamed(query string, arg interface{}) (string, []interface{}, error)
}

// Queryer reads rows; satisfied by both *sqlx.DB and *sqlx.Tx.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Execer reads and writes; satisfied by both *sqlx.DB and *sqlx.Tx.
type Execer interface {
	Queryer
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Writer is the goqu dataset surface used to build and run write queries.
type Writer interface {
	Reader
	Update(table interface{}) *goqu.UpdateDataset
	Insert(table interface{}) *goqu.InsertDataset
	Delete(table interface{}) *goqu.DeleteDataset
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Reader is the goqu dataset surface used to build and run read queries.
type Reader interface {
	From(from ...interface{}) *goqu.SelectDataset
	Select(cols ...interface{}) *goqu.SelectDataset
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ScanStructsContext(ctx context.Context, i interface{}, query string, args ...interface{}) error
	ScanStructContext(ctx context.Context, i interface{}, query string, args ...interface{}) (bool, error)
	ScanValsContext(ctx context.Context, i interface{}, query string, args ...interface{}) error
	ScanValContext(ctx context.Context, i interface{}, query string, args ...interface{}) (bool, error)
}

// NewDatabase opens a connection pool for config, optionally running migrations up to the
// latest version first, and returns a cleanup function that closes the pool.
func NewDatabase(ctx context.Context, config DatabaseConfig, migrationRunner MigrationRunner) (*DB, func(), error) {
	switch config.Driver {
	case Sqlite:
		if err := sqliteConnectionInit(string(config.ConnectionString)); err != nil {
			return nil, nil, err
		}
	case Postgres:
		// no driver-specific init required
	default:
		return nil, nil, fmt.Errorf("error unknown database driver: %s", config.Driver)
	}

	sqlxDB, err := sqlx.Open(string(config.Driver), string(config.ConnectionString))
	if err != nil {
		return nil, nil, fmt.Errorf("error opening %s database: %w", config.Driver, err)
	}

	if err := sqlxDB.PingContext(ctx); err != nil {
		sqlxDB.Close()
		return nil, nil, fmt.Errorf("error pinging %s database: %w", config.Driver, err)
	}

	if migrationRunner != nil {
		if err := migrationRunner.Up(ctx, config.Driver, config.ConnectionString); err != nil {
			sqlxDB.Close()
			return nil, nil, fmt.Errorf("error running %s database migrations: %w", config.Driver, err)
		}
	}

	maxIdle := config.MaxIdleConnections
	if maxIdle <= 0 {
		maxIdle = DefaultMaxIdleConnections
	}
	maxOpen := config.MaxOpenConnections
	if maxOpen <= 0 {
		maxOpen = DefaultMaxOpenConnections
	}

	db := &DB{DB: sqlxDB, Driver: config.Driver, ConnectionString: config.ConnectionString}
	db.DB.SetMaxIdleConns(maxIdle)
	db.DB.SetMaxOpenConns(maxOpen)

	return db, func() { db.Close() }, nil
}

// sqliteConnectionInit creates the database file (and its parent directory) ahead of time so
// that sqlite3 does not fail to open a file-backed database whose directory doesn't exist yet.
func sqliteConnectionInit(connectionString string) error {
	if strings.Contains(connectionString, ":memory:") {
		return nil
	}
	const fileKeyword = "file:"
	s := strings.Index(connectionString, fileKeyword)
	if s == -1 {
		return nil
	}
	s += len(fileKeyword)
	var path string
	if e := strings.Index(connectionString[s:], "?"); e == -1 {
		path = connectionString[s:]
	} else {
		path = connectionString[s : s+e]
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error ensuring database directory exists: %w", err)
	}
	file, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0660)
	if err != nil {
		return fmt.Errorf("error opening or creating database file %q: %w", path, err)
	}
	return file.Close()
}

// WithTx runs fn inside a transaction, committing on a nil return and rolling back otherwise.
// If txOrNil is already set (a nested call from a caller that already holds a transaction),
// fn runs directly against it instead of opening a new one. sqlite has no real row-level
// locking, so writes against it are additionally serialized with an in-process mutex.
func (d *DB) WithTx(ctx context.Context, txOrNil *Tx, fn func(tx *Tx) error) error {
	if txOrNil != nil {
		return fn(txOrNil)
	}

	if d.Driver == Sqlite {
		d.lock.Lock()
		defer d.lock.Unlock()
	}

	tx, err := d.DB.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "error beginning database transaction")
	}

	if err := fn(&Tx{tx}); err != nil {
		originalErr := err
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Wrapf(rbErr, "error rolling back database transaction: %s", originalErr)
		}
		return originalErr
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "error committing database transaction")
	}
	return nil
}

// Write2 calls fn with a goqu query builder bound to txOrNil, or to an implicit single-
// statement transaction if txOrNil is nil.
func (d *DB) Write2(txOrNil *Tx, fn func(Writer) error) error {
	if txOrNil == nil {
		if d.Driver == Sqlite {
			d.lock.Lock()
			defer d.lock.Unlock()
		}
		return fn(goqu.New(d.DriverName(), d.DB))
	}
	return fn(goqu.NewTx(d.DriverName(), txOrNil.tx))
}

// Read2 calls fn with a goqu query builder bound to txOrNil, or to the pool if txOrNil is nil.
func (d *DB) Read2(txOrNil *Tx, fn func(Reader) error) error {
	if txOrNil == nil {
		if d.Driver == Sqlite {
			d.lock.RLock()
			defer d.lock.RUnlock()
		}
		return fn(goqu.New(d.DriverName(), d.DB))
	}
	return fn(goqu.NewTx(d.DriverName(), txOrNil.tx))
}

// SupportsRowLevelLocking reports whether the underlying driver honors
// SELECT ... FOR UPDATE [SKIP LOCKED]. sqlite does not: it is serialized by WithTx's mutex
// instead, which is sufficient for tests but not for multi-process production use.
func (d *DB) SupportsRowLevelLocking() bool {
	return d.Driver != Sqlite
}

func (d *DB) Close() error { return d.DB.Close() }
