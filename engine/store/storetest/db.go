// Package storetest provides an in-memory sqlite harness for tests, switchable to a real
// Postgres instance via environment variables so the same test suite can run against both
// the superset SQL the datastore layer speaks.
package storetest

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"net/url"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/buildbeaver/workflow-engine/common/logger"
	"github.com/buildbeaver/workflow-engine/engine/store"
	"github.com/buildbeaver/workflow-engine/engine/store/migrations"
)

const (
	testDBDriverEnvVar         = "TEST_DB_DRIVER"
	testConnectionStringEnvVar = "TEST_CONNECTION_STRING"
)

var letters = []rune("abcdefghijklmnopqrstuvwxyz")

func randSeq(r *rand.Rand, n int) string {
	b := make([]rune, n)
	for i := range b {
		b[i] = letters[r.Intn(len(letters))]
	}
	return string(b)
}

// Connect opens a test database connection, defaulting to in-memory sqlite. Set
// TEST_DB_DRIVER and TEST_CONNECTION_STRING to run the same tests against Postgres. The
// engine's migrations are applied before the connection is returned.
func Connect(logFactory logger.LogFactory) (*store.DB, func(), error) {
	return ConnectAndOptionallyMigrate(true, logFactory)
}

func ConnectAndOptionallyMigrate(runMigrations bool, logFactory logger.LogFactory) (*store.DB, func(), error) {
	var (
		log              = logFactory("TestDB")
		driver           = store.Sqlite
		connectionString = store.DatabaseConnectionString("file::memory:?cache=shared&_foreign_keys=1&parseTime=true")
		cleanupFns       []func()
	)

	if val, ok := os.LookupEnv(testDBDriverEnvVar); ok {
		driver = store.DBDriver(val)
		connVal, connOK := os.LookupEnv(testConnectionStringEnvVar)
		if (!connOK || connVal == "") && driver != store.Sqlite {
			return nil, nil, fmt.Errorf("error %s must be set alongside %s when not using sqlite", testConnectionStringEnvVar, testDBDriverEnvVar)
		}
		if connOK {
			connectionString = store.DatabaseConnectionString(connVal)
		}
	} else if _, ok := os.LookupEnv(testConnectionStringEnvVar); ok {
		return nil, nil, fmt.Errorf("error %s must be set when using %s", testDBDriverEnvVar, testConnectionStringEnvVar)
	}

	if driver == store.Postgres {
		str, cleanup, err := initializeTestDatabase(log, driver, connectionString)
		if err != nil {
			return nil, nil, fmt.Errorf("error initializing test database: %w", err)
		}
		connectionString = str
		cleanupFns = append(cleanupFns, cleanup)
	}

	var migrationRunner store.MigrationRunner
	if runMigrations {
		migrationRunner = migrations.NewEngineMigrateRunner(logFactory)
	}

	config := store.DatabaseConfig{
		ConnectionString:   connectionString,
		Driver:             driver,
		MaxIdleConnections: store.DefaultMaxIdleConnections,
		MaxOpenConnections: store.DefaultMaxOpenConnections,
	}

	db, cleanup, err := store.NewDatabase(context.Background(), config, migrationRunner)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating database: %w", err)
	}
	cleanupFns = append(cleanupFns, cleanup)

	return db, func() {
		log.Info("running test database cleanup")
		for i := len(cleanupFns) - 1; i >= 0; i-- {
			cleanupFns[i]()
		}
	}, nil
}

// initializeTestDatabase creates a throwaway Postgres database and returns a connection
// string pointing at it. If connectionString already names a database, it is used as-is.
func initializeTestDatabase(log logger.Log, driver store.DBDriver, connectionString store.DatabaseConnectionString) (store.DatabaseConnectionString, func(), error) {
	parsed, err := url.Parse(connectionString.String())
	if err != nil {
		return "", nil, fmt.Errorf("error parsing connection string %q: %w", connectionString, err)
	}
	if parsed.Path != "" && parsed.Path != "/" {
		return connectionString, func() {}, nil
	}
	rawDB, err := sql.Open(driver.String(), parsed.String())
	if err != nil {
		return "", nil, fmt.Errorf("error connecting to database: %w", err)
	}
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	dbName := fmt.Sprintf("engine_test_%s", randSeq(r, 10))
	log.Infof("creating test database %s", dbName)
	if _, err := rawDB.Exec("create database " + dbName); err != nil {
		rawDB.Close()
		return "", nil, fmt.Errorf("error creating database: %w", err)
	}
	cleanup := func() {
		log.Infof("dropping postgres test database %s", dbName)
		if _, err := rawDB.Exec("DROP DATABASE " + dbName); err != nil {
			log.Errorf("error dropping test database: %v", err)
		}
		rawDB.Close()
	}
	parsed.Path = dbName
	return store.DatabaseConnectionString(parsed.String()), cleanup, nil
}
