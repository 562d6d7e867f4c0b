package migrations

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migrate_database "github.com/golang-migrate/migrate/v4/database"
	migrate_postgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migrate_sqlite3 "github.com/golang-migrate/migrate/v4/database/sqlite3"
	migrate_iofs "github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/psanford/memfs"

	"github.com/buildbeaver/workflow-engine/common/logger"
	"github.com/buildbeaver/workflow-engine/engine/store"
)

// GolangMigrateRunner applies migrations using golang-migrate, sourcing dialect-templated SQL
// from an in-memory filesystem instead of files on disk: the engine ships as a single binary
// with no migrations directory to deploy alongside it.
type GolangMigrateRunner struct {
	migrationData MigrationSet
	logger.Log
}

func NewGolangMigrateRunner(migrationData MigrationSet, logFactory logger.LogFactory) *GolangMigrateRunner {
	return &GolangMigrateRunner{migrationData: migrationData, Log: logFactory("GolangMigrateRunner")}
}

// NewEngineMigrateRunner creates a runner for the engine's own standard migration set.
func NewEngineMigrateRunner(logFactory logger.LogFactory) *GolangMigrateRunner {
	return NewGolangMigrateRunner(EngineMigrations, logFactory)
}

func (r *GolangMigrateRunner) Up(ctx context.Context, driver store.DBDriver, connectionString store.DatabaseConnectionString) error {
	return r.run(ctx, driver, connectionString, func(migrator *migrate.Migrate) error {
		r.Infof("running migrations up to latest database version")
		return migrator.Up()
	})
}

func (r *GolangMigrateRunner) Down(ctx context.Context, driver store.DBDriver, connectionString store.DatabaseConnectionString) error {
	return r.run(ctx, driver, connectionString, func(migrator *migrate.Migrate) error {
		r.Infof("running migrations down to empty database")
		return migrator.Down()
	})
}

func (r *GolangMigrateRunner) Goto(ctx context.Context, driver store.DBDriver, connectionString store.DatabaseConnectionString, version uint) error {
	return r.run(ctx, driver, connectionString, func(migrator *migrate.Migrate) error {
		r.Infof("migrating to version %d", version)
		return migrator.Migrate(version)
	})
}

// run sets up a golang-migrate instance sourced from an in-memory, dialect-templated
// migration filesystem and runs fn against it. golang-migrate itself takes no context.
func (r *GolangMigrateRunner) run(ctx context.Context, driver store.DBDriver, connectionString store.DatabaseConnectionString, fn func(*migrate.Migrate) error) error {
	dialectTemplate, err := GetDialectForDriver(driver)
	if err != nil {
		return err
	}
	inMemoryFS, err := r.produceMigrationFiles(dialectTemplate)
	if err != nil {
		return err
	}

	sourceDriver, err := migrate_iofs.New(inMemoryFS, "migrations")
	if err != nil {
		return err
	}

	sqlxDB, err := sqlx.Open(string(driver), string(connectionString))
	if err != nil {
		return fmt.Errorf("error opening %s database for migration: %w", driver, err)
	}
	databaseDriver, err := r.migrationDriverFor(sqlxDB)
	if err != nil {
		sqlxDB.Close()
		return err
	}

	migrator, err := migrate.NewWithInstance("iofs", sourceDriver, string(driver), databaseDriver)
	if err != nil {
		sqlxDB.Close()
		return err
	}
	defer migrator.Close()

	err = fn(migrator)
	if err != nil {
		if err == migrate.ErrNoChange {
			r.Infof("no change needed from migrations")
			return nil
		}
		return err
	}
	r.Infof("migration completed successfully")
	return nil
}

func (r *GolangMigrateRunner) migrationDriverFor(db *sqlx.DB) (migrate_database.Driver, error) {
	switch db.DriverName() {
	case store.Sqlite.String():
		cfg := &migrate_sqlite3.Config{DatabaseName: "engine"}
		driver, err := migrate_sqlite3.WithInstance(db.DB, cfg)
		if err != nil {
			return nil, fmt.Errorf("error creating sqlite migration driver: %w", err)
		}
		return driver, nil
	case store.Postgres.String():
		cfg := &migrate_postgres.Config{
			StatementTimeout:      5 * time.Second,
			MultiStatementEnabled: true,
			MultiStatementMaxSize: migrate_postgres.DefaultMultiStatementMaxSize,
		}
		driver, err := migrate_postgres.WithInstance(db.DB, cfg)
		if err != nil {
			return nil, fmt.Errorf("error creating postgres migration driver: %w", err)
		}
		return driver, nil
	}
	return nil, fmt.Errorf("error unsupported migration database driver: %s", db.DriverName())
}

// produceMigrationFiles templates every migration's SQL for dialectTemplate and writes the
// result to an in-memory filesystem that golang-migrate's iofs source driver can read.
func (r *GolangMigrateRunner) produceMigrationFiles(dialectTemplate *DialectTemplate) (*memfs.FS, error) {
	inMemoryFS := memfs.New()
	if err := inMemoryFS.MkdirAll("migrations", 0777); err != nil {
		return nil, err
	}
	for _, m := range r.migrationData {
		if err := r.writeMigrationFile(inMemoryFS, dialectTemplate, m.SequenceNumber, m.Name, "up", m.UpSQL); err != nil {
			return nil, err
		}
		if err := r.writeMigrationFile(inMemoryFS, dialectTemplate, m.SequenceNumber, m.Name, "down", m.DownSQL); err != nil {
			return nil, err
		}
	}
	return inMemoryFS, nil
}

func (r *GolangMigrateRunner) writeMigrationFile(inMemoryFS *memfs.FS, dialectTemplate *DialectTemplate, sequenceNumber int64, name, upOrDown, sql string) error {
	migrationPath := fmt.Sprintf("migrations/%06d_%s.%s.sql", sequenceNumber, name, upOrDown)
	tmpl, err := template.New(name).Parse(sql)
	if err != nil {
		return fmt.Errorf("error parsing migration %q template: %w", migrationPath, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, dialectTemplate); err != nil {
		return fmt.Errorf("error applying migration %q template: %w", migrationPath, err)
	}
	if err := inMemoryFS.WriteFile(migrationPath, buf.Bytes(), 0755); err != nil {
		return fmt.Errorf("error writing migration %q to in-memory filesystem: %w", migrationPath, err)
	}
	return nil
}
