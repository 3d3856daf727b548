// Migrations against the relational state store's schema (kv, runs,
// tasks) run through golang-migrate rather than gorm's
// AutoMigrate, so the schema history is explicit and reviewable.
package storage

import (
	"database/sql"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// MigrateConfig holds the postgres connection parameters used to reach the
// pipeline state store's database, independent of the *gorm.DB path used
// for normal reads and writes.
type MigrateConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (cfg *MigrateConfig) dsn() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)
}

func openMigrator(cfg *MigrateConfig, migrationsPath string) (*migrate.Migrate, func(), error) {
	db, err := sql.Open("postgres", cfg.dsn())
	if err != nil {
		return nil, nil, fmt.Errorf("opening state store database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("pinging state store database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("creating postgres migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(fmt.Sprintf("file://%s", migrationsPath), "postgres", driver)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("loading migrations from %s: %w", migrationsPath, err)
	}
	return m, func() { db.Close() }, nil
}

// RunMigrations applies every pending schema migration to the state
// store's database.
func RunMigrations(cfg *MigrateConfig, migrationsPath string) error {
	m, closeFn, err := openMigrator(cfg, migrationsPath)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("applying migrations: %w", err)
	}
	logrus.WithField("path", migrationsPath).Info("state store migrations applied")
	return nil
}

// RollbackMigrations reverts the state store's most recently applied
// migration.
func RollbackMigrations(cfg *MigrateConfig, migrationsPath string) error {
	m, closeFn, err := openMigrator(cfg, migrationsPath)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := m.Steps(-1); err != nil {
		return fmt.Errorf("rolling back migration: %w", err)
	}
	logrus.WithField("path", migrationsPath).Info("state store migration rolled back")
	return nil
}

// MigrationVersion reports the state store's currently applied schema
// version, and whether the last migration attempt left it dirty.
func MigrationVersion(cfg *MigrateConfig, migrationsPath string) (uint, bool, error) {
	m, closeFn, err := openMigrator(cfg, migrationsPath)
	if err != nil {
		return 0, false, err
	}
	defer closeFn()

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return 0, false, fmt.Errorf("reading migration version: %w", err)
	}
	return version, dirty, nil
}
