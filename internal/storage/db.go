package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config holds the postgres backend's connection and pool settings.
type Config struct {
	Host        string
	Port        string
	User        string
	Password    string
	DBName      string
	SSLMode     string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// DefaultConfig returns connection settings for a local development
// postgres instance.
func DefaultConfig() *Config {
	return &Config{
		Host:        "localhost",
		Port:        "5432",
		User:        "pipeworks",
		Password:    "pipeworks_dev_password",
		DBName:      "pipeworks",
		SSLMode:     "disable",
		MaxConns:    25,
		MinConns:    5,
		MaxIdleTime: 5 * time.Minute,
		MaxLifetime: 30 * time.Minute,
	}
}

// DB wraps a pooled *gorm.DB connection to the relational backend used
// by RelationalStore and the golang-migrate runner in migrate.go.
type DB struct {
	*gorm.DB
	log *logrus.Logger
}

// NewDB opens a pooled connection to cfg's postgres instance, applies
// the pool-sizing settings, and pings it once before returning. log
// receives one line reporting the pool size on success; a nil log
// falls back to logrus.StandardLogger(), the same default every other
// constructor in this module uses.
func NewDB(cfg *Config, log *logrus.Logger) (*DB, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxConns)
	sqlDB.SetMaxIdleConns(cfg.MinConns)
	sqlDB.SetConnMaxIdleTime(cfg.MaxIdleTime)
	sqlDB.SetConnMaxLifetime(cfg.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.WithFields(logrus.Fields{
		"host": cfg.Host, "dbname": cfg.DBName,
		"max_conns": cfg.MaxConns, "min_conns": cfg.MinConns,
	}).Info("connected to relational store")

	return &DB{DB: db, log: log}, nil
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks whether the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Transaction runs fn within a database transaction, committing on a
// nil return and rolling back otherwise.
func (db *DB) Transaction(fn func(*gorm.DB) error) error {
	return db.DB.Transaction(fn)
}

// Health pings the database and confirms the pool has at least one open
// connection. It logs the pool's current open/idle/in-use counts at
// debug level on every call, which is noisy enough that it is meant to
// back a periodic health check, not per-request use.
func (db *DB) Health(ctx context.Context) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	stats := sqlDB.Stats()
	db.log.WithFields(logrus.Fields{
		"open": stats.OpenConnections, "in_use": stats.InUse, "idle": stats.Idle,
	}).Debug("relational store pool stats")
	if stats.OpenConnections == 0 {
		return fmt.Errorf("no open database connections")
	}

	return nil
}
