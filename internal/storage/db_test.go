package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, "5432", cfg.Port)
	assert.Equal(t, 25, cfg.MaxConns)
	assert.Equal(t, 5, cfg.MinConns)
}

func TestNewDB_InvalidHostFails(t *testing.T) {
	cfg := &Config{
		Host:     "invalid-host",
		Port:     "9999",
		User:     "invalid",
		Password: "invalid",
		DBName:   "invalid",
		SSLMode:  "disable",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	db, err := NewDB(cfg, nil)
	if err == nil && db != nil {
		db.Close()
		t.Skip("connection to invalid host succeeded unexpectedly")
	}
	assert.Error(t, err)
	<-ctx.Done()
}

func TestConfig_PoolSizing(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{
			name: "default-shaped config",
			config: &Config{
				Host: "localhost", Port: "5432", User: "pipeworks",
				Password: "password", DBName: "test_db", SSLMode: "disable",
				MaxConns: 25, MinConns: 5,
				MaxIdleTime: 5 * time.Minute, MaxLifetime: 30 * time.Minute,
			},
		},
		{
			name: "custom config",
			config: &Config{
				Host: "db.example.com", Port: "5433", User: "custom_user",
				Password: "custom_pass", DBName: "custom_db", SSLMode: "require",
				MaxConns: 50, MinConns: 10,
				MaxIdleTime: 10 * time.Minute, MaxLifetime: 60 * time.Minute,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEmpty(t, tt.config.Host)
			assert.NotEmpty(t, tt.config.Port)
			assert.GreaterOrEqual(t, tt.config.MaxConns, tt.config.MinConns)
		})
	}
}
