// Package logging builds the process-wide logrus.Logger from an
// internal/config.LoggingConfig: human-readable text for a terminal,
// newline-delimited JSON for shipping to a collector.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Config selects the logger's level, format, and optional file output.
type Config struct {
	// Level is one of debug, info, warn, error.
	Level string

	// Format is "text" or "json".
	Format string

	// File, if non-empty, tees output to this path alongside stderr.
	File string
}

// New builds a *logrus.Logger from cfg. An empty Level defaults to info,
// an empty Format defaults to text.
func New(cfg Config) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(orDefault(cfg.Level, "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	log.SetLevel(level)

	switch orDefault(cfg.Format, "text") {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	case "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log file %s: %w", cfg.File, err)
		}
		log.SetOutput(io.MultiWriter(os.Stderr, f))
	}

	return log, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
