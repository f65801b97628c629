// Package logging configures the process-wide zerolog logger. Components
// derive child loggers carrying a "component" field so every line can be
// attributed to the subsystem that wrote it.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration.
type Config struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Output     string `json:"output"`      // stdout, stderr, or a file path
	JSONFormat bool   `json:"json_format"` // raw JSON lines instead of console output
}

// New builds a root logger from the configuration. Invalid levels fall back
// to info; an unwritable output file falls back to stdout.
func New(cfg Config) zerolog.Logger {
	var output io.Writer = os.Stdout
	switch cfg.Output {
	case "", "stdout":
	case "stderr":
		output = os.Stderr
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err == nil {
			output = file
		}
	}

	if !cfg.JSONFormat {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}
