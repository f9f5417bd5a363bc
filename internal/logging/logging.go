// Package logging configures the global zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dokzlo13/panelhub/internal/config"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// ParseLevel maps a config level to zerolog, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// New builds a logger writing to out and, when cfg.File is set, to a
// rotated file. The returned closer releases the file.
func New(cfg config.LogConfig, out io.Writer) (zerolog.Logger, io.Closer) {
	var console io.Writer = out
	if !cfg.JSON {
		console = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: consoleTimeFormat,
			NoColor:    !cfg.Colors,
		}
	}

	var closer io.Closer = nopCloser{}
	writer := console
	if cfg.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxAge:     cfg.MaxAgeDays,
			MaxBackups: cfg.MaxBackups,
		}
		// the file always gets JSON lines
		writer = zerolog.MultiLevelWriter(console, file)
		closer = file
	}

	logger := zerolog.New(writer).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
	return logger, closer
}

// Setup installs the logger built from cfg as the global logger.
func Setup(cfg config.LogConfig) io.Closer {
	// ISO 8601 format with timezone
	zerolog.TimeFieldFormat = time.RFC3339

	logger, closer := New(cfg, os.Stderr)
	log.Logger = logger
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))
	return closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
