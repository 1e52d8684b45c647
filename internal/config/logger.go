package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Prepare builds the program logger. The terminal UI owns stdout, so logs go
// to a rotated file and only optionally to a console writer on stderr.
func (conf *LoggingConfig) Prepare() (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(conf.Level))
	if err != nil {
		return zerolog.Nop(), nopCloser{}, fmt.Errorf("bad log level %q: %w", conf.Level, err)
	}
	if level == zerolog.Disabled {
		return zerolog.Nop(), nopCloser{}, nil
	}

	var (
		writers []io.Writer
		closer  io.Closer = nopCloser{}
	)
	if conf.File != "" {
		if err := os.MkdirAll(filepath.Dir(conf.File), 0o755); err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("create logs dir: %w", err)
		}
		lj := &lumberjack.Logger{
			Filename:   conf.File,
			MaxSize:    conf.MaxSizeMB,
			MaxBackups: conf.MaxBackups,
			MaxAge:     conf.MaxAgeDays,
			Compress:   conf.Compress,
		}
		writers = append(writers, lj)
		closer = lj
	}
	if conf.Console {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	if len(writers) == 0 {
		return zerolog.Nop(), closer, nil
	}

	log := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Str("app", "pagebook").
		Logger()
	return log, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
