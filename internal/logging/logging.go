// Package logging configures the process-wide structured logger.
package logging

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig controls rotation when logs go to a file.
type FileConfig struct {
	Filename   string `toml:"filename"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// Config selects the log level and destination.
type Config struct {
	Level  string     `toml:"level"`  // debug, info, warn, error
	Output string     `toml:"output"` // stdout, stderr, file
	File   FileConfig `toml:"file"`
}

// DefaultConfig logs info and above to stderr.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Output: "stderr",
		File: FileConfig{
			Filename:   "nftescrow.log",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}

// ParseLevel maps a level name onto slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level %q: %w", s, err)
	}
	return l, nil
}

// Setup installs a JSON slog logger tagged with service as the default and
// bridges the standard library logger onto it. The returned closer releases
// the log file when output is "file".
func Setup(service string, conf Config) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(conf.Level)
	if err != nil {
		return nil, nil, err
	}

	var out io.Writer
	closer := io.Closer(nopCloser{})
	switch conf.Output {
	case "file":
		if conf.File.Filename == "" {
			return nil, nil, fmt.Errorf("log output file requires a filename")
		}
		lj := &lumberjack.Logger{
			Filename:   conf.File.Filename,
			MaxSize:    conf.File.MaxSizeMB,
			MaxBackups: conf.File.MaxBackups,
			MaxAge:     conf.File.MaxAgeDays,
			Compress:   conf.File.Compress,
		}
		out, closer = lj, lj
	case "stdout":
		out = os.Stdout
	case "", "stderr":
		out = os.Stderr
	default:
		return nil, nil, fmt.Errorf("unknown log output %q", conf.Output)
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	})
	base := slog.New(handler).With("service", strings.TrimSpace(service))
	slog.SetDefault(base)

	bridge := slog.NewLogLogger(base.Handler(), slog.LevelInfo)
	log.SetOutput(bridge.Writer())
	log.SetFlags(0)

	return base, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
