// Package logger builds the zerolog logger behind the command line tools: a
// human readable console stream plus a size-rotated log file.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultFilename   = "evtx-archiver.log"
	defaultLogDir     = "./logs"
	defaultMaxSizeMB  = 10
	defaultMaxBackups = 5
	maxAgeDays        = 30
	consoleTimeFormat = "2006-01-02 15:04:05"
)

// Logger is a zerolog.Logger that owns its log file.
type Logger struct {
	zerolog.Logger
	file io.Closer
}

// Config selects the level and destinations of a Logger.
type Config struct {
	Level      string // debug, info, warn, error
	LogDir     string
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	Console    bool      // write the console stream
	ConsoleOut io.Writer // console destination, stderr when nil
	NoFile     bool      // skip the rotating log file
}

func (c *Config) applyDefaults() {
	if c.LogDir == "" {
		c.LogDir = defaultLogDir
	}
	if c.Filename == "" {
		c.Filename = defaultFilename
	}
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = defaultMaxSizeMB
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = defaultMaxBackups
	}
	if c.ConsoleOut == nil {
		c.ConsoleOut = os.Stderr
	}
}

// New builds a Logger from cfg. A log directory that cannot be created
// degrades to plain JSON on stderr rather than failing the command.
func New(cfg Config) *Logger {
	cfg.applyDefaults()
	level := parseLogLevel(cfg.Level)

	l := &Logger{}
	var sinks []io.Writer

	if !cfg.NoFile {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			l.Logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
			l.Warn().Err(err).Str("log_dir", cfg.LogDir).Msg("Log file disabled")
			return l
		}
		file := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.LogDir, cfg.Filename),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     maxAgeDays,
		}
		l.file = file
		sinks = append(sinks, file)
	}

	if cfg.Console {
		sinks = append(sinks, zerolog.ConsoleWriter{
			Out:        cfg.ConsoleOut,
			TimeFormat: consoleTimeFormat,
			NoColor:    cfg.ConsoleOut != os.Stderr,
		})
	}

	switch len(sinks) {
	case 0:
		return Nop()
	case 1:
		l.Logger = zerolog.New(sinks[0])
	default:
		l.Logger = zerolog.New(zerolog.MultiLevelWriter(sinks...))
	}
	l.Logger = l.Level(level).With().Timestamp().Logger()
	return l
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// parseLogLevel maps a configured level name to zerolog; anything unknown or
// more verbose than debug is info.
func parseLogLevel(level string) zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(level))
	if name == "warning" {
		name = "warn"
	}
	parsed, err := zerolog.ParseLevel(name)
	if err != nil || name == "" || parsed < zerolog.DebugLevel {
		return zerolog.InfoLevel
	}
	return parsed
}

// With returns a child logger carrying fields on every event. The child
// shares the parent's log file.
func (l *Logger) With(fields map[string]string) *Logger {
	ctx := l.Logger.With()
	for k, v := range fields {
		ctx = ctx.Str(k, v)
	}
	return &Logger{Logger: ctx.Logger(), file: l.file}
}

// Close closes the rotating log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
