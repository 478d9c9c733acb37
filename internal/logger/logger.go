package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters (lumberjack semantics).
const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 7
)

// Config describes the daemon log destination. If File is empty and Dir is
// set, the log is Dir/restraint.log. Console output is always emitted.
type Config struct {
	Dir        string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	Debug      bool
}

// New builds the process-wide slog.Logger: colored text on stderr plus a
// rotating file when configured. The file handler never colors.
func New(c Config) *slog.Logger {
	level := slog.LevelInfo
	if c.Debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	path := c.File
	if path == "" && c.Dir != "" {
		path = filepath.Join(c.Dir, "restraint.log")
	}
	// The console drops timestamps once a file handler records them.
	console := NewColorTextHandler(os.Stderr, opts, path == "")
	if path == "" {
		return slog.New(console)
	}
	fileW := &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
	return slog.New(multiHandler{console, slog.NewTextHandler(fileW, opts)})
}

// FileWriter returns the rotating writer alone, for components that need a
// raw io.Writer (e.g. gin's access log).
func (c Config) FileWriter(name string) io.WriteCloser {
	dir := c.Dir
	if dir == "" {
		dir = "."
	}
	return &lj.Logger{
		Filename:   filepath.Join(dir, name),
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
