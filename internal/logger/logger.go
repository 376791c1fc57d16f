// Package logger builds the zerolog logger shared by travelstore components.
package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

const (
	permission = 0664
)

// Build collects logger settings before Make creates the logger.
type Build struct {
	writer io.Writer
	path   string
	level  string
}

// Logger is a configured zerolog logger plus the file it writes to, if any.
type Logger struct {
	zerolog.Logger
	file *os.File
}

// New starts a logger build that writes to stderr at info level.
func New() *Build {
	return &Build{writer: os.Stderr, level: "info"}
}

// FromPath appends log lines to the file at path.
func (b *Build) FromPath(path string) *Build {
	b.path = path
	return b
}

// FromWriter writes log lines to w.
func (b *Build) FromWriter(w io.Writer) *Build {
	b.writer = w
	return b
}

// WithLevel sets the minimum level ("debug", "info", "warn", "error").
// Unknown levels fall back to info.
func (b *Build) WithLevel(level string) *Build {
	b.level = level
	return b
}

// Make creates the logger.
func (b *Build) Make() (*Logger, error) {
	l := &Logger{}
	w := b.writer
	if b.path != "" {
		f, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, err
		}
		l.file = f
		w = zerolog.SyncWriter(f)
	}

	level, err := zerolog.ParseLevel(b.level)
	if err != nil || b.level == "" {
		level = zerolog.InfoLevel
	}
	l.Logger = zerolog.New(w).Level(level).With().Timestamp().Logger()
	return l, nil
}

// Close closes the log file when the logger writes to one.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
