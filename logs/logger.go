// Package logs builds the structured loggers used by the runtime and its
// command line.
package logs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/najoast/raft/config"
	slogmulti "github.com/samber/slog-multi"
	slogjournal "github.com/systemd/slog-journal"
)

// Logger is a slog logger whose level can be changed after construction.
type Logger struct {
	*slog.Logger

	level  *slog.LevelVar
	closer io.Closer
}

// New builds a logger for cfg. Output "stdout" and "stderr" select the
// standard streams; anything else is a file opened for appending.
func New(cfg config.LogConfig) (*Logger, error) {
	var (
		w      io.Writer
		closer io.Closer
	)
	switch cfg.Output {
	case "", "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log output: %w", err)
		}
		w, closer = f, f
	}

	l := NewWithWriter(cfg, w)
	l.closer = closer
	return l, nil
}

// NewWithWriter builds a logger for cfg that writes to w instead of cfg.Output.
func NewWithWriter(cfg config.LogConfig, w io.Writer) *Logger {
	level := new(slog.LevelVar)
	level.Set(cfg.Level.Slog())

	var handlers []slog.Handler

	// a systemd service already has its stderr in the journal
	underSystemd := false
	if cgroupPath, err := getCgroupPath(); err == nil {
		underSystemd = strings.HasSuffix(path.Dir(cgroupPath), ".service")
	}

	// local
	var terminalHandler slog.Handler
	if !(cfg.Journal && underSystemd) {
		opts := &slog.HandlerOptions{Level: level}
		if cfg.Format == "json" {
			terminalHandler = slog.NewJSONHandler(w, opts)
		} else {
			terminalHandler = slog.NewTextHandler(w, opts)
		}
		handlers = append(handlers, terminalHandler)
	}

	// systemd journal
	if cfg.Journal {
		journalHandler, err := slogjournal.NewHandler(&slogjournal.Options{
			Level: level,
			ReplaceGroup: func(key string) string {
				return toJournalKey(key)
			},
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				a.Key = toJournalKey(a.Key)
				return a
			},
		})
		if err != nil {
			if terminalHandler != nil {
				record := slog.NewRecord(time.Now(), slog.LevelWarn, "new systemd journal handler", 0)
				record.Add("error", err)
				_ = terminalHandler.Handle(context.Background(), record)
			}
		} else {
			handlers = append(handlers, journalHandler)
		}
	}

	if len(handlers) == 0 {
		handlers = append(handlers, slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	}

	return &Logger{
		Logger: slog.New(slogmulti.Fanout(handlers...)),
		level:  level,
	}
}

// SetLevel changes the minimum level of every handler.
func (l *Logger) SetLevel(level config.LogLevel) {
	l.level.Set(level.Slog())
}

// Level returns the current minimum level.
func (l *Logger) Level() slog.Level {
	return l.level.Level()
}

// Close closes the output file, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func toJournalKey(str string) string {
	str = strings.ToUpper(str)
	str = strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' ||
			r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, str)
	return str
}

func getCgroupPath() (string, error) {
	content, err := os.ReadFile("/proc/self/cgroup")
	if err != nil {
		return "", err
	}
	parts := strings.Split(strings.TrimSpace(string(content)), ":")
	if len(parts) >= 3 {
		return parts[2], nil
	}
	return "", nil
}
