// Package logging provides the leveled-logger facade every component in
// squibd logs through, backed by logiface with the logrus adapter as the
// concrete implementation.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/joeycumines/logiface"
	ilogrus "github.com/joeycumines/logiface-logrus"
	"github.com/sirupsen/logrus"
)

// Config selects the log level, destination file, and optional mirrored
// console output, matching common::loglevel, common::logfile,
// common::console, and common::console_loglevel.
type Config struct {
	Level        string
	LogFile      string
	Console      bool
	ConsoleLevel string
}

// Logger wraps a logiface.Logger[*ilogrus.Event] and the logrus backend it
// was built from, so that packages taking a *logrus.Logger (the
// supervisor, report, and selfstats packages) can keep doing so while
// everything constructed through cmd/squibd goes through one facade.
type Logger struct {
	base *logiface.Logger[*ilogrus.Event]

	mu       sync.Mutex
	backend  *logrus.Logger
	path     string
	file     *os.File
	fileHook *levelHook
}

// New constructs a Logger per cfg, opening LogFile if set and mirroring to
// stderr at a possibly different threshold when Console is true.
func New(cfg Config) (*Logger, error) {
	backend := logrus.New()
	backend.SetOutput(io.Discard) // every write goes through the hooks below

	level, err := logrus.ParseLevel(orDefault(cfg.Level, "info"))
	if err != nil {
		return nil, fmt.Errorf("logging: invalid level %q: %w", cfg.Level, err)
	}
	consoleLevel := level
	if cfg.Console && cfg.ConsoleLevel != "" {
		consoleLevel, err = logrus.ParseLevel(cfg.ConsoleLevel)
		if err != nil {
			return nil, fmt.Errorf("logging: invalid console level %q: %w", cfg.ConsoleLevel, err)
		}
	}
	backend.SetLevel(maxLevel(level, consoleLevel))

	lg := &Logger{backend: backend, path: cfg.LogFile}

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logging: opening log file: %w", err)
		}
		lg.file = f
		lg.fileHook = newLevelHook(level, f, &logrus.TextFormatter{FullTimestamp: true})
		backend.AddHook(lg.fileHook)
	}
	if cfg.Console {
		backend.AddHook(newLevelHook(consoleLevel, os.Stderr, &logrus.TextFormatter{FullTimestamp: true}))
	}

	lg.base = logiface.New[*ilogrus.Event](ilogrus.WithLogrus(backend))
	return lg, nil
}

// maxLevel returns the more permissive (numerically larger) logrus level,
// since logrus gates hook dispatch on the logger's own level first.
func maxLevel(a, b logrus.Level) logrus.Level {
	if a > b {
		return a
	}
	return b
}

// levelHook writes formatted entries at or above a threshold to a fixed
// writer, letting one logrus.Logger fan out to a log file and the console
// at independent verbosity levels.
type levelHook struct {
	levels    []logrus.Level
	formatter logrus.Formatter

	mu  sync.Mutex
	out io.Writer
}

func newLevelHook(threshold logrus.Level, out io.Writer, formatter logrus.Formatter) *levelHook {
	h := &levelHook{out: out, formatter: formatter}
	for _, l := range logrus.AllLevels {
		if l <= threshold {
			h.levels = append(h.levels, l)
		}
	}
	return h
}

func (h *levelHook) Levels() []logrus.Level { return h.levels }

func (h *levelHook) setOut(out io.Writer) {
	h.mu.Lock()
	h.out = out
	h.mu.Unlock()
}

func (h *levelHook) Fire(entry *logrus.Entry) error {
	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	h.mu.Lock()
	out := h.out
	h.mu.Unlock()
	_, err = out.Write(line)
	return err
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Logrus returns the underlying *logrus.Logger, for packages (supervisor,
// report, selfstats) that were built against the logrus API directly
// rather than the logiface facade.
func (l *Logger) Logrus() *logrus.Logger { return l.backend }

func (l *Logger) Trace(msg string)            { l.base.Trace().Log(msg) }
func (l *Logger) Debug(msg string)            { l.base.Debug().Log(msg) }
func (l *Logger) Info(msg string)             { l.base.Info().Log(msg) }
func (l *Logger) Warn(msg string)             { l.base.Warning().Log(msg) }
func (l *Logger) Error(msg string)            { l.base.Err().Log(msg) }
func (l *Logger) Fatal(msg string)            { l.base.Emerg().Log(msg) }

// With returns a builder-scoped entry carrying a single field, mirroring
// logrus's WithField call sites elsewhere in the codebase.
func (l *Logger) With(key string, val any) *Entry {
	return &Entry{l: l, fields: []field{{key, val}}}
}

// WithError returns an entry carrying err, to be logged at a chosen level.
func (l *Logger) WithError(err error) *Entry {
	return &Entry{l: l, err: err}
}

type field struct {
	key string
	val any
}

// Entry accumulates fields before a terminal log call, the logiface way of
// doing what logrus.WithField/WithError chains do.
type Entry struct {
	l      *Logger
	fields []field
	err    error
}

func (e *Entry) With(key string, val any) *Entry {
	e.fields = append(e.fields, field{key, val})
	return e
}

func (e *Entry) build(b *logiface.Builder[*ilogrus.Event]) *logiface.Builder[*ilogrus.Event] {
	for _, f := range e.fields {
		b = b.Any(f.key, f.val)
	}
	if e.err != nil {
		b = b.Err(e.err)
	}
	return b
}

func (e *Entry) Trace(msg string) { e.build(e.l.base.Trace()).Log(msg) }
func (e *Entry) Debug(msg string) { e.build(e.l.base.Debug()).Log(msg) }
func (e *Entry) Info(msg string)  { e.build(e.l.base.Info()).Log(msg) }
func (e *Entry) Warn(msg string)  { e.build(e.l.base.Warning()).Log(msg) }
func (e *Entry) Error(msg string) { e.build(e.l.base.Err()).Log(msg) }

// Reopen closes and reopens the configured log file in place, the way
// SIGUSR2 log rotation support requires: logrotate renames the old file
// out from under the open fd, and the process must reopen the new path to
// keep writing to it.
func (l *Logger) Reopen() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.path == "" {
		return nil
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("logging: reopening log file: %w", err)
	}
	old := l.file
	l.file = f
	if l.fileHook != nil {
		l.fileHook.setOut(f)
	}
	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
