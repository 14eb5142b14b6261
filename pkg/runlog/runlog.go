// Package runlog is the append-only message log of a bootstrap run. Every
// message is written to a persistent file, optionally mirrored to a stream,
// and pushed to a live subscriber in the order it was recorded.
package runlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Level of a recorded message.
type Level = slog.Level

const (
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Entry is one recorded message.
type Entry struct {
	Time    time.Time
	Level   Level
	Message string
}

// Subscriber receives each entry after it has been written.
type Subscriber func(Entry)

// Log is the stage log. It is safe for concurrent use; entries are delivered
// in a single FIFO order.
type Log struct {
	mu         sync.Mutex
	logger     *slog.Logger
	file       *os.File
	subscriber Subscriber
	now        func() time.Time
	err        error

	// pending holds written entries not yet handed to the subscriber; one
	// caller at a time drains it, outside mu.
	pending    []Entry
	delivering bool
}

// Option configures a Log.
type Option func(*logConfig)

type logConfig struct {
	mirror io.Writer
	now    func() time.Time
}

// WithMirror copies every line to w as well as the log file.
func WithMirror(w io.Writer) Option {
	return func(c *logConfig) {
		c.mirror = w
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *logConfig) {
		c.now = now
	}
}

// Open opens path for appending, creating it if needed.
func Open(path string, opts ...Option) (*Log, error) {
	if path == "" {
		return nil, fmt.Errorf("log file path is required")
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	l := New(file, opts...)
	l.file = file
	return l, nil
}

// New creates a log writing to w.
func New(w io.Writer, opts ...Option) *Log {
	cfg := &logConfig{now: time.Now}
	for _, opt := range opts {
		opt(cfg)
	}

	out := w
	if cfg.mirror != nil {
		out = io.MultiWriter(w, cfg.mirror)
	}

	return &Log{
		logger: slog.New(newLineHandler(out, slog.LevelInfo)),
		now:    cfg.now,
	}
}

// Subscribe sets the live subscriber, replacing any previous one. The
// subscriber is called without the log's lock held and may record into the
// log itself; such entries are delivered after the current one.
func (l *Log) Subscribe(s Subscriber) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subscriber = s
}

// Record appends an informational message.
func (l *Log) Record(message string) {
	l.write(LevelInfo, message)
}

// Recordf formats and appends an informational message.
func (l *Log) Recordf(format string, args ...any) {
	l.write(LevelInfo, fmt.Sprintf(format, args...))
}

// Warn appends a warning.
func (l *Log) Warn(message string) {
	l.write(LevelWarn, message)
}

// Error appends an error message.
func (l *Log) Error(message string) {
	l.write(LevelError, message)
}

// Err returns the first error hit while writing to the log, if any.
func (l *Log) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Close closes the underlying file, if Open created one. It reports the
// first write error when there was one.
func (l *Log) Close() error {
	var closeErr error
	if l.file != nil {
		closeErr = l.file.Close()
	}
	if err := l.Err(); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return closeErr
}

// write appends the entry to the file and the delivery queue under the lock,
// so the file order and the subscriber order are identical.
func (l *Log) write(level Level, message string) {
	l.mu.Lock()

	entry := Entry{Time: l.now(), Level: level, Message: message}
	r := slog.NewRecord(entry.Time, level, message, 0)
	if err := l.logger.Handler().Handle(context.Background(), r); err != nil && l.err == nil {
		l.err = err
	}

	if l.subscriber == nil && len(l.pending) == 0 {
		l.mu.Unlock()
		return
	}
	l.pending = append(l.pending, entry)
	if l.delivering {
		l.mu.Unlock()
		return
	}

	l.delivering = true
	for len(l.pending) > 0 {
		batch := l.pending
		l.pending = nil
		sub := l.subscriber
		l.mu.Unlock()
		if sub != nil {
			for _, e := range batch {
				sub(e)
			}
		}
		l.mu.Lock()
	}
	l.delivering = false
	l.mu.Unlock()
}
