// Package logging wraps the standard library's log.Logger with a small
// throttle helper, keeping plain log.Printf/log.Fatalf-style output rather
// than pulling in a structured-logging dependency (see DESIGN.md).
package logging

import (
	"log"
	"os"
	"sync"
	"time"
)

// Logger is a thin wrapper around *log.Logger that adds per-key throttling,
// used by the detection pool (one log line per 5s per camera on detector
// failure). The sync-quality monitor keeps its own 60s throttle and logs
// through Printf.
type Logger struct {
	std *log.Logger

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

// Default returns a Logger writing to stderr with the standard log package's
// default flags.
func Default() *Logger {
	return New(log.New(os.Stderr, "", log.LstdFlags))
}

// New wraps an existing *log.Logger.
func New(std *log.Logger) *Logger {
	return &Logger{std: std, lastSeen: make(map[string]time.Time)}
}

// Printf logs unconditionally.
func (l *Logger) Printf(format string, args ...any) {
	l.std.Printf(format, args...)
}

// Throttled logs at most once per `window` for a given key, returning true
// if it actually logged. Used to avoid flooding logs under sustained
// detector failure or sync drift.
func (l *Logger) Throttled(key string, window time.Duration, format string, args ...any) bool {
	l.mu.Lock()
	now := time.Now()
	last, ok := l.lastSeen[key]
	if ok && now.Sub(last) < window {
		l.mu.Unlock()
		return false
	}
	l.lastSeen[key] = now
	l.mu.Unlock()

	l.std.Printf(format, args...)
	return true
}
