package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ErrorEntry represents an error log entry
type ErrorEntry struct {
	Source    string
	Status    string
	Error     string
	Timestamp time.Time
}

// ErrorLogger writes one JSON line per failed record to a rotated log file
// and keeps the entries of the current run for the summary.
type ErrorLogger struct {
	mu      sync.Mutex
	logFile string
	errors  []ErrorEntry
	out     io.WriteCloser
	log     zerolog.Logger
}

// NewErrorLogger creates a new error logger. An empty logFile keeps entries
// in memory only.
func NewErrorLogger(logFile string) (*ErrorLogger, error) {
	l := &ErrorLogger{logFile: logFile, log: zerolog.Nop()}
	if logFile == "" {
		return l, nil
	}

	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
		return nil, fmt.Errorf("could not create log directory: %w", err)
	}
	l.out = &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    50, // MB before rotation
		MaxBackups: 5,
	}
	l.log = zerolog.New(l.out).With().Timestamp().Logger()
	return l, nil
}

// Log records a failure for a source.
func (l *ErrorLogger) Log(source, status, errorMsg string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := ErrorEntry{
		Source:    source,
		Status:    status,
		Error:     errorMsg,
		Timestamp: time.Now(),
	}
	l.errors = append(l.errors, entry)
	l.log.Error().Str("source", source).Str("status", status).Msg(errorMsg)
}

// Entries returns the failures logged in this run.
func (l *ErrorLogger) Entries() []ErrorEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ErrorEntry(nil), l.errors...)
}

// Summary returns a summary of logged errors.
func (l *ErrorLogger) Summary() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case len(l.errors) == 0:
		return "No errors"
	case l.logFile == "":
		return fmt.Sprintf("%d errors", len(l.errors))
	}
	return fmt.Sprintf("%d errors logged to %s", len(l.errors), l.logFile)
}

// ErrorCount returns the number of logged errors.
func (l *ErrorLogger) ErrorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}

// Close closes the log file.
func (l *ErrorLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.out != nil {
		return l.out.Close()
	}
	return nil
}
