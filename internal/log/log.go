// Package log provides structured logging for opsd.
// Entries are written as timestamped key=value lines to a log file (or
// stderr) and fanned out to subscribers through a pubsub broker so the
// status API can stream recent events.
package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/ashford-obs/opsd/internal/pubsub"
)

// Level represents log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Category groups related log messages.
type Category string

const (
	CatConfig Category = "config" // Configuration loading and watching
	CatEnv    Category = "env"    // Environment monitor
	CatDome   Category = "dome"   // Enclosure controller
	CatSched  Category = "sched"  // Action scheduler
	CatAction Category = "action" // Individual observing actions
	CatOps    Category = "ops"    // Supervisor facade and API
	CatRPC    Category = "rpc"    // Calls to collaborator daemons
)

// MarshalText renders the level name in JSON payloads.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Entry is a structured log record delivered to subscribers.
type Entry struct {
	Time     time.Time `json:"time"`
	Level    Level     `json:"level"`
	Category Category  `json:"category"`
	Message  string    `json:"message"`
	Line     string    `json:"line"`
}

// Logger provides structured logging.
type Logger struct {
	mu       sync.Mutex
	file     *os.File
	writer   io.Writer
	enabled  bool
	minLevel Level
	limiter  *gocache.Cache
	broker   *pubsub.Broker[Entry]
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Init initializes the global logger writing to the given path.
// An empty path logs to stderr. Returns a cleanup function.
func Init(path string) (func(), error) {
	var initErr error
	once.Do(func() {
		defaultLogger, initErr = newLogger(path)
	})
	if initErr != nil {
		return nil, initErr
	}
	if defaultLogger == nil {
		return nil, fmt.Errorf("logger initialization failed or already attempted")
	}
	return func() {
		if defaultLogger != nil && defaultLogger.file != nil {
			_ = defaultLogger.file.Close()
		}
	}, nil
}

func newLogger(path string) (*Logger, error) {
	l := &Logger{
		writer:   os.Stderr,
		enabled:  true,
		minLevel: LevelInfo,
		limiter:  gocache.New(time.Minute, 5*time.Minute),
		broker:   pubsub.NewBroker[Entry](),
	}
	if path != "" {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644) //nolint:gosec // G304: path is an operator-controlled log path
		if err != nil {
			return nil, err
		}
		l.file = f
		l.writer = f
	}
	return l, nil
}

// SetEnabled toggles logging on/off.
func SetEnabled(enabled bool) {
	if defaultLogger != nil {
		defaultLogger.mu.Lock()
		defaultLogger.enabled = enabled
		defaultLogger.mu.Unlock()
	}
}

// SetMinLevel sets the minimum log level.
func SetMinLevel(level Level) {
	if defaultLogger != nil {
		defaultLogger.mu.Lock()
		defaultLogger.minLevel = level
		defaultLogger.mu.Unlock()
	}
}

// Debug logs at debug level.
func Debug(cat Category, msg string, fields ...any) {
	write(LevelDebug, cat, msg, fields...)
}

// Info logs at info level.
func Info(cat Category, msg string, fields ...any) {
	write(LevelInfo, cat, msg, fields...)
}

// Warn logs at warning level.
func Warn(cat Category, msg string, fields ...any) {
	write(LevelWarn, cat, msg, fields...)
}

// Error logs at error level.
func Error(cat Category, msg string, fields ...any) {
	write(LevelError, cat, msg, fields...)
}

// ErrorErr logs an error with the error value appended as a field.
func ErrorErr(cat Category, msg string, err error, fields ...any) {
	if err != nil {
		fields = append(fields, "error", err.Error())
	} else {
		fields = append(fields, "error", "<nil>")
	}
	write(LevelError, cat, msg, fields...)
}

// RateLimited logs at warning level at most once per ttl for a given key.
// Used for RPC failures that repeat every loop tick.
func RateLimited(cat Category, key string, ttl time.Duration, msg string, fields ...any) {
	if defaultLogger == nil {
		return
	}
	if _, found := defaultLogger.limiter.Get(key); found {
		return
	}
	defaultLogger.limiter.Set(key, struct{}{}, ttl)
	write(LevelWarn, cat, msg, fields...)
}

func write(level Level, cat Category, msg string, fields ...any) {
	if defaultLogger == nil || !defaultLogger.enabled {
		return
	}
	if level < defaultLogger.minLevel {
		return
	}

	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()

	// Format: 2026-02-14T21:03:55Z [INFO] [dome] message key=value
	now := time.Now().UTC()
	line := fmt.Sprintf("%s [%s] [%s] %s", now.Format("2006-01-02T15:04:05Z"), level, cat, msg)
	for i := 0; i+1 < len(fields); i += 2 {
		line += fmt.Sprintf(" %v=%v", fields[i], fields[i+1])
	}
	if len(fields)%2 != 0 {
		line += fmt.Sprintf(" %v=<missing>", fields[len(fields)-1])
	}

	if defaultLogger.writer != nil {
		_, _ = defaultLogger.writer.Write([]byte(line + "\n"))
	}

	if defaultLogger.broker != nil {
		defaultLogger.broker.Publish(pubsub.LogEvent, Entry{
			Time:     now,
			Level:    level,
			Category: cat,
			Message:  msg,
			Line:     line,
		})
	}
}

// Subscribe returns a channel of log entries for streaming observers.
// Returns nil if the logger has not been initialized.
func Subscribe(ctx context.Context) <-chan pubsub.Event[Entry] {
	if defaultLogger == nil || defaultLogger.broker == nil {
		return nil
	}
	return defaultLogger.broker.Subscribe(ctx)
}
