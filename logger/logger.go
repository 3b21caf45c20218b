package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// LogLevel represents the log level
type LogLevel int

const (
	// DEBUG level
	DEBUG LogLevel = iota
	// INFO level
	INFO
	// WARN level
	WARN
	// ERROR level
	ERROR
)

var levelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// Logger writes leveled log entries to a rotating file and optionally
// to the console. The level is atomic so it can change while other
// goroutines are logging.
type Logger struct {
	level       atomic.Int32
	file        io.WriteCloser
	console     bool
	filePath    string
	maxSize     int64 // bytes
	maxBackups  int
	currentSize int64
	mu          sync.Mutex
}

// Config holds logger settings.
type Config struct {
	Level      LogLevel
	FilePath   string
	MaxSize    int // MB
	MaxBackups int
	Console    bool
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:      INFO,
		FilePath:   "./logs/vendhub.log",
		MaxSize:    10,
		MaxBackups: 5,
		Console:    true,
	}
}

// New creates a logger from the given configuration.
func New(config Config) (*Logger, error) {
	logDir := filepath.Dir(config.FilePath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(config.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat log file: %w", err)
	}

	l := &Logger{
		file:        file,
		console:     config.Console,
		filePath:    config.FilePath,
		maxSize:     int64(config.MaxSize) * 1024 * 1024,
		maxBackups:  config.MaxBackups,
		currentSize: info.Size(),
	}
	l.level.Store(int32(config.Level))
	return l, nil
}

// SetLevel sets the log level.
func (l *Logger) SetLevel(level LogLevel) {
	l.level.Store(int32(level))
}

// Level returns the current log level.
func (l *Logger) Level() LogLevel {
	return LogLevel(l.level.Load())
}

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	if level < LogLevel(l.level.Load()) {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, file, line, ok := runtime.Caller(3)
	if !ok {
		file = "unknown"
		line = 0
	}
	file = filepath.Base(file)

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	msg := fmt.Sprintf(format, args...)

	var color string
	switch level {
	case DEBUG:
		color = "\033[90m"
	case INFO:
		color = "\033[32m"
	case WARN:
		color = "\033[33m"
	case ERROR:
		color = "\033[31m"
	}

	entry := fmt.Sprintf("%s [%s] %s:%d: %s\n", timestamp, levelNames[level], file, line, msg)

	n, err := io.WriteString(l.file, entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "write log: %v\n", err)
		return
	}
	l.currentSize += int64(n)

	if l.console {
		fmt.Fprintf(os.Stdout, "%s [%s%s\033[0m] %s:%d: %s\n",
			timestamp, color, levelNames[level], file, line, msg)
	}

	if l.currentSize >= l.maxSize {
		l.rotate()
	}
}

// rotate renames the current log file with a timestamp suffix and opens
// a fresh one. Called with the mutex held.
func (l *Logger) rotate() {
	l.file.Close()

	timestamp := time.Now().Format("20060102-150405")
	dir := filepath.Dir(l.filePath)
	base := filepath.Base(l.filePath)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	backupPath := filepath.Join(dir, fmt.Sprintf("%s.%s%s", name, timestamp, ext))

	os.Rename(l.filePath, backupPath)
	l.cleanOldLogs(dir, name, ext)

	file, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create new log file: %v\n", err)
		return
	}
	l.file = file
	l.currentSize = 0
}

func (l *Logger) cleanOldLogs(dir, name, ext string) {
	matches, err := filepath.Glob(filepath.Join(dir, name+".*"+ext))
	if err != nil {
		fmt.Fprintf(os.Stderr, "list old log files: %v\n", err)
		return
	}
	if len(matches) <= l.maxBackups {
		return
	}

	type backup struct {
		path string
		mod  time.Time
	}
	backups := make([]backup, 0, len(matches))
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			continue
		}
		backups = append(backups, backup{match, info.ModTime()})
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].mod.Before(backups[j].mod) })

	for i := 0; i < len(backups)-l.maxBackups; i++ {
		os.Remove(backups[i].path)
	}
}

// Debug logs debug level messages
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(DEBUG, format, args...)
}

// Info logs info level messages
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(INFO, format, args...)
}

// Warn logs warning level messages
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(WARN, format, args...)
}

// Error logs error level messages
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(ERROR, format, args...)
}

// Close closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
