// Package logger is the process-wide log. It stays silent until Init or
// SetOutput points it somewhere.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	log     = newLogger(io.Discard)
	logFile *os.File
	writer  io.Writer = io.Discard
	mu      sync.Mutex
)

func newLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000000",
	})
	return l
}

// Init initializes the global logger with the specified log file path.
func Init(logPath string) error {
	mu.Lock()
	defer mu.Unlock()

	// Close previous log file if exists
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	logFile = f
	writer = f
	log.SetOutput(f)
	return nil
}

// SetOutput redirects the log to w. A nil writer silences it.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	if w == nil {
		w = io.Discard
	}
	writer = w
	log.SetOutput(w)
}

// SetLevel sets the minimum level by name: debug, info, warn or error.
func SetLevel(name string) error {
	lvl, err := logrus.ParseLevel(name)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	log.SetLevel(lvl)
	return nil
}

// Close closes the log file and silences the log.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
		writer = io.Discard
		log.SetOutput(io.Discard)
	}
}

// Info logs an info message.
func Info(format string, v ...interface{}) {
	log.Infof(format, v...)
}

// Debug logs a debug message.
func Debug(format string, v ...interface{}) {
	log.Debugf(format, v...)
}

// Error logs an error message.
func Error(format string, v ...interface{}) {
	log.Errorf(format, v...)
}

// Warn logs a warning message.
func Warn(format string, v ...interface{}) {
	log.Warnf(format, v...)
}

// WithField returns an entry carrying key=value, for structured lines.
func WithField(key string, value interface{}) *logrus.Entry {
	return log.WithField(key, value)
}

// GetWriter returns the underlying writer for use by drivers.
func GetWriter() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return writer
}
