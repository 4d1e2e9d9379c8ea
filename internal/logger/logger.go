package logger

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// Level controls which messages are emitted
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var currentLevel atomic.Int32

func init() {
	currentLevel.Store(int32(parseLevel(os.Getenv("LOG_LEVEL"))))
}

// Field represents a structured logging field
type Field struct {
	Key   string
	Value interface{}
}

// String creates a string field
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an integer field
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Int64 creates a 64-bit integer field
func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a boolean field
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Duration creates a duration field
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

// Err creates an error field
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// SetLevel adjusts the minimum emitted level
func SetLevel(level string) {
	currentLevel.Store(int32(parseLevel(level)))
}

func parseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func enabled(level Level) bool {
	return level >= Level(currentLevel.Load())
}

// Info logs an info-level message. A trailing []Field renders as
// structured key=value pairs; otherwise args are Printf arguments.
func Info(msg string, args ...interface{}) {
	if !enabled(LevelInfo) {
		return
	}
	logMessage("INFO", msg, args...)
}

// Warn logs a warning-level message
func Warn(msg string, args ...interface{}) {
	if !enabled(LevelWarn) {
		return
	}
	logMessage("WARN", msg, args...)
}

// Error logs an error-level message
func Error(msg string, args ...interface{}) {
	if !enabled(LevelError) {
		return
	}
	logMessage("ERROR", msg, args...)
}

// Debug logs a debug-level message
func Debug(msg string, args ...interface{}) {
	if !enabled(LevelDebug) {
		return
	}
	logMessage("DEBUG", msg, args...)
}

// InfoStructured logs an info message with structured fields
func InfoStructured(msg string, fields ...Field) {
	if !enabled(LevelInfo) {
		return
	}
	logStructured("INFO", msg, fields...)
}

// WarnStructured logs a warning message with structured fields
func WarnStructured(msg string, fields ...Field) {
	if !enabled(LevelWarn) {
		return
	}
	logStructured("WARN", msg, fields...)
}

// ErrorStructured logs an error message with structured fields
func ErrorStructured(msg string, fields ...Field) {
	if !enabled(LevelError) {
		return
	}
	logStructured("ERROR", msg, fields...)
}

// DebugStructured logs a debug message with structured fields
func DebugStructured(msg string, fields ...Field) {
	if !enabled(LevelDebug) {
		return
	}
	logStructured("DEBUG", msg, fields...)
}

func logMessage(level, msg string, args ...interface{}) {
	// Allow the Printf-style entry points to carry structured fields:
	// a single trailing []Field argument is rendered as key=value pairs.
	if len(args) == 1 {
		if fields, ok := args[0].([]Field); ok {
			logStructured(level, msg, fields...)
			return
		}
	}

	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	log.Printf("[%s] %s", level, msg)
}

func logStructured(level, msg string, fields ...Field) {
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		entry := map[string]interface{}{
			"level":     level,
			"message":   msg,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		}
		for _, f := range fields {
			entry[f.Key] = f.Value
		}
		if data, err := json.Marshal(entry); err == nil {
			log.Print(string(data))
			return
		}
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", level, msg))
	for _, f := range fields {
		sb.WriteString(fmt.Sprintf(" %s=%v", f.Key, f.Value))
	}
	log.Print(sb.String())
}
