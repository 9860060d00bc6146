// Package logger provides leveled, component-tagged logging to stderr.
package logger

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

var (
	mu       sync.Mutex
	minLevel = levelFromEnv()
	out      = os.Stderr
)

func levelFromEnv() Level {
	switch strings.ToLower(os.Getenv("RECITE_LOG_LEVEL")) {
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

// SetLevel overrides the minimum level (normally taken from RECITE_LOG_LEVEL).
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	minLevel = l
}

func logC(level Level, component, msg string, fields map[string]any) {
	mu.Lock()
	defer mu.Unlock()
	if level < minLevel {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s [%s] %s", time.Now().Format("2006-01-02 15:04:05"), levelNames[level], component, msg)
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}
	fmt.Fprintln(out, b.String())
}

// DebugC logs a debug message for a component.
func DebugC(component, msg string) { logC(LevelDebug, component, msg, nil) }

// DebugCF logs a debug message with structured fields.
func DebugCF(component, msg string, fields map[string]any) { logC(LevelDebug, component, msg, fields) }

// InfoC logs an info message for a component.
func InfoC(component, msg string) { logC(LevelInfo, component, msg, nil) }

// InfoCF logs an info message with structured fields.
func InfoCF(component, msg string, fields map[string]any) { logC(LevelInfo, component, msg, fields) }

// WarnC logs a warning for a component.
func WarnC(component, msg string) { logC(LevelWarn, component, msg, nil) }

// WarnCF logs a warning with structured fields.
func WarnCF(component, msg string, fields map[string]any) { logC(LevelWarn, component, msg, fields) }

// ErrorC logs an error for a component.
func ErrorC(component, msg string) { logC(LevelError, component, msg, nil) }

// ErrorCF logs an error with structured fields.
func ErrorCF(component, msg string, fields map[string]any) { logC(LevelError, component, msg, fields) }
