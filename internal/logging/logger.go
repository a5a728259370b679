package logging

import (
	"log"
	"strings"
	"sync/atomic"
)

var debugEnabled atomic.Bool

// SetDebug turns Debug output on or off (set once from config at startup)
func SetDebug(on bool) {
	debugEnabled.Store(on)
}

// DebugEnabled reports whether Debug output is on
func DebugEnabled() bool {
	return debugEnabled.Load()
}

// Info logs an informational message (always shown)
func Info(subsystem, format string, args ...any) {
	log.Printf("[%s] "+format, append([]any{subsystem}, args...)...)
}

// Warn logs a recoverable problem (always shown)
func Warn(subsystem, format string, args ...any) {
	log.Printf("[%s] WARN "+format, append([]any{subsystem}, args...)...)
}

// Debug logs a debug message (only shown when enabled)
func Debug(subsystem, format string, args ...any) {
	if debugEnabled.Load() {
		log.Printf("[%s] "+format, append([]any{subsystem}, args...)...)
	}
}

// Truncate truncates a string to maxLen and adds ellipsis
func Truncate(s string, maxLen int) string {
	// Replace newlines with spaces for one-line logs
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
