package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"time"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var levelRank = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

var (
	mu       sync.RWMutex
	logger   = stdlog.New(os.Stderr, "", 0)
	minLevel = LevelInfo
)

// ParseLevel maps a config value ("debug", "info", "warn", "error") to a
// Level. Unknown values fall back to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func SetLevel(l Level) {
	if _, ok := levelRank[l]; !ok {
		l = LevelInfo
	}
	mu.Lock()
	minLevel = l
	mu.Unlock()
}

// SetOutput redirects log lines, mainly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	logger = stdlog.New(w, "", 0)
	mu.Unlock()
}

func Debug(msg string, kv ...any) {
	logWithLevel(LevelDebug, msg, kv...)
}

func Info(msg string, kv ...any) {
	logWithLevel(LevelInfo, msg, kv...)
}

func Warn(msg string, kv ...any) {
	logWithLevel(LevelWarn, msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	extended := append([]any{"err", err}, kv...)
	logWithLevel(LevelError, msg, extended...)
}

func logWithLevel(level Level, msg string, kv ...any) {
	mu.RLock()
	l, threshold := logger, minLevel
	mu.RUnlock()

	if levelRank[level] < levelRank[threshold] {
		return
	}

	// 2025-01-01T00:00:00.000000Z [LEVEL] msg key=value ...
	var b strings.Builder
	b.WriteString(time.Now().UTC().Format("2006-01-02T15:04:05.000000Z07:00"))
	b.WriteString(" [")
	b.WriteString(string(level))
	b.WriteString("] ")
	b.WriteString(msg)
	writeKVs(&b, kv...)

	l.Println(b.String())
}

// writeKVs appends key=value pairs; a trailing key without value is dropped.
func writeKVs(b *strings.Builder, kv ...any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		b.WriteString(" ")
		b.WriteString(key)
		b.WriteString("=")
		b.WriteString(quoteIfNeeded(fmt.Sprint(kv[i+1])))
	}
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return fmt.Sprintf("%q", s)
	}
	return s
}
