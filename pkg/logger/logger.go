package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Log is the process-wide logger. It stays nil until Init is called so
// embedding applications that never configure logging get silence.
var Log *slog.Logger

var (
	sinkMu   sync.Mutex
	sinkFile *os.File
)

// ParseLevel maps a textual level onto slog levels. Unknown values fall back
// to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init initializes the global logger. An empty level defers to
// TELEMETRY_LOG_LEVEL. TELEMETRY_LOG_SINK=file:/path redirects output to a
// file; format "json" selects the JSON handler, anything else is text.
func Init(level string, format string) {
	lvl := strings.TrimSpace(level)
	if lvl == "" {
		lvl = os.Getenv("TELEMETRY_LOG_LEVEL")
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(lvl)}

	var out io.Writer = os.Stdout
	sink := os.Getenv("TELEMETRY_LOG_SINK")
	if strings.HasPrefix(sink, "file:") {
		path := strings.TrimPrefix(sink, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", path, err)
		} else {
			sinkMu.Lock()
			if sinkFile != nil {
				_ = sinkFile.Close()
			}
			sinkFile = f
			sinkMu.Unlock()
			out = f
		}
	}

	if strings.EqualFold(strings.TrimSpace(format), "json") {
		Log = slog.New(slog.NewJSONHandler(out, opts))
		return
	}
	Log = slog.New(slog.NewTextHandler(out, opts))
}

// Use installs an already-built logger, mostly for tests that capture output.
func Use(l *slog.Logger) { Log = l }

// Sync closes the file sink, if any.
func Sync() {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	if sinkFile != nil {
		_ = sinkFile.Sync()
		_ = sinkFile.Close()
		sinkFile = nil
	}
}

// Debug logs with slog-style key/value pairs.
func Debug(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Debug(msg, args...)
}

// Info logs with slog-style key/value pairs.
func Info(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Info(msg, args...)
}

// Warn logs with slog-style key/value pairs.
func Warn(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Warn(msg, args...)
}

// Error logs with slog-style key/value pairs.
func Error(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Error(msg, args...)
}

// LogConfigSummary prints a human readable block of startup settings.
func LogConfigSummary(title string, items []string) {
	if len(items) == 0 {
		return
	}
	header := "== " + strings.ReplaceAll(title, "_", " ") + " "
	const width = 60
	if len(header) < width {
		header += strings.Repeat("=", width-len(header))
	}
	fmt.Fprintln(os.Stdout, header)
	for _, it := range items {
		fmt.Fprintln(os.Stdout, "- "+it)
	}
	fmt.Fprintln(os.Stdout)
}
