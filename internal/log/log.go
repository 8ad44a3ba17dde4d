package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	initOnce    sync.Once
	initialized atomic.Bool
)

// Setup installs the default slog logger. An empty logFile logs to stderr.
func Setup(logFile string, debug bool) {
	initOnce.Do(func() {
		var out io.Writer = os.Stderr
		if logFile != "" {
			out = &lumberjack.Logger{
				Filename:   logFile,
				MaxSize:    10,    // Max size in MB
				MaxBackups: 0,     // Number of backups
				MaxAge:     30,    // Days
				Compress:   false, // Enable compression
			}
		}

		slog.SetDefault(slog.New(NewHandler(out, debug)))
		initialized.Store(true)
	})
}

// NewHandler returns the JSON handler Setup installs.
func NewHandler(w io.Writer, debug bool) slog.Handler {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
	})
}

func Initialized() bool {
	return initialized.Load()
}

// MaskToken masks a bearer token, showing only the first and last characters.
func MaskToken(token string) string {
	if token == "" {
		return "***EMPTY***"
	}

	key := strings.TrimPrefix(token, "Bearer ")

	keyLen := len(key)
	if keyLen <= 4 {
		return strings.Repeat("*", keyLen)
	} else if keyLen <= 10 {
		return key[:2] + strings.Repeat("*", keyLen-4) + key[keyLen-2:]
	}
	return key[:5] + strings.Repeat("*", keyLen-10) + key[keyLen-5:]
}

// RecoverPanic writes a panic report next to the working directory and runs
// cleanup. Use it deferred at the top of long-lived goroutines.
func RecoverPanic(name string, cleanup func()) {
	if r := recover(); r != nil {
		timestamp := time.Now().Format("20060102-150405")
		filename := fmt.Sprintf("ccterm-panic-%s-%s.log", name, timestamp)

		file, err := os.Create(filename)
		if err == nil {
			defer file.Close()

			fmt.Fprintf(file, "Panic in %s: %v\n\n", name, r)
			fmt.Fprintf(file, "Time: %s\n\n", time.Now().Format(time.RFC3339))
			fmt.Fprintf(file, "Stack Trace:\n%s\n", debug.Stack())
		}
		slog.Error("Recovered from panic", "goroutine", name, "panic", r)

		if cleanup != nil {
			cleanup()
		}
	}
}
