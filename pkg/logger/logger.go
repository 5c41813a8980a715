package logger

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

var Log *slog.Logger

type asyncWriter struct {
	ch chan []byte
}

func (a *asyncWriter) Write(p []byte) (n int, err error) {
	cp := make([]byte, len(p))
	copy(cp, p)
	select {
	case a.ch <- cp:
		return len(p), nil
	default:
		// drop if queue full to avoid blocking
		return len(p), nil
	}
}

var (
	logCh     chan []byte
	logStopCh chan struct{}
	logWG     sync.WaitGroup
	initMu    sync.Mutex
)

// ParseLevel maps a level name onto a slog level; unknown names mean info.
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

// Init initializes the global logger with an async buffered text handler.
// If level is empty CHATSYNC_LOG_LEVEL is used. CHATSYNC_LOG_SINK may be
// "file:/path/to/log" to write to a file instead of stdout.
func Init(level string) {
	initMu.Lock()
	defer initMu.Unlock()

	if logStopCh != nil {
		close(logStopCh)
		logWG.Wait()
	}

	lvl := level
	if strings.TrimSpace(lvl) == "" {
		lvl = os.Getenv("CHATSYNC_LOG_LEVEL")
	}
	sink := os.Getenv("CHATSYNC_LOG_SINK")

	logCh = make(chan []byte, 10000)
	logStopCh = make(chan struct{})
	aw := &asyncWriter{ch: logCh}
	Log = slog.New(slog.NewTextHandler(aw, &slog.HandlerOptions{Level: ParseLevel(lvl)}))

	ch, stop := logCh, logStopCh
	logWG.Add(1)
	go func() {
		defer logWG.Done()
		var f *os.File
		buf := bufio.NewWriterSize(os.Stdout, 8192)
		if strings.HasPrefix(sink, "file:") {
			path := strings.TrimPrefix(sink, "file:")
			var err error
			f, err = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", path, err)
			} else {
				buf = bufio.NewWriterSize(f, 8192)
			}
		}
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case b := <-ch:
				buf.Write(b)
			case <-ticker.C:
				buf.Flush()
			case <-stop:
				// drain whatever is still queued
				for {
					select {
					case b := <-ch:
						buf.Write(b)
						continue
					default:
					}
					break
				}
				buf.Flush()
				if f != nil {
					f.Close()
				}
				return
			}
		}
	}()
}

// Sync flushes any buffered logs and stops the writer.
func Sync() {
	initMu.Lock()
	defer initMu.Unlock()
	if logStopCh != nil {
		close(logStopCh)
		logWG.Wait()
		logStopCh = nil
	}
}

func Debug(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Error(msg, args...)
}

// LogConfigSummary prints a human-friendly block of configuration results to
// stdout, independent of the configured level.
func LogConfigSummary(title string, items []string) {
	if len(items) == 0 {
		return
	}
	human := strings.ReplaceAll(title, "_", " ")
	if human != "" {
		human = strings.ToUpper(human[:1]) + human[1:]
	}
	header := "== " + human + " "
	const width = 60
	if len(header) < width {
		header = header + strings.Repeat("=", width-len(header))
	}
	fmt.Fprintln(os.Stdout, header)
	for _, it := range items {
		fmt.Fprintln(os.Stdout, "- "+it)
	}
	fmt.Fprintln(os.Stdout)
}
