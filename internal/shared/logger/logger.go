package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"irproxy_pool/internal/shared/types"
)

const (
	// RunLogPrefix 每次运行的日志文件名前缀，后接 YYYYMMDD_HHMMSS
	RunLogPrefix = "proxy_update_"
	// LatestLogName 总是保存最近一次运行的日志
	LatestLogName = "latest.log"

	runLogStampLayout    = "20060102_150405"
	DefaultRetentionDays = 14
)

var (
	mu       sync.Mutex
	files    []*os.File
	runLogFn string
)

// Init initializes the global zerolog logger. When cfg.Dir is set every line is also written
// to a per-run file and to latest.log inside that directory.
func Init(cfg types.LogConf) error {
	levelStr := strings.ToLower(cfg.Level)
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil || levelStr == "" {
		level = zerolog.InfoLevel
		if levelStr != "" {
			fmt.Fprintf(os.Stderr, "Unknown log level '%s', defaulting to 'info'\n", levelStr)
		}
	}

	// Force all timestamps to be in UTC.
	zerolog.TimestampFunc = func() time.Time {
		return time.Now().UTC()
	}

	writers := []io.Writer{zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "2006-01-02 15:04:05",
	}}

	mu.Lock()
	closeFilesLocked()
	if cfg.Dir != "" {
		fileWriters, err := openRunFilesLocked(cfg.Dir, time.Now())
		if err != nil {
			mu.Unlock()
			return err
		}
		writers = append(writers, fileWriters...)
	}
	mu.Unlock()

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()

	Info().Msgf("Logger initialized with level: %s", level.String())
	return nil
}

func openRunFilesLocked(dir string, now time.Time) ([]io.Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}

	runLog := filepath.Join(dir, RunLogPrefix+now.Format(runLogStampLayout)+".log")
	latest := filepath.Join(dir, LatestLogName)

	var out []io.Writer
	for _, path := range []string{runLog, latest} {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			closeFilesLocked()
			return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
		}
		files = append(files, f)
		out = append(out, zerolog.ConsoleWriter{Out: f, NoColor: true, TimeFormat: "2006-01-02 15:04:05"})
	}
	runLogFn = runLog
	return out, nil
}

// RunLogFile returns the path of the current per-run log file, or "" when file logging is off.
func RunLogFile() string {
	mu.Lock()
	defer mu.Unlock()
	return runLogFn
}

// Close flushes and closes the log files opened by Init.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	closeFilesLocked()
}

func closeFilesLocked() {
	for _, f := range files {
		_ = f.Sync()
		_ = f.Close()
	}
	files = nil
	runLogFn = ""
}

// CleanOldLogs 删除 dir 中早于 retentionDays 天的 .log 文件。
// 运行日志按文件名中的日期判断，其他文件按修改时间判断。latest.log 不会被删除。
func CleanOldLogs(dir string, retentionDays int, now time.Time) (int, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := now.AddDate(0, 0, -retentionDays)
	deleted := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".log") || name == LatestLogName {
			continue
		}

		fileDate, ok := runLogDate(name, now.Location())
		if !ok {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			fileDate = info.ModTime()
		}
		if fileDate.Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, name)); err == nil {
				deleted++
			}
		}
	}
	return deleted, nil
}

func runLogDate(name string, loc *time.Location) (time.Time, bool) {
	if !strings.HasPrefix(name, RunLogPrefix) || len(name) < len(RunLogPrefix)+8 {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation("20060102", name[len(RunLogPrefix):len(RunLogPrefix)+8], loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// WithComponent 返回一个带有 component 字段的子 logger。
// 这对于在日志中区分不同模块或组件的输出非常有用。
func WithComponent(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}

// Event is a wrapper for a zerolog event.
type Event struct {
	*zerolog.Event
}

// Debug starts a new message with debug level.
func Debug() *Event {
	return &Event{log.Debug()}
}

// Info starts a new message with info level.
func Info() *Event {
	return &Event{log.Info()}
}

// Warn starts a new message with warning level.
func Warn() *Event {
	return &Event{log.Warn()}
}

// Error starts a new message with error level.
func Error() *Event {
	return &Event{log.Error()}
}

// Fatal starts a new message with fatal level. The program will exit.
func Fatal() *Event {
	return &Event{log.Fatal()}
}

// Str adds a string field to the event.
func (e *Event) Str(key, value string) *Event {
	e.Event = e.Event.Str(key, value)
	return e
}

// Int adds an integer field to the event.
func (e *Event) Int(key string, value int) *Event {
	e.Event = e.Event.Int(key, value)
	return e
}

func (e *Event) Bool(key string, value bool) *Event {
	e.Event = e.Event.Bool(key, value)
	return e
}

// Err adds an error field to the event.
func (e *Event) Err(err error) *Event {
	e.Event = e.Event.Err(err)
	return e
}

// Msgf sends the event with a formatted message.
// This is a convenience method and is less performant than using structured fields.
func (e *Event) Msgf(format string, v ...interface{}) {
	e.Event.Msgf(format, v...)
}
