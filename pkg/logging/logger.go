package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Logger is a component-scoped structured logger. All components of one
// process write JSON lines to ~/.operator/logs/<process-id>-operator.log
// unless Configure points them elsewhere.
type Logger struct {
	processID string
	component string
	file      *os.File
	out       io.Writer
	zl        zerolog.Logger
	logPath   string
	closeOnce sync.Once
}

// Options tunes process-wide logging. Configure must run before the first
// NewLogger call to take effect for that logger.
type Options struct {
	// Level is a zerolog level name (debug, info, warn, error). Empty means debug.
	Level string

	// Dir overrides the log directory.
	Dir string

	// Console mirrors log lines to stderr in human-readable form.
	Console bool
}

var (
	// processID identifies the current process in log file names and lines.
	processID     string
	processIDOnce sync.Once

	// logDir is the directory where log files are stored
	logDir string

	// initOnce ensures directory initialization happens once
	initOnce sync.Once

	// initErr stores any error from directory initialization
	initErr error

	optsMu sync.RWMutex
	opts   Options
)

// Configure sets process-wide logging options.
func Configure(o Options) error {
	level := zerolog.DebugLevel
	if o.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(o.Level))
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", o.Level, err)
		}
		level = parsed
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	optsMu.Lock()
	opts = o
	optsMu.Unlock()
	return nil
}

func currentOptions() Options {
	optsMu.RLock()
	defer optsMu.RUnlock()
	return opts
}

func getProcessID() string {
	processIDOnce.Do(func() {
		processID = uuid.New().String()
	})
	return processID
}

// initLogDirectory ensures the log directory exists
func initLogDirectory() error {
	initOnce.Do(func() {
		dir := currentOptions().Dir
		if dir == "" {
			dir = logDir
		}
		if dir == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				initErr = fmt.Errorf("failed to get home directory: %w", err)
				return
			}
			dir = filepath.Join(homeDir, ".operator", "logs")
		}

		if err := os.MkdirAll(dir, 0750); err != nil {
			initErr = fmt.Errorf("failed to create log directory: %w", err)
			return
		}
		logDir = dir
	})
	return initErr
}

// NewLogger creates a new logger for a specific component.
//
// If the log directory cannot be created or the log file cannot be opened,
// it returns a fallback logger that writes to stderr along with the error.
// Callers can check the error to detect fallback mode.
func NewLogger(component string) (*Logger, error) {
	if err := initLogDirectory(); err != nil {
		return newFallbackLogger(component, err), err
	}

	procID := getProcessID()
	logPath := filepath.Join(logDir, fmt.Sprintf("%s-operator.log", procID))

	// Append mode: every component of the process shares the file.
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		err = fmt.Errorf("failed to open log file: %w", err)
		return newFallbackLogger(component, err), err
	}

	var out io.Writer = file
	if currentOptions().Console {
		out = zerolog.MultiLevelWriter(file, consoleWriter())
	}

	return &Logger{
		processID: procID,
		component: component,
		file:      file,
		out:       out,
		zl:        newZerolog(out, procID, component),
		logPath:   logPath,
	}, nil
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger(component string) *Logger {
	return &Logger{
		processID: getProcessID(),
		component: component,
		zl:        zerolog.Nop(),
	}
}

// NewWriterLogger returns a logger writing JSON lines to w.
func NewWriterLogger(component string, w io.Writer) *Logger {
	return &Logger{
		processID: getProcessID(),
		component: component,
		out:       w,
		zl:        newZerolog(w, getProcessID(), component),
	}
}

func newFallbackLogger(component string, err error) *Logger {
	out := consoleWriter()
	l := &Logger{
		processID: getProcessID(),
		component: component,
		out:       out,
		zl:        newZerolog(out, getProcessID(), component),
	}
	l.zl.Warn().Err(err).Msg("failed to initialize file logging, falling back to stderr")
	return l
}

func newZerolog(w io.Writer, procID, component string) zerolog.Logger {
	return zerolog.New(w).
		With().
		Timestamp().
		Str("process_id", procID).
		Str("component", component).
		Logger()
}

func consoleWriter() zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
}

// Printf logs a formatted message at info level.
func (l *Logger) Printf(format string, v ...interface{}) {
	l.zl.Info().Msgf(format, v...)
}

// Debugf logs a debug-level message
func (l *Logger) Debugf(format string, v ...interface{}) {
	l.zl.Debug().Msgf(format, v...)
}

// Infof logs an info-level message
func (l *Logger) Infof(format string, v ...interface{}) {
	l.zl.Info().Msgf(format, v...)
}

// Warnf logs a warning-level message
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.zl.Warn().Msgf(format, v...)
}

// Errorf logs an error-level message
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.zl.Error().Msgf(format, v...)
}

// Debug starts a structured debug event.
func (l *Logger) Debug() *zerolog.Event { return l.zl.Debug() }

// Info starts a structured info event.
func (l *Logger) Info() *zerolog.Event { return l.zl.Info() }

// Warn starts a structured warning event.
func (l *Logger) Warn() *zerolog.Event { return l.zl.Warn() }

// Error starts a structured error event.
func (l *Logger) Error() *zerolog.Event { return l.zl.Error() }

// With returns a child logger carrying an extra string field, e.g. a run id.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{
		processID: l.processID,
		component: l.component,
		out:       l.out,
		zl:        l.zl.With().Str(key, value).Logger(),
		logPath:   l.logPath,
	}
}

// Named returns a logger for another component writing to the same sink.
// The sink stays owned by l; closing the named logger does nothing.
func (l *Logger) Named(component string) *Logger {
	if l.out == nil {
		return NewNopLogger(component)
	}
	return &Logger{
		processID: l.processID,
		component: component,
		out:       l.out,
		zl:        newZerolog(l.out, l.processID, component),
		logPath:   l.logPath,
	}
}

// ProcessID returns the id shared by every logger of this process.
func (l *Logger) ProcessID() string {
	return l.processID
}

// LogPath returns the path to the log file
func (l *Logger) LogPath() string {
	return l.logPath
}

// Close closes the log file. Safe to call multiple times. Child loggers
// created with With share the parent's file and are closed with it.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.file != nil {
			err = l.file.Close()
		}
	})
	return err
}

// GetProcessID returns the current global process id.
func GetProcessID() string {
	return getProcessID()
}

// GetLogDirectory returns the directory where logs are stored
func GetLogDirectory() (string, error) {
	if err := initLogDirectory(); err != nil {
		return "", err
	}
	return logDir, nil
}
