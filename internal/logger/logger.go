package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"queuewatch/internal/config"
)

// Log file names served by the log handlers.
const (
	InfoFile    = "info.log"
	WarningFile = "warning.log"
	ErrorFile   = "error.log"
)

// Logger provides leveled logging (debug/info/warning/error) to files and stdout/stderr.
// Children created with With share the writers and the lock of their parent.
type Logger struct {
	core      *core
	component string
}

type core struct {
	mu         sync.Mutex
	debug      bool
	debugLog   *log.Logger
	infoLog    *log.Logger
	warningLog *log.Logger
	errorLog   *log.Logger
	logDir     string
	files      []*os.File
}

// NewLogger creates a Logger writing to console and to per-level files in cfg.LogDirectory.
func NewLogger(cfg *config.Config) (*Logger, error) {
	if err := os.MkdirAll(cfg.LogDirectory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	c := &core{logDir: cfg.LogDirectory}

	infoFile, err := c.openLogFile(InfoFile)
	if err != nil {
		return nil, err
	}
	warningFile, err := c.openLogFile(WarningFile)
	if err != nil {
		c.close()
		return nil, err
	}
	errorFile, err := c.openLogFile(ErrorFile)
	if err != nil {
		c.close()
		return nil, err
	}

	var console io.Writer = os.Stdout
	if cfg.LogToStderr {
		console = os.Stderr
	}
	c.setup(
		io.MultiWriter(console, infoFile),
		io.MultiWriter(console, warningFile),
		io.MultiWriter(os.Stderr, errorFile),
	)
	l := &Logger{core: c}
	l.SetDebug(cfg.Debug())
	return l, nil
}

// New creates a Logger that writes every level to w. It has no log directory.
func New(w io.Writer) *Logger {
	c := &core{}
	c.setup(w, w, w)
	return &Logger{core: c}
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return New(io.Discard)
}

func (c *core) setup(info, warning, errw io.Writer) {
	flags := log.Ldate | log.Ltime
	c.debugLog = log.New(info, "DEBUG   ", flags)
	c.infoLog = log.New(info, "INFO    ", flags)
	c.warningLog = log.New(warning, "WARNING ", flags)
	c.errorLog = log.New(errw, "ERROR   ", flags)
}

// openLogFile opens or creates a log file for appending.
func (c *core) openLogFile(name string) (*os.File, error) {
	path := filepath.Join(c.logDir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	c.files = append(c.files, file)
	return file, nil
}

func (c *core) close() {
	for _, f := range c.files {
		f.Close()
	}
	c.files = nil
}

// With returns a child logger whose lines are prefixed with the component name.
func (l *Logger) With(component string) *Logger {
	if l.component != "" {
		component = l.component + "." + component
	}
	return &Logger{core: l.core, component: component}
}

// SetDebug enables or disables debug output for the logger and all its children.
func (l *Logger) SetDebug(enabled bool) {
	l.core.mu.Lock()
	defer l.core.mu.Unlock()
	l.core.debug = enabled
}

func (l *Logger) write(target *log.Logger, format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	if l.component != "" {
		msg = "[" + l.component + "] " + msg
	}
	l.core.mu.Lock()
	defer l.core.mu.Unlock()
	target.Output(3, msg)
}

// Debug writes a formatted debug-level entry when debug output is enabled.
func (l *Logger) Debug(format string, v ...interface{}) {
	l.core.mu.Lock()
	enabled := l.core.debug
	l.core.mu.Unlock()
	if enabled {
		l.write(l.core.debugLog, format, v...)
	}
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.write(l.core.infoLog, format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.write(l.core.warningLog, format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.write(l.core.errorLog, format, v...)
}

// Dir is the directory holding the log files, empty for writer-only loggers.
func (l *Logger) Dir() string {
	return l.core.logDir
}

// CleanLogs truncates the specified log file.
func (l *Logger) CleanLogs(fileName string) error {
	if l.core.logDir == "" {
		return nil
	}
	switch fileName {
	case InfoFile, WarningFile, ErrorFile:
	default:
		return fmt.Errorf("unknown log file %q", fileName)
	}

	filePath := filepath.Join(l.core.logDir, fileName)
	l.core.mu.Lock()
	err := os.Truncate(filePath, 0)
	l.core.mu.Unlock()
	if err != nil {
		l.Error("Error truncating %s: %v", fileName, err)
		return err
	}

	l.Info("Log file %s has been cleared", fileName)
	return nil
}

// Close releases the log files.
func (l *Logger) Close() {
	l.core.mu.Lock()
	defer l.core.mu.Unlock()
	l.core.close()
}
