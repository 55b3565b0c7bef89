package daemon

import (
	"fmt"
	"io"
	"os"
	"time"
)

// Logger tees timestamped messages to stdout and, if configured, a log
// file — renamed and slimmed down from the teacher's run/daemon.DualLogger,
// which this package reuses for every subsystem's log output instead of
// only the supervised-server's stdout/stderr.
type Logger struct {
	logFile *os.File
}

// NewLogger opens logPath for append if non-empty; an empty path logs to
// stdout only.
func NewLogger(logPath string) (*Logger, error) {
	if logPath == "" {
		return &Logger{}, nil
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("daemon: open log file: %w", err)
	}
	return &Logger{logFile: f}, nil
}

func (l *Logger) Close() {
	if l.logFile != nil {
		l.logFile.Close()
	}
}

// Log prints a timestamped line to stdout and, if present, the log file.
func (l *Logger) Log(format string, args ...interface{}) {
	line := fmt.Sprintf("[%s] %s\n", time.Now().Format("2006-01-02T15:04:05"), fmt.Sprintf(format, args...))
	fmt.Fprint(os.Stdout, line)
	if l.logFile != nil {
		fmt.Fprint(l.logFile, line)
	}
}

// Writer returns an io.Writer suitable for a child process's stdout/stderr,
// teeing to the log file when one is configured.
func (l *Logger) Writer() io.Writer {
	if l.logFile != nil {
		return io.MultiWriter(os.Stdout, l.logFile)
	}
	return os.Stdout
}
