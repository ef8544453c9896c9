// Package console owns the display sink. Every byte shown to the user and
// every byte written to the conversation log goes through one Console, so
// concurrently producing sessions can never tear each other's lines.
package console

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/crisidev/mash/internal/logging"
)

var conLog = logging.ForComponent(logging.CompConsole)

// Console serializes all terminal and log output. The mutex makes it safe
// to call from any goroutine, though in practice the controller loop is the
// only writer.
type Console struct {
	mu          sync.Mutex
	out         io.Writer
	interactive bool

	// lastStatusLen is the visible width of the status prompt currently on
	// screen; it is erased before any output is printed over it.
	lastStatusLen int

	logFile *os.File
}

// New creates a Console writing to out. Interactive mode enables
// status-line erasing.
func New(out io.Writer, interactive bool) *Console {
	return &Console{out: out, interactive: interactive}
}

// SetLogFile opens (appending) the conversation log. An empty path disables
// logging.
func (c *Console) SetLogFile(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.logFile != nil {
		c.logFile.Close()
		c.logFile = nil
	}
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file %s: %w", path, err)
	}
	c.logFile = f
	conLog.Info("log_file_set", slog.String("path", path))
	return nil
}

// DisableLog closes the conversation log.
func (c *Console) DisableLog() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.logFile != nil {
		c.logFile.Close()
		c.logFile = nil
	}
}

// HasLog reports whether a conversation log is active.
func (c *Console) HasLog() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logFile != nil
}

// Output writes msg to the display and the log.
func (c *Console) Output(msg []byte) {
	c.OutputWithLog(msg, nil)
}

// Outputf formats and writes to the display and the log.
func (c *Console) Outputf(format string, args ...any) {
	c.Output(fmt.Appendf(nil, format, args...))
}

// OutputWithLog writes msg to the display and logMsg (or msg when nil) to
// the log. Colored display text pairs with a plain log copy this way.
func (c *Console) OutputWithLog(msg, logMsg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if logMsg == nil {
		logMsg = msg
	}
	c.logLocked(logMsg)

	if c.interactive && c.lastStatusLen > 0 {
		fmt.Fprintf(c.out, "\r%s\r", strings.Repeat(" ", c.lastStatusLen))
		c.lastStatusLen = 0
	}
	c.out.Write(msg)
}

// Log writes msg to the conversation log only. Used for echoing typed input.
func (c *Console) Log(msg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logLocked(msg)
}

func (c *Console) logLocked(msg []byte) {
	if c.logFile == nil {
		return
	}
	if _, err := c.logFile.Write(msg); err != nil {
		conLog.Warn("log_write_failed", slog.String("error", err.Error()))
	}
}

// StatusShown reports whether a status prompt is currently on screen.
func (c *Console) StatusShown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastStatusLen > 0
}

// SetStatusLength records the visible width of the status prompt just
// printed, so the next Output can erase it cleanly.
func (c *Console) SetStatusLength(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastStatusLen = n
}

// WriteStatus prints the status prompt and records its visible width.
func (c *Console) WriteStatus(prompt string, visibleLen int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastStatusLen > 0 {
		fmt.Fprintf(c.out, "\r%s\r", strings.Repeat(" ", c.lastStatusLen))
	}
	io.WriteString(c.out, prompt)
	c.lastStatusLen = visibleLen
}
