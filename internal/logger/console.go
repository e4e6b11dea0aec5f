// Package logger reports pipeline progress on the console and in per-run
// log files.
//
// Every logger satisfies fragility.Logger. Implementations are safe for
// concurrent use.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/episcalp/episcalp/internal/models"
)

// ConsoleLogger writes "[HH:MM:SS] [LEVEL] message" lines to a writer.
// Color is used only when the writer is a terminal.
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
}

// NewConsoleLogger creates a ConsoleLogger that writes to writer.
// A nil writer discards everything. Unknown levels default to "info".
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      writer,
		logLevel:    normalizeLogLevel(logLevel),
		colorOutput: isTerminal(writer),
	}
}

// isTerminal reports whether w is a TTY and color has not been disabled
// (NO_COLOR, or fatih/color's own detection).
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	if color.NoColor {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// LogTrace logs a trace-level message.
func (cl *ConsoleLogger) LogTrace(message string) {
	cl.logWithLevel("TRACE", message)
}

// LogDebug logs a debug-level message.
func (cl *ConsoleLogger) LogDebug(message string) {
	cl.logWithLevel("DEBUG", message)
}

// LogInfo logs an info-level message.
func (cl *ConsoleLogger) LogInfo(message string) {
	cl.logWithLevel("INFO", message)
}

// LogWarn logs a warning-level message.
func (cl *ConsoleLogger) LogWarn(message string) {
	cl.logWithLevel("WARN", message)
}

// LogError logs an error-level message.
func (cl *ConsoleLogger) LogError(message string) {
	cl.logWithLevel("ERROR", message)
}

func (cl *ConsoleLogger) logWithLevel(level string, message string) {
	if cl.writer == nil || !enabled(cl.logLevel, strings.ToLower(level)) {
		return
	}

	label := level
	if cl.colorOutput {
		label = levelColor(level).Sprint(level)
	}
	cl.write(fmt.Sprintf("[%s] [%s] %s\n", timestamp(), label, message))
}

func levelColor(level string) *color.Color {
	switch level {
	case "TRACE":
		return color.New(color.FgHiBlack)
	case "DEBUG":
		return color.New(color.FgCyan)
	case "WARN":
		return color.New(color.FgYellow)
	case "ERROR":
		return color.New(color.FgRed)
	default:
		return color.New(color.FgBlue)
	}
}

func (cl *ConsoleLogger) write(s string) {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	cl.writer.Write([]byte(s))
}

// LogRecordingStart logs the recording about to be analyzed at INFO level.
// Format: "[HH:MM:SS] Analyzing <recording>"
func (cl *ConsoleLogger) LogRecordingStart(rec models.Recording) {
	if cl.writer == nil || !enabled(cl.logLevel, "info") {
		return
	}
	name := rec.String()
	if cl.colorOutput {
		name = color.New(color.Bold).Sprint(name)
	}
	cl.write(fmt.Sprintf("[%s] Analyzing %s\n", timestamp(), name))
}

// LogRecordingResult logs the outcome of one recording at INFO level.
// Format: "[HH:MM:SS] <recording>: <STATUS> (<duration>)[ - reason]"
func (cl *ConsoleLogger) LogRecordingResult(result models.RecordingResult) {
	if cl.writer == nil || !enabled(cl.logLevel, "info") {
		return
	}

	status := result.Status
	if cl.colorOutput {
		status = statusColor(result.Status).Sprint(status)
	}

	line := fmt.Sprintf("[%s] %s: %s (%s)", timestamp(), result.Recording, status, formatDuration(result.Duration))
	switch {
	case result.Error != nil:
		line += " - " + result.Error.Error()
	case result.Reason != "":
		line += " - " + result.Reason
	}
	for _, w := range result.Warnings {
		line += fmt.Sprintf("\n[%s]   warning: %s", timestamp(), w)
	}
	cl.write(line + "\n")
}

func statusColor(status string) *color.Color {
	switch status {
	case models.StatusCompleted:
		return color.New(color.FgGreen)
	case models.StatusSkipped:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

// LogBatchProgress renders a progress bar at INFO level.
// Format: "[HH:MM:SS] Progress: [=====     ] 1/2 (50%)"
func (cl *ConsoleLogger) LogBatchProgress(done, total int) {
	if cl.writer == nil || !enabled(cl.logLevel, "info") {
		return
	}
	pb := NewProgressBar(total, 10, cl.colorOutput)
	pb.Update(done)
	cl.write(fmt.Sprintf("[%s] Progress: %s\n", timestamp(), pb.Render()))
}

// LogSummary logs the batch summary at INFO level.
func (cl *ConsoleLogger) LogSummary(result models.BatchResult) {
	if cl.writer == nil || !enabled(cl.logLevel, "info") {
		return
	}

	ts := timestamp()
	header := "=== Fragility Summary ==="
	completed := fmt.Sprintf("Completed: %d", result.Completed)
	skipped := fmt.Sprintf("Skipped: %d", result.Skipped)
	failed := fmt.Sprintf("Failed: %d", result.Failed)
	if cl.colorOutput {
		header = color.New(color.Bold).Sprint(header)
		completed = color.New(color.FgGreen).Sprint(completed)
		if result.Skipped > 0 {
			skipped = color.New(color.FgYellow).Sprint(skipped)
		}
		if result.Failed > 0 {
			failed = color.New(color.FgRed).Sprint(failed)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n", ts, header)
	if result.RunID != "" {
		fmt.Fprintf(&b, "[%s] Run: %s\n", ts, result.RunID)
	}
	fmt.Fprintf(&b, "[%s] Total recordings: %d\n", ts, result.Total)
	fmt.Fprintf(&b, "[%s] %s\n", ts, completed)
	fmt.Fprintf(&b, "[%s] %s\n", ts, skipped)
	fmt.Fprintf(&b, "[%s] %s\n", ts, failed)
	fmt.Fprintf(&b, "[%s] Duration: %s\n", ts, formatDuration(result.Duration))
	if failures := result.FailedResults(); len(failures) > 0 {
		fmt.Fprintf(&b, "[%s] Failed recordings:\n", ts)
		for _, f := range failures {
			fmt.Fprintf(&b, "[%s]   - %s: %v\n", ts, f.Recording, f.Error)
		}
	}
	cl.write(b.String())
}

// timestamp returns the current time formatted as "15:04:05" (HH:MM:SS).
func timestamp() string {
	return time.Now().Format("15:04:05")
}

// formatDuration converts a time.Duration to a human-readable string.
// Examples: "5s", "1m30s", "2h15m"
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		hours := d / time.Hour
		remainder := d % time.Hour
		if remainder == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		minutes := remainder / time.Minute
		remainder = remainder % time.Minute
		if remainder == 0 {
			return fmt.Sprintf("%dh%dm", hours, minutes)
		}
		seconds := remainder / time.Second
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	case d >= time.Minute:
		minutes := d / time.Minute
		remainder := d % time.Minute
		if remainder == 0 {
			return fmt.Sprintf("%dm", minutes)
		}
		seconds := remainder / time.Second
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", int64(d.Seconds()))
	}
}
