package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/episcalp/episcalp/internal/models"
)

// DefaultLogDir is used when no log directory is configured.
var DefaultLogDir = filepath.Join(".episcalp", "logs")

// FileLogger writes a timestamped run log, one detail log per recording
// under recordings/, and keeps latest.log pointing at the newest run.
type FileLogger struct {
	logDir        string
	runLog        *os.File
	runFile       string
	recordingsDir string
	logLevel      string
	mu            sync.Mutex
}

// NewFileLogger creates logDir if needed and opens run-YYYYMMDD-HHMMSS.log
// in it. runID, when set, is written into the header.
func NewFileLogger(logDir, logLevel, runID string) (*FileLogger, error) {
	if logDir == "" {
		logDir = DefaultLogDir
	}
	recordingsDir := filepath.Join(logDir, "recordings")
	if err := os.MkdirAll(recordingsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	runFile := filepath.Join(logDir, fmt.Sprintf("run-%s.log", time.Now().Format("20060102-150405")))
	file, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create run log file: %w", err)
	}

	symlinkPath := filepath.Join(logDir, "latest.log")
	if _, err := os.Lstat(symlinkPath); err == nil {
		if err := os.Remove(symlinkPath); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to remove old symlink: %w", err)
		}
	}
	if err := os.Symlink(filepath.Base(runFile), symlinkPath); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create symlink: %w", err)
	}

	fl := &FileLogger{
		logDir:        logDir,
		runLog:        file,
		runFile:       runFile,
		recordingsDir: recordingsDir,
		logLevel:      normalizeLogLevel(logLevel),
	}

	fl.writeRunLog("=== episcalp run log ===\n")
	if runID != "" {
		fl.writeRunLog(fmt.Sprintf("Run ID: %s\n", runID))
	}
	fl.writeRunLog(fmt.Sprintf("Started at: %s\n\n", time.Now().Format(time.RFC3339)))
	return fl, nil
}

// RunFile returns the path of the run log.
func (fl *FileLogger) RunFile() string {
	return fl.runFile
}

// LogTrace logs a trace-level message.
func (fl *FileLogger) LogTrace(message string) {
	fl.logWithLevel("TRACE", message)
}

// LogDebug logs a debug-level message.
func (fl *FileLogger) LogDebug(message string) {
	fl.logWithLevel("DEBUG", message)
}

// LogInfo logs an info-level message.
func (fl *FileLogger) LogInfo(message string) {
	fl.logWithLevel("INFO", message)
}

// LogWarn logs a warning-level message.
func (fl *FileLogger) LogWarn(message string) {
	fl.logWithLevel("WARN", message)
}

// LogError logs an error-level message.
func (fl *FileLogger) LogError(message string) {
	fl.logWithLevel("ERROR", message)
}

func (fl *FileLogger) logWithLevel(level string, message string) {
	if !enabled(fl.logLevel, strings.ToLower(level)) {
		return
	}
	fl.writeRunLog(fmt.Sprintf("[%s] [%s] %s\n", timestamp(), level, message))
}

// LogRecordingStart logs the recording about to be analyzed at INFO level.
func (fl *FileLogger) LogRecordingStart(rec models.Recording) {
	if !enabled(fl.logLevel, "info") {
		return
	}
	fl.writeRunLog(fmt.Sprintf("[%s] Analyzing %s\n", timestamp(), rec))
}

// LogRecordingResult appends a one-line outcome to the run log and writes
// the full detail to recordings/<recording>.log.
func (fl *FileLogger) LogRecordingResult(result models.RecordingResult) {
	if enabled(fl.logLevel, "info") {
		fl.writeRunLog(fmt.Sprintf("[%s] %s: %s (%.1fs)\n", timestamp(), result.Recording, result.Status, result.Duration.Seconds()))
	}
	if err := fl.writeRecordingLog(result); err != nil {
		fl.logWithLevel("WARN", err.Error())
	}
}

func (fl *FileLogger) writeRecordingLog(result models.RecordingResult) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	name := strings.ReplaceAll(result.Recording.String(), "/", "_") + ".log"
	path := filepath.Join(fl.recordingsDir, name)

	var b strings.Builder
	fmt.Fprintf(&b, "=== %s ===\n", result.Recording)
	fmt.Fprintf(&b, "Status: %s\n", result.Status)
	fmt.Fprintf(&b, "Duration: %.1fs\n", result.Duration.Seconds())
	if result.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", result.Reason)
	}
	if len(result.Artifacts) > 0 {
		b.WriteString("\nArtifacts:\n")
		for _, a := range result.Artifacts {
			fmt.Fprintf(&b, "  %s\n", a)
		}
	}
	if len(result.Figures) > 0 {
		b.WriteString("\nFigures:\n")
		for _, f := range result.Figures {
			fmt.Fprintf(&b, "  %s\n", f)
		}
	}
	if len(result.Warnings) > 0 {
		b.WriteString("\nWarnings:\n")
		for _, w := range result.Warnings {
			fmt.Fprintf(&b, "  %s\n", w)
		}
	}
	if result.Error != nil {
		fmt.Fprintf(&b, "\nError:\n%v\n", result.Error)
	}
	fmt.Fprintf(&b, "\nCompleted at: %s\n", time.Now().Format(time.RFC3339))

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write recording log: %w", err)
	}
	return nil
}

// LogBatchProgress is a no-op: progress bars are console-only.
func (fl *FileLogger) LogBatchProgress(done, total int) {}

// LogSummary logs the batch summary at INFO level.
func (fl *FileLogger) LogSummary(result models.BatchResult) {
	if !enabled(fl.logLevel, "info") {
		return
	}

	status := "SUCCESS"
	if result.Failed > 0 {
		status = "PARTIAL"
		if result.Completed == 0 {
			status = "FAILED"
		}
	}

	ts := timestamp()
	fl.writeRunLog(fmt.Sprintf(
		"\n[%s] === FRAGILITY SUMMARY ===\n"+
			"[%s] Total recordings: %d\n"+
			"[%s] Completed:        %d\n"+
			"[%s] Skipped:          %d\n"+
			"[%s] Failed:           %d\n"+
			"[%s] Total time:       %.1fs\n"+
			"[%s] Status:           %s\n",
		ts,
		ts, result.Total,
		ts, result.Completed,
		ts, result.Skipped,
		ts, result.Failed,
		ts, result.Duration.Seconds(),
		ts, status,
	))
}

// Close flushes and closes the run log file.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		if err := fl.runLog.Sync(); err != nil {
			return fmt.Errorf("failed to sync run log: %w", err)
		}
		if err := fl.runLog.Close(); err != nil {
			return fmt.Errorf("failed to close run log: %w", err)
		}
		fl.runLog = nil
	}
	return nil
}

func (fl *FileLogger) writeRunLog(message string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		fl.runLog.WriteString(message)
		fl.runLog.Sync()
	}
}
