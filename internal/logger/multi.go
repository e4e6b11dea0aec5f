package logger

import (
	"github.com/episcalp/episcalp/internal/fragility"
	"github.com/episcalp/episcalp/internal/models"
)

var (
	_ fragility.Logger = (*ConsoleLogger)(nil)
	_ fragility.Logger = (*FileLogger)(nil)
	_ fragility.Logger = (*MultiLogger)(nil)
)

// MultiLogger fans every call out to its loggers in order.
type MultiLogger struct {
	loggers []fragility.Logger
}

// NewMultiLogger skips nil entries.
func NewMultiLogger(loggers ...fragility.Logger) *MultiLogger {
	m := &MultiLogger{}
	for _, l := range loggers {
		if l != nil {
			m.loggers = append(m.loggers, l)
		}
	}
	return m
}

func (m *MultiLogger) LogTrace(message string) {
	for _, l := range m.loggers {
		l.LogTrace(message)
	}
}

func (m *MultiLogger) LogDebug(message string) {
	for _, l := range m.loggers {
		l.LogDebug(message)
	}
}

func (m *MultiLogger) LogInfo(message string) {
	for _, l := range m.loggers {
		l.LogInfo(message)
	}
}

func (m *MultiLogger) LogWarn(message string) {
	for _, l := range m.loggers {
		l.LogWarn(message)
	}
}

func (m *MultiLogger) LogError(message string) {
	for _, l := range m.loggers {
		l.LogError(message)
	}
}

func (m *MultiLogger) LogRecordingStart(rec models.Recording) {
	for _, l := range m.loggers {
		l.LogRecordingStart(rec)
	}
}

func (m *MultiLogger) LogRecordingResult(result models.RecordingResult) {
	for _, l := range m.loggers {
		l.LogRecordingResult(result)
	}
}

func (m *MultiLogger) LogBatchProgress(done, total int) {
	for _, l := range m.loggers {
		l.LogBatchProgress(done, total)
	}
}

func (m *MultiLogger) LogSummary(result models.BatchResult) {
	for _, l := range m.loggers {
		l.LogSummary(result)
	}
}
