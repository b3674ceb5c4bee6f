package logging

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// HCLogger implements Logger on top of hclog
type HCLogger struct {
	log hclog.Logger
}

// New creates a logger from the given configuration
func New(cfg LogConfig) (*HCLogger, error) {
	var out io.Writer
	switch cfg.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	case "file":
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("log output is file but no file path is set")
		}
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
	default:
		return nil, fmt.Errorf("unknown log output: %s", cfg.Output)
	}
	return NewWithWriter(cfg, out), nil
}

// NewWithWriter creates a logger writing to w
func NewWithWriter(cfg LogConfig, w io.Writer) *HCLogger {
	level := hclog.LevelFromString(cfg.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	name := cfg.Name
	if name == "" {
		name = "pipelinestudio"
	}
	return &HCLogger{log: hclog.New(&hclog.LoggerOptions{
		Name:            name,
		Level:           level,
		Output:          w,
		JSONFormat:      cfg.Format == "json",
		IncludeLocation: cfg.IncludeCaller,
	})}
}

// NewNop returns a logger that discards everything
func NewNop() *HCLogger {
	return &HCLogger{log: hclog.NewNullLogger()}
}

func args(fields []Field) []interface{} {
	out := make([]interface{}, 0, len(fields)*2)
	for _, f := range fields {
		out = append(out, f.Key, f.Value)
	}
	return out
}

func mapArgs(data map[string]interface{}) []interface{} {
	out := make([]interface{}, 0, len(data)*2)
	for k, v := range data {
		out = append(out, k, v)
	}
	return out
}

// Debug logs a debug message
func (l *HCLogger) Debug(msg string, fields ...Field) { l.log.Debug(msg, args(fields)...) }

// Info logs an info message
func (l *HCLogger) Info(msg string, fields ...Field) { l.log.Info(msg, args(fields)...) }

// Warn logs a warning message
func (l *HCLogger) Warn(msg string, fields ...Field) { l.log.Warn(msg, args(fields)...) }

// Error logs an error message
func (l *HCLogger) Error(msg string, fields ...Field) { l.log.Error(msg, args(fields)...) }

// WithFields returns a new logger with the given fields
func (l *HCLogger) WithFields(fields ...Field) Logger {
	return &HCLogger{log: l.log.With(args(fields)...)}
}

// WithContext returns a new logger with the fields stored in ctx
func (l *HCLogger) WithContext(ctx context.Context) Logger {
	fields := fieldsFromContext(ctx)
	if len(fields) == 0 {
		return l
	}
	return l.WithFields(fields...)
}

// LogRunEvent records run lifecycle events
func (l *HCLogger) LogRunEvent(runID string, event string, data map[string]interface{}) {
	l.log.Info(event, append([]interface{}{"run_id", runID}, mapArgs(data)...)...)
}

// LogNodeEvent records node status changes
func (l *HCLogger) LogNodeEvent(runID string, nodeID string, event string, data map[string]interface{}) {
	l.log.Debug(event, append([]interface{}{"run_id", runID, "node_id", nodeID}, mapArgs(data)...)...)
}

// Named returns a sub-logger with the given name segment
func (l *HCLogger) Named(name string) *HCLogger {
	return &HCLogger{log: l.log.Named(name)}
}

// HCLog exposes the underlying hclog logger
func (l *HCLogger) HCLog() hclog.Logger {
	return l.log
}
