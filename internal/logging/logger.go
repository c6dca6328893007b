/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package logging provides a structured logging framework for authtrail.

Every component obtains its own logger with NewLogger("component") and logs
key/value pairs:

	logger := logging.NewLogger("writer")
	logger.Info("Rotated event file", "path", path, "size", size)

Loggers are backed by zap. The level is shared process-wide and can be changed at
any time; output and encoding changes apply to every logger on its next call.
*/
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents the severity of a log message.
type Level int

const (
	// DEBUG level for detailed debugging information.
	DEBUG Level = iota
	// INFO level for general operational information.
	INFO
	// WARN level for warning conditions.
	WARN
	// ERROR level for error conditions.
	ERROR
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel parses a string into a Level. Unknown values map to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Config holds logger configuration options.
type Config struct {
	Level    Level
	Output   io.Writer
	JSONMode bool
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:    INFO,
		Output:   os.Stdout,
		JSONMode: false,
	}
}

var (
	globalConfig = DefaultConfig()
	globalMu     sync.Mutex
	atomicLevel  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	base         atomic.Pointer[zap.Logger]
)

func init() {
	base.Store(build(globalConfig))
}

// build must be called with globalMu held or before any logger exists.
func build(cfg Config) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.MessageKey = "message"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if cfg.JSONMode {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(out)), atomicLevel)
	return zap.New(core)
}

func reconfigure(apply func(*Config)) {
	globalMu.Lock()
	defer globalMu.Unlock()
	apply(&globalConfig)
	base.Store(build(globalConfig))
}

// SetGlobalLevel sets the global log level.
func SetGlobalLevel(level Level) {
	globalMu.Lock()
	globalConfig.Level = level
	globalMu.Unlock()
	atomicLevel.SetLevel(level.zapLevel())
}

// SetGlobalOutput sets the global log output.
func SetGlobalOutput(w io.Writer) {
	reconfigure(func(c *Config) { c.Output = w })
}

// SetJSONMode enables or disables JSON output mode.
func SetJSONMode(enabled bool) {
	reconfigure(func(c *Config) { c.JSONMode = enabled })
}

// Sync flushes any buffered log entries.
func Sync() {
	_ = base.Load().Sync()
}

type bound struct {
	base  *zap.Logger
	sugar *zap.SugaredLogger
}

// Logger provides structured logging for one component.
type Logger struct {
	component string
	fields    []interface{}
	cached    atomic.Pointer[bound]
}

// NewLogger creates a new Logger for the specified component.
func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

// With returns a child logger that adds the given key/value pairs to every entry.
func (l *Logger) With(args ...interface{}) *Logger {
	fields := make([]interface{}, 0, len(l.fields)+len(args))
	fields = append(fields, l.fields...)
	fields = append(fields, args...)
	return &Logger{component: l.component, fields: fields}
}

func (l *Logger) sugar() *zap.SugaredLogger {
	b := base.Load()
	if c := l.cached.Load(); c != nil && c.base == b {
		return c.sugar
	}
	s := b.With(zap.String("component", l.component)).Sugar()
	if len(l.fields) > 0 {
		s = s.With(l.fields...)
	}
	l.cached.Store(&bound{base: b, sugar: s})
	return s
}

// Debug logs a message at DEBUG level.
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.sugar().Debugw(msg, args...)
}

// Info logs a message at INFO level.
func (l *Logger) Info(msg string, args ...interface{}) {
	l.sugar().Infow(msg, args...)
}

// Warn logs a message at WARN level.
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.sugar().Warnw(msg, args...)
}

// Error logs a message at ERROR level.
func (l *Logger) Error(msg string, args ...interface{}) {
	l.sugar().Errorw(msg, args...)
}
