// Package log provides structured logging for euva using zap.
package log

import (
	"encoding/hex"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with euva-specific helpers.
type Logger struct {
	*zap.Logger
	onPatch func(off uint64, old, new []byte) // patch callback for UI collaborators
}

var (
	// L is the global logger instance.
	L    *Logger
	once sync.Once
)

// Init initializes the global logger with the given configuration.
// Safe to call multiple times; only the first call takes effect.
func Init(debug bool) {
	once.Do(func() {
		L = New(debug)
	})
}

// New creates a new Logger instance.
func New(debug bool) *Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}

	// ISO8601 timestamps under a short key, in both modes
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Fallback to no-op if config fails
		logger = zap.NewNop()
	}

	return &Logger{Logger: logger}
}

// NewNop creates a no-op logger for testing.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// SetOnPatch sets the patch callback invoked for every committed write.
func (l *Logger) SetOnPatch(fn func(off uint64, old, new []byte)) {
	l.onPatch = fn
}

// Patch logs a committed write with its old and new bytes as hex fields and
// calls the patch callback if set. This is the primary method for the script engine to
// report byte edits.
func (l *Logger) Patch(off uint64, old, new []byte) {
	if l.onPatch != nil {
		l.onPatch(off, old, new)
	}

	l.Info("patch",
		Addr(off),
		zap.String("old", hex.EncodeToString(old)),
		zap.String("new", hex.EncodeToString(new)),
	)
}

// Skip logs a script command that was not executed.
func (l *Logger) Skip(line, reason string) {
	l.Warn("skipped",
		zap.String("line", line),
		zap.String("reason", reason),
	)
}

// ScriptRun logs the start of a script run.
func (l *Logger) ScriptRun(id, path string) {
	l.Info("script run",
		zap.String("run", id),
		zap.String("path", path),
	)
}

// DetectorStart logs when a detector begins analysis.
func (l *Logger) DetectorStart(name, version string) {
	l.Debug("detector start",
		zap.String("name", name),
		zap.String("version", version),
	)
}

// DetectorResult logs a positive detection.
func (l *Logger) DetectorResult(name, version string, confidence float64) {
	l.Info("detected",
		zap.String("name", name),
		zap.String("version", version),
		zap.Float64("confidence", confidence),
	)
}

// DetectorRegister logs when a detector is registered.
func (l *Logger) DetectorRegister(name string, priority int) {
	l.Debug("detector registered",
		zap.String("name", name),
		zap.Int("priority", priority),
	)
}

// WithRun returns a logger with the script run id preset.
func (l *Logger) WithRun(id string) *Logger {
	return &Logger{
		Logger:  l.Logger.With(zap.String("run", id)),
		onPatch: l.onPatch,
	}
}

// Hex formats a uint64 as hex string for logging.
func Hex(addr uint64) string {
	return "0x" + hexString(addr)
}

func hexString(v uint64) string {
	const digits = "0123456789abcdef"
	if v == 0 {
		return "0"
	}
	buf := make([]byte, 16)
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = digits[v&0xf]
		v >>= 4
	}
	return string(buf[i:])
}

// Field helpers for common patterns.

// Addr creates an address field.
func Addr(addr uint64) zap.Field {
	return zap.String("addr", Hex(addr))
}

// Size creates a size field.
func Size(size uint64) zap.Field {
	return zap.Uint64("size", size)
}

// Fn creates a function name field.
func Fn(name string) zap.Field {
	return zap.String("fn", name)
}
