// Package logging builds the client's zap logger. Chat output owns stdout and
// stderr, so debug logs go either to stderr (verbose mode) or to a rotated file.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects where logs go.
type Config struct {
	Verbose bool

	// File routes logs into a rotated file instead of stderr.
	File string

	MaxSizeMB  int
	MaxBackups int
}

// New returns a nop logger unless verbose output or a log file was requested.
// The caller should defer logger.Sync().
func New(c Config) (*zap.Logger, error) {
	if !c.Verbose && c.File == "" {
		return zap.NewNop(), nil
	}

	var ws zapcore.WriteSyncer
	if c.File != "" {
		if dir := filepath.Dir(c.File); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   c.File,
			MaxSize:    orDefault(c.MaxSizeMB, 10),
			MaxBackups: orDefault(c.MaxBackups, 3),
		})
	} else {
		ws = zapcore.Lock(zapcore.AddSync(os.Stderr))
	}

	return NewWithWriter(ws, zapcore.DebugLevel), nil
}

// NewWithWriter builds a console-encoded logger writing to w. Used by tests
// to capture output.
func NewWithWriter(w io.Writer, level zapcore.Level) *zap.Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), level)
	return zap.New(core, zap.AddCaller())
}

// WithSession tags every entry with a fresh session id and the transport name.
func WithSession(logger *zap.Logger, transport string) (*zap.Logger, string) {
	id := uuid.NewString()
	return logger.With(zap.String("session", id), zap.String("transport", transport)), id
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
