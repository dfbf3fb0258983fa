// Package observability provides logging and metrics for the session server.
package observability

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cory-johannsen/mudwire/internal/config"
)

// NewLogger builds the process logger from cfg. The returned level can be
// changed at runtime; it also serves HTTP GET and PUT for the admin endpoint.
// fields are attached to every entry.
//
// Precondition: cfg must pass config validation.
// Postcondition: Returns a logger writing to stdout, or a non-nil error.
func NewLogger(cfg config.LoggingConfig, fields ...zap.Field) (*zap.Logger, zap.AtomicLevel, error) {
	return newLogger(cfg, zapcore.Lock(os.Stdout), fields...)
}

func newLogger(cfg config.LoggingConfig, out zapcore.WriteSyncer, fields ...zap.Field) (*zap.Logger, zap.AtomicLevel, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	var enc zapcore.Encoder
	switch cfg.Format {
	case "json":
		ec := zap.NewProductionEncoderConfig()
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(ec)
	case "console":
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(ec)
	default:
		return nil, zap.AtomicLevel{}, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	// No sampling: a large broadcast logs one line per failed recipient.
	core := zapcore.NewCore(enc, out, level)
	logger := zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.ErrorOutput(zapcore.Lock(os.Stderr)),
		zap.Fields(fields...),
	)
	return logger, level, nil
}
