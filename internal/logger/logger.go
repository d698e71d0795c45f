package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a structured zap.Logger using the provided level (info,
// warn, debug, error). Every line carries the service and environment
// so autora's logs stay attributable next to the evaluator's.
func New(level, service, environment string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if level == "" {
		level = "info"
	}

	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	if service == "" {
		service = "autora"
	}
	fields := []zap.Field{zap.String("service", service)}
	if environment != "" {
		fields = append(fields, zap.String("environment", environment))
	}

	logger, err := cfg.Build(zap.Fields(fields...))
	if err != nil {
		return nil, err
	}

	zap.ReplaceGlobals(logger)
	return logger, nil
}
