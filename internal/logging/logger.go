// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/fly-screenshotter/internal/screenshot"
)

// New builds a zap.Logger configured for development or production.
func New(development bool) (*zap.Logger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger (development=%t): %w", development, err)
	}
	return logger, nil
}

// ForRequest scopes logger to a single capture request.
func ForRequest(logger *zap.Logger, req screenshot.CaptureRequest) *zap.Logger {
	return logger.With(
		zap.String("request_id", req.ID),
		zap.String("project_id", req.ProjectID),
	)
}

// Bytes logs n alongside its KiB rendering.
func Bytes(key string, n int) zap.Field {
	return zap.Dict(key,
		zap.Int("bytes", n),
		zap.String("kib", fmt.Sprintf("%.1f", float64(n)/1024)),
	)
}
