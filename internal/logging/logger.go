// Package logging builds the zap logger used by the commands and bridges it
// into the Printf-style Logger interfaces taken by library packages.
package logging

import (
	"fmt"
	"log"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a JSON logger. appEnv "production" selects the production
// config (info level, sampling); anything else selects development (debug).
func New(appEnv string) (*zap.Logger, error) {
	var config zap.Config
	if strings.EqualFold(appEnv, "production") {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
	}
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.Encoding = "json"

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// Std adapts l for library code that logs through Printf. Every line is an
// info entry tagged with component.
func Std(l *zap.Logger, component string) *log.Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return zap.NewStdLog(l.With(zap.String("component", component)))
}
