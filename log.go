package symex

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns a console logger writing to stderr at the given level.
func NewLogger(level zapcore.Level) (*zap.Logger, error) {
	config := zap.NewDevelopmentConfig()
	config.Level = zap.NewAtomicLevelAt(level)
	config.DisableStacktrace = true
	config.EncoderConfig.TimeKey = ""
	return config.Build()
}

// methodField returns the logging field identifying a method.
func methodField(m Method) zap.Field {
	return zap.String("method", m.Signature())
}
