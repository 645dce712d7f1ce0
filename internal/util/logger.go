package util

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewZapLogger builds the console logger. Unknown or empty levels fall back to info.
func NewZapLogger(levelName string) *zap.SugaredLogger {
	stdout := zapcore.AddSync(os.Stdout)

	lvl := zapcore.InfoLevel
	if levelName != "" {
		if parsed, err := zapcore.ParseLevel(levelName); err == nil {
			lvl = parsed
		}
	}
	level := zap.NewAtomicLevelAt(lvl)

	developmentCfg := zap.NewDevelopmentEncoderConfig()
	developmentCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	consoleEncoder := zapcore.NewConsoleEncoder(developmentCfg)

	core := zapcore.NewTee(
		zapcore.NewCore(consoleEncoder, stdout, level),
	)

	return zap.New(core).Sugar()
}
