package logging

import (
	"log"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

// Init builds the process-wide logger. Production env gets JSON output at
// info level, everything else gets the colored development encoder.
func Init(env string) {
	var cfg zap.Config

	if env == "prod" {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	var err error
	logger, err = cfg.Build()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
}

// L returns the process logger, building a development one if Init was
// never called (tests, small tools).
func L() *zap.Logger {
	if logger == nil {
		Init("dev")
	}
	return logger
}

// Sync flushes buffered log entries. Safe to defer from main.
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}
