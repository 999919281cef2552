package utils

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvLogDir points the process logger at a directory for file output.
// Unset, logs go to stdout/stderr only.
const EnvLogDir = "LEVERAGE_LOG_DIR"

var (
	log  *zap.Logger
	once sync.Once
)

// InitLogger builds the process-wide logger. The first call wins;
// later calls return the same instance regardless of the debug flag.
func InitLogger(debug bool) *zap.Logger {
	once.Do(func() {
		config := zap.NewProductionConfig()
		if debug {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}

		config.OutputPaths = []string{"stdout"}
		config.ErrorOutputPaths = []string{"stderr"}
		if dir := os.Getenv(EnvLogDir); dir != "" {
			config.OutputPaths = append(config.OutputPaths, filepath.Join(dir, "leverage.log"))
			config.ErrorOutputPaths = append(config.ErrorOutputPaths, filepath.Join(dir, "leverage-error.log"))
		}

		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

		logger, err := config.Build(
			zap.AddCaller(),
			zap.AddStacktrace(zapcore.ErrorLevel),
		)
		if err != nil {
			panic(err)
		}

		log = logger
	})

	return log
}

// GetLogger returns the process logger, initializing it at the default
// level if nothing has yet.
func GetLogger() *zap.Logger {
	if log == nil {
		return InitLogger(false)
	}
	return log
}

// CleanupLogger flushes any buffered log entries.
func CleanupLogger() {
	if log != nil {
		_ = log.Sync()
	}
}
