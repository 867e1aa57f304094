package logutil

import (
	"os"
	"sync/atomic"

	"github.com/neko940709/mapd-core-stream/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var bgLogger atomic.Pointer[zap.Logger]

func init() {
	bgLogger.Store(zap.NewNop())
}

// BgLogger returns the process logger. It is a no-op logger until the engine
// installs one with SetBgLogger.
func BgLogger() *zap.Logger {
	return bgLogger.Load()
}

// SetBgLogger replaces the process logger.
func SetBgLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	bgLogger.Store(l)
}

// NewLogger builds a zap logger writing to stderr.
func NewLogger(cfg config.Log) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(encoder(cfg.Format), zapcore.Lock(os.Stderr), level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

func encoder(format string) zapcore.Encoder {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	if format == "console" {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(encCfg)
	}
	return zapcore.NewJSONEncoder(encCfg)
}
