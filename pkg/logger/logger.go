// Package logger constructs the structured logger shared by every pyre
// component. All subsystems receive a *zap.SugaredLogger through their
// Config structs rather than constructing their own, so the service name
// and verbosity are decided exactly once, at startup.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production-encoded logger tagged with the given service name.
// debugLevel follows the -debug command line semantics: zero keeps the
// logger at Info, anything above zero enables Debug output.
func New(service string, debugLevel int) *zap.SugaredLogger {
	level := zapcore.InfoLevel
	if debugLevel > 0 {
		level = zapcore.DebugLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.Lock(os.Stdout),
		level,
	)

	return zap.New(core).Named(service).Sugar()
}

// NewNop returns a logger that discards everything. Used by tests that
// exercise components without caring about their log output.
func NewNop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
