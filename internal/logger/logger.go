package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "bbpayments"

var log *zap.Logger

// New builds the service logger. "production" and "staging" log JSON to
// stdout; anything else gets the colored console encoder. level overrides
// the environment's default level when set.
func New(env, level string) (*zap.Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(env) {
	case "production", "staging":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.MessageKey = "message"
		cfg.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.OutputPaths = []string{"stdout"}
		// Every notification outcome is an audit record.
		cfg.Sampling = nil
	default:
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("log level %q: %w", level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	l, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, err
	}
	return l.With(zap.String("service", serviceName)), nil
}

// Init installs the global logger for env, honouring LOG_LEVEL. A bad level
// is reported and ignored.
func Init(env string) {
	l, levelErr := New(env, os.Getenv("LOG_LEVEL"))
	if levelErr != nil {
		var err error
		if l, err = New(env, ""); err != nil {
			panic(err)
		}
		l.Warn("ignoring LOG_LEVEL", zap.Error(levelErr))
	}
	log = l
}

func L() *zap.Logger {
	if log == nil {
		Init(os.Getenv("APP_ENV"))
	}
	return log
}

// Set replaces the global logger; tests install an observer with it.
func Set(l *zap.Logger) {
	log = l
}

func Sync() {
	if log != nil {
		_ = log.Sync()
	}
}
