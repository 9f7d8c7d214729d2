// Package logger builds the zap loggers used across the services.
//
// Development environments get a colored console encoder at debug level;
// everything else gets JSON at info level.  LOG_LEVEL overrides the level
// and LOG_FILE adds a size-rotated file sink.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls logger construction.  Zero values fall back to the
// environment defaults described in the package comment.
type Options struct {
	Env   string // "dev" and "development" select the console encoder
	Level string
	File  string
}

// FromEnv reads LOG_LEVEL and LOG_FILE for the given application environment.
func FromEnv(env string) Options {
	return Options{Env: env, Level: os.Getenv("LOG_LEVEL"), File: os.Getenv("LOG_FILE")}
}

// New builds a logger.
func New(opts Options) (*zap.Logger, error) {
	dev := opts.Env == "dev" || opts.Env == "development"

	level := zapcore.InfoLevel
	if dev {
		level = zapcore.DebugLevel
	}
	if opts.Level != "" {
		parsed, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, err
		}
		level = parsed
	}

	var encoder zapcore.Encoder
	if dev {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.999")
		encoder = zapcore.NewConsoleEncoder(cfg)
	} else {
		cfg := zap.NewProductionEncoderConfig()
		cfg.TimeKey = "timestamp"
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewJSONEncoder(cfg)
	}

	cores := []zapcore.Core{zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level)}
	if opts.File != "" {
		// files always get JSON so they stay machine readable
		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.TimeKey = "timestamp"
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		sink := zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), sink, level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}
