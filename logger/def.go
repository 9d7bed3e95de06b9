package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects the encoder and an optional rotating log file.
type Config struct {
	Mode       string `yaml:"mode"`
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

func encoderConfig(mode string) zapcore.EncoderConfig {
	var enc zapcore.EncoderConfig
	if mode == "development" {
		enc = zap.NewDevelopmentEncoderConfig()
	} else {
		enc = zap.NewProductionEncoderConfig()
	}
	enc.TimeKey = "timestamp"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	return enc
}

// New builds the process logger. The caller owns it and hands it to every
// component that logs; nothing here touches zap's globals.
func New(cfg Config, component string) (*zap.Logger, error) {
	level := zap.InfoLevel
	if cfg.Mode == "development" {
		level = zap.DebugLevel
	}
	if cfg.Level != "" {
		parsed, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		level = parsed
	}
	enc := encoderConfig(cfg.Mode)

	var stderrEnc zapcore.Encoder
	if cfg.Mode == "development" {
		stderrEnc = zapcore.NewConsoleEncoder(enc)
	} else {
		stderrEnc = zapcore.NewJSONEncoder(enc)
	}
	cores := []zapcore.Core{zapcore.NewCore(stderrEnc, zapcore.Lock(os.Stderr), level)}
	if cfg.File != "" {
		sink := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(sink), level))
	}

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)}
	if cfg.Mode == "development" {
		opts = append(opts, zap.Development())
	}
	l := zap.New(zapcore.NewTee(cores...), opts...)
	if component != "" {
		l = l.With(zap.String("component", component))
	}
	return l, nil
}

// InitDevelopment is the console logger used by the one-shot tools.
func InitDevelopment(component string) (*zap.Logger, error) {
	return New(Config{Mode: "development"}, component)
}

// WithOperation enriches the logger with operation and request identifiers.
func WithOperation(l *zap.Logger, operation, requestID string) *zap.Logger {
	fields := []zap.Field{zap.String("operation", operation)}
	if requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	return l.With(fields...)
}
