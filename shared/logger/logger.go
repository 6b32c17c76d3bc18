package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logger settings.
type Config struct {
	Level       string // debug, info, warn, error; empty picks the environment default
	Encoding    string // json or console
	OutputPath  string // empty means stdout
	ServiceName string // "service" field on every entry when set
	Environment string // "env" field on every entry when set
	// Development adds callers, warn-level stack traces and defaults the level to debug.
	Development bool
}

// New builds a zap.Logger from cfg. Unknown levels fall back to the default,
// unknown encodings to json.
func New(cfg Config) (*zap.Logger, error) {
	logger, _, err := Build(cfg)
	return logger, err
}

// Build is New that also returns the level, so it can be changed at runtime
// (zap.AtomicLevel serves GET/PUT as an http.Handler).
func Build(cfg Config) (*zap.Logger, zap.AtomicLevel, error) {
	level := zap.NewAtomicLevelAt(defaultLevel(cfg.Development))
	if logLevel := strings.ToLower(strings.TrimSpace(cfg.Level)); logLevel != "" {
		if err := level.UnmarshalText([]byte(logLevel)); err != nil {
			// The logger does not exist yet, so stderr is the only place to complain.
			fmt.Fprintf(os.Stderr, "invalid log level %q, using %s: %v\n", cfg.Level, defaultLevel(cfg.Development), err)
			level.SetLevel(defaultLevel(cfg.Development))
		}
	}

	encoding := strings.ToLower(cfg.Encoding)
	if encoding != "console" && encoding != "json" {
		encoding = "json"
	}

	outputPath := cfg.OutputPath
	if outputPath == "" {
		outputPath = "stdout"
	}

	zapConfig := zap.Config{
		Level:             level,
		Development:       cfg.Development,
		DisableCaller:     !cfg.Development,
		DisableStacktrace: !cfg.Development,
		Encoding:          encoding,
		EncoderConfig:     encoderConfig(encoding),
		OutputPaths:       []string{outputPath},
		ErrorOutputPaths:  []string{"stderr"},
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, level, fmt.Errorf("failed to build logger: %w", err)
	}

	var fields []zap.Field
	if cfg.ServiceName != "" {
		fields = append(fields, zap.String("service", cfg.ServiceName))
	}
	if cfg.Environment != "" {
		fields = append(fields, zap.String("env", cfg.Environment))
	}
	return logger.With(fields...), level, nil
}

func defaultLevel(development bool) zapcore.Level {
	if development {
		return zap.DebugLevel
	}
	return zap.InfoLevel
}

// encoderConfig keeps the JSON layout log shippers expect and shortens the
// console layout for people reading a terminal.
func encoderConfig(encoding string) zapcore.EncoderConfig {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	if encoding == "console" {
		encoderCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		encoderCfg.ConsoleSeparator = " "
	}
	return encoderCfg
}
