package logs

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"taskmcp-go/internal/config"
)

// Level names accepted by config and CLI flags.
const (
	LogLevelTrace = "trace"
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// DefaultLogConfig returns the logging configuration used when none is
// supplied: console-only, human-readable, info level.
func DefaultLogConfig() *config.LogConfig {
	return &config.LogConfig{
		Level:         LogLevelInfo,
		EnableFile:    false,
		EnableConsole: true,
		Filename:      "main.log",
		MaxSize:       10,
		MaxBackups:    5,
		MaxAge:        30,
		Compress:      true,
		JSONFormat:    false,
	}
}

// ParseLevel maps a level name to a zap level. Unknown names fall back to
// info. Zap has no trace level, so trace is treated as debug.
func ParseLevel(name string) zapcore.Level {
	switch name {
	case LogLevelTrace, LogLevelDebug:
		return zap.DebugLevel
	case LogLevelWarn:
		return zap.WarnLevel
	case LogLevelError:
		return zap.ErrorLevel
	case LogLevelInfo:
		return zap.InfoLevel
	default:
		return zap.InfoLevel
	}
}

// SetupLogger builds the process logger from cfg. Console output goes to
// stderr; file output rotates via lumberjack. Every sink sits behind a
// SecretSanitizer so token material never reaches disk or terminal in the
// clear.
func SetupLogger(cfg *config.LogConfig) (*zap.Logger, error) {
	if cfg == nil {
		cfg = DefaultLogConfig()
	}

	level := ParseLevel(cfg.Level)

	var cores []zapcore.Core
	if cfg.EnableConsole {
		cores = append(cores, zapcore.NewCore(consoleEncoder(), zapcore.AddSync(os.Stderr), level))
	}
	if cfg.EnableFile {
		sink, err := fileSink(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create file core: %w", err)
		}
		cores = append(cores, zapcore.NewCore(fileEncoder(cfg.JSONFormat), sink, level))
	}
	if len(cores) == 0 {
		return nil, fmt.Errorf("no log outputs configured")
	}

	core := NewSecretSanitizer(zapcore.NewTee(cores...))
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)), nil
}

// SetupCommandLogger builds a console logger for CLI commands. The long
// running serve command defaults to info; one-shot utility commands default
// to warn so their own output stays readable. logLevel overrides either
// default, and logToFile adds a rotating file sink under logDir.
func SetupCommandLogger(serverCommand bool, logLevel string, logToFile bool, logDir string) (*zap.Logger, error) {
	level := logLevel
	if level == "" {
		if serverCommand {
			level = LogLevelInfo
		} else {
			level = LogLevelWarn
		}
	}

	cfg := DefaultLogConfig()
	cfg.Level = level
	cfg.EnableFile = logToFile
	cfg.LogDir = logDir
	return SetupLogger(cfg)
}

// fileSink resolves the log file path and wraps it in a rotating writer.
func fileSink(cfg *config.LogConfig) (zapcore.WriteSyncer, error) {
	path, err := GetLogFilePathWithDir(cfg.LogDir, cfg.Filename)
	if err != nil {
		return nil, fmt.Errorf("failed to get log file path: %w", err)
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}), nil
}

// consoleEncoder renders colored, timestamped lines for interactive use.
func consoleEncoder() zapcore.Encoder {
	ec := zap.NewDevelopmentEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	ec.EncodeCaller = zapcore.ShortCallerEncoder
	return zapcore.NewConsoleEncoder(ec)
}

// fileEncoder renders either JSON or a pipe-separated text format for the
// rotating file sink.
func fileEncoder(json bool) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeCaller = zapcore.ShortCallerEncoder
	if json {
		ec.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
		ec.EncodeLevel = zapcore.LowercaseLevelEncoder
		return zapcore.NewJSONEncoder(ec)
	}
	ec.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	ec.ConsoleSeparator = " | "
	return zapcore.NewConsoleEncoder(ec)
}
