// File: log/log.go
// Package log builds the zap loggers used across hioload-srv.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Console output uses the development encoder, files may be rotated through
// lumberjack. Components never log through the global zap logger directly;
// they receive a *zap.Logger and fall back to L().

package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level is a textual log level as found in configuration files.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var levelMapping = map[Level]zapcore.Level{
	LevelDebug: zapcore.DebugLevel,
	LevelInfo:  zapcore.InfoLevel,
	LevelWarn:  zapcore.WarnLevel,
	LevelError: zapcore.ErrorLevel,
}

// Config describes where and how to log.
type Config struct {
	Name    string `yaml:"name"`
	Level   Level  `yaml:"level"`
	Console bool   `yaml:"console"`
	// Path enables file output when non-empty.
	Path string `yaml:"path"`
	// JSON switches the file encoder to JSON.
	JSON bool `yaml:"json"`

	EnableRotate bool `yaml:"enable_rotate"`
	MaxSize      int  `yaml:"max_size"` // megabytes
	MaxAge       int  `yaml:"max_age"`  // days
	MaxBackups   int  `yaml:"max_backups"`
}

var defaultLogger atomic.Pointer[zap.Logger]

func init() {
	defaultLogger.Store(zap.NewNop())
}

// L returns the process default logger. It is a no-op logger until SetDefault is called.
func L() *zap.Logger {
	return defaultLogger.Load()
}

// SetDefault replaces the process default logger.
func SetDefault(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	defaultLogger.Store(l)
}

// Named returns l, or the default logger when l is nil, scoped to name.
func Named(l *zap.Logger, name string) *zap.Logger {
	if l == nil {
		l = L()
	}
	return l.Named(name)
}

// ParseLevel converts a textual level, defaulting to info.
func ParseLevel(level Level) zapcore.Level {
	if lv, ok := levelMapping[level]; ok {
		return lv
	}
	return zapcore.InfoLevel
}

// New builds a logger from cfg.
func New(cfg Config) (*zap.Logger, error) {
	atom := zap.NewAtomicLevelAt(ParseLevel(cfg.Level))
	cores := make([]zapcore.Core, 0, 2)

	if cfg.Console || cfg.Path == "" {
		enc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(os.Stdout), atom))
	}
	if cfg.Path != "" {
		w, err := fileWriter(cfg)
		if err != nil {
			return nil, err
		}
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.TimeKey = "@timestamp"
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		var enc zapcore.Encoder
		if cfg.JSON {
			enc = zapcore.NewJSONEncoder(encCfg)
		} else {
			enc = zapcore.NewConsoleEncoder(encCfg)
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(w), atom))
	}

	lg := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	if cfg.Name != "" {
		lg = lg.Named(cfg.Name)
	}
	return lg, nil
}

func fileWriter(cfg Config) (io.Writer, error) {
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	name := cfg.Name
	if name == "" {
		name = "server"
	}
	full := filepath.Join(cfg.Path, name+".log")
	if !cfg.EnableRotate {
		f, err := os.OpenFile(full, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		return f, nil
	}
	return &lumberjack.Logger{
		Filename:   full,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxAge,
		MaxBackups: cfg.MaxBackups,
	}, nil
}
