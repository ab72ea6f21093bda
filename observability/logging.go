// Package observability builds the station's loggers and metrics.
package observability

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log file names inside the log directory.
const (
	PrimaryLogFile = "primary.log"
	NetworkLogFile = "network.log"
	SensorsLogFile = "sensors.log"
)

// LogConfig controls where and how much the station logs.
type LogConfig struct {
	Level      string
	Dir        string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Console disables stderr output when false.
	Console bool
}

// Loggers groups the three station log streams.
type Loggers struct {
	Primary *zap.Logger
	Network *zap.Logger
	Sensors *zap.Logger

	dir     string
	closers []*lumberjack.Logger
}

// NopLoggers returns loggers that discard everything.
func NopLoggers() *Loggers {
	nop := zap.NewNop()
	return &Loggers{Primary: nop, Network: nop, Sensors: nop}
}

// NewLoggers creates the primary, network and sensors loggers. Each one writes
// JSON to its own rotated file under cfg.Dir and, optionally, text to stderr.
func NewLoggers(cfg LogConfig) (*Loggers, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", cfg.Dir, err)
		}
	}

	l := &Loggers{dir: cfg.Dir}
	l.Primary = l.build(cfg, level, "primary", PrimaryLogFile)
	l.Network = l.build(cfg, level, "network", NetworkLogFile)
	l.Sensors = l.build(cfg, level, "sensors", SensorsLogFile)
	return l, nil
}

func (l *Loggers) build(cfg LogConfig, level zapcore.Level, name, file string) *zap.Logger {
	var cores []zapcore.Core

	if cfg.Console {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level))
	}

	if cfg.Dir != "" {
		rotator := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, file),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   false,
		}
		l.closers = append(l.closers, rotator)
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotator), level))
	}

	if len(cores) == 0 {
		return zap.NewNop()
	}
	return zap.New(zapcore.NewTee(cores...)).Named(name)
}

// Dir is the directory holding the rotated log files, empty when logging to stderr only.
func (l *Loggers) Dir() string { return l.dir }

// Sync flushes buffered entries and closes the rotated files.
func (l *Loggers) Sync() error {
	for _, lg := range []*zap.Logger{l.Primary, l.Network, l.Sensors} {
		if lg != nil {
			_ = lg.Sync()
		}
	}
	var firstErr error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ParseLevel maps a config level name to a zap level. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	if strings.TrimSpace(s) == "" {
		return zapcore.InfoLevel, nil
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s)))); err != nil {
		return level, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}
