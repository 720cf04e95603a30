// Copyright 2025 James Ross
package obs

import (
    "strings"

    "go.uber.org/zap"
    "go.uber.org/zap/zapcore"
    "gopkg.in/natefinch/lumberjack.v2"
)

func NewLogger(level string) (*zap.Logger, error) {
    lvl := zapcore.InfoLevel
    switch strings.ToLower(level) {
    case "debug":
        lvl = zapcore.DebugLevel
    case "warn":
        lvl = zapcore.WarnLevel
    case "error":
        lvl = zapcore.ErrorLevel
    }
    cfg := zap.NewProductionConfig()
    cfg.Level = zap.NewAtomicLevelAt(lvl)
    cfg.Encoding = "json"
    return cfg.Build()
}

// NewAuditLogger returns a logger dedicated to the authorization audit
// trail (every terminal state transition, spec.md §5), writing to a
// size-rotated file via lumberjack rather than stdout: audit records must
// outlive the process's own log retention.
func NewAuditLogger(path string, maxSizeMB, maxBackups, maxAgeDays int) *zap.Logger {
    w := &lumberjack.Logger{
        Filename:   path,
        MaxSize:    maxSizeMB,
        MaxBackups: maxBackups,
        MaxAge:     maxAgeDays,
        Compress:   true,
    }
    encoderCfg := zap.NewProductionEncoderConfig()
    core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(w), zapcore.InfoLevel)
    return zap.New(core)
}

// Convenience typed fields
func String(k, v string) zap.Field { return zap.String(k, v) }
func Int(k string, v int) zap.Field { return zap.Int(k, v) }
func Int64(k string, v int64) zap.Field { return zap.Int64(k, v) }
func Bool(k string, v bool) zap.Field { return zap.Bool(k, v) }
func Err(err error) zap.Field { return zap.Error(err) }
