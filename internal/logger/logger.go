// Package logger carries a zap logger inside context.Context.
package logger

import (
	"context"

	"go.uber.org/zap"
)

type key string

const (
	// KeyForLogger is used to store Logger in a context.Context
	KeyForLogger key = "logger"
	// KeyForRequestID is used to store the request ID in a context.Context
	KeyForRequestID key = "request_id"
)

// Logger wraps zap.Logger and appends the request id found in the context.
type Logger struct {
	l *zap.Logger
}

// NewProduction creates a production Logger.
func NewProduction() (*Logger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return &Logger{l: l}, nil
}

// Wrap adapts an existing zap logger.
func Wrap(l *zap.Logger) *Logger {
	return &Logger{l: l}
}

// WithLogger returns a copy of ctx carrying l.
func WithLogger(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, KeyForLogger, l)
}

// WithRequestID returns a copy of ctx carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, KeyForRequestID, id)
}

// FromCtx returns the Logger stored in ctx, or one backed by zap.L() when none is set.
func FromCtx(ctx context.Context) *Logger {
	if l, ok := ctx.Value(KeyForLogger).(*Logger); ok && l != nil {
		return l
	}
	return &Logger{l: zap.L()}
}

// Zap exposes the underlying logger.
func (l *Logger) Zap() *zap.Logger { return l.l }

// Sync flushes buffered entries.
func (l *Logger) Sync() error { return l.l.Sync() }

func appendRequestID(ctx context.Context, fields []zap.Field) []zap.Field {
	if id, ok := ctx.Value(KeyForRequestID).(string); ok && id != "" {
		fields = append(fields, zap.String(string(KeyForRequestID), id))
	}
	return fields
}

func (l *Logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	l.l.Debug(msg, appendRequestID(ctx, fields)...)
}

func (l *Logger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	l.l.Info(msg, appendRequestID(ctx, fields)...)
}

func (l *Logger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	l.l.Warn(msg, appendRequestID(ctx, fields)...)
}

func (l *Logger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	l.l.Error(msg, appendRequestID(ctx, fields)...)
}

func (l *Logger) Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	l.l.Fatal(msg, appendRequestID(ctx, fields)...)
}
