package clog

import (
	"context"
	"log/slog"
)

type Level int

const (
	LevelDebug Level = iota + 1
	LevelInfo
	LevelWarn
	LevelError
)

func HTTPStatusToLevel(status int) Level {
	switch {
	case status >= 100 && status < 400:
		return LevelInfo
	case status == 499:
		return LevelInfo
	case status >= 400 && status < 500:
		return LevelWarn
	case status >= 500:
		return LevelError
	default:
		return LevelError
	}
}

// Log writes msg at the slog level matching l.
func Log(ctx context.Context, l Level, msg string, args ...any) {
	switch l {
	case LevelError:
		slog.ErrorContext(ctx, msg, args...)
	case LevelWarn:
		slog.WarnContext(ctx, msg, args...)
	case LevelInfo:
		slog.InfoContext(ctx, msg, args...)
	case LevelDebug:
		slog.DebugContext(ctx, msg, args...)
	}
}

// ParseLevel converts a LOG_LEVEL style string into a slog.Level, defaulting
// to info.
func ParseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
