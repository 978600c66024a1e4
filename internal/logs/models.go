package logs

import (
	"context"
	"strings"
	"time"
)

type Level string

const (
	LevelDebug    Level = "DEBUG"
	LevelInfo     Level = "INFO"
	LevelWarn     Level = "WARN"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// NormalizeLevel maps the spellings agents send onto the canonical levels.
func NormalizeLevel(raw string) Level {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	case "CRITICAL", "FATAL":
		return LevelCritical
	default:
		return LevelInfo
	}
}

func (l Level) IsError() bool {
	return l == LevelError || l == LevelCritical
}

type Entry struct {
	ID         string
	AgentID    string
	Level      Level
	Code       string
	Message    string
	Meta       map[string]any
	Timestamp  time.Time
	ReceivedAt time.Time
}

type Query struct {
	AgentID    string
	Level      Level
	ErrorsOnly bool
	Limit      int
}

type Repository interface {
	AppendLogs(ctx context.Context, entries []Entry) error
	// ListLogs returns newest first.
	ListLogs(ctx context.Context, q Query) ([]Entry, error)
}
