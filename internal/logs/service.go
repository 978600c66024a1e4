package logs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/EternisAI/silo-fleet/internal/audit"
	"github.com/EternisAI/silo-fleet/internal/clock"
	"github.com/EternisAI/silo-fleet/internal/events"
	"github.com/EternisAI/silo-fleet/internal/metrics"
	"github.com/google/uuid"
)

const (
	MaxBatchSize     = 1000
	MaxMessageLength = 500
	DefaultListLimit = 50
	maxListLimit     = 1000
)

var ErrBatchTooLarge = errors.New("log batch too large")

// ErrorSink receives the message of the newest error an agent shipped.
type ErrorSink interface {
	RecordError(ctx context.Context, agentID string, message string) error
}

type Summary struct {
	Count  int
	Errors int
}

// IncidentCandidate is published for every ERROR or CRITICAL entry. Incident
// deduplication is left to the consumer.
type IncidentCandidate struct {
	AgentID string `json:"agent_id"`
	Level   Level  `json:"level"`
	Code    string `json:"code"`
	Message string `json:"msg"`
	LogID   string `json:"log_id"`
}

type Service struct {
	repo      Repository
	errors    ErrorSink
	audit     *audit.Recorder
	publisher events.Publisher
	clock     clock.Clock
}

func NewService(repo Repository, sink ErrorSink, recorder *audit.Recorder, publisher events.Publisher, clk clock.Clock) *Service {
	if publisher == nil {
		publisher = events.Noop{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{
		repo:      repo,
		errors:    sink,
		audit:     recorder,
		publisher: publisher,
		clock:     clk,
	}
}

// Ship appends a batch from one agent. Resubmitted entries are stored again;
// consumers tolerate duplicates.
func (s *Service) Ship(ctx context.Context, agentID string, entries []Entry) (Summary, error) {
	if len(entries) > MaxBatchSize {
		return Summary{}, fmt.Errorf("%w: %d entries (max %d)", ErrBatchTooLarge, len(entries), MaxBatchSize)
	}
	if len(entries) == 0 {
		return Summary{}, nil
	}

	now := s.clock.Now().UTC()
	batch := make([]Entry, len(entries))
	var lastError *Entry
	summary := Summary{Count: len(entries)}

	for i, e := range entries {
		e.ID = uuid.NewString()
		e.AgentID = agentID
		e.Level = NormalizeLevel(string(e.Level))
		e.Code = clean(e.Code)
		e.Message = truncate(clean(e.Message), MaxMessageLength)
		e.Meta = cleanMeta(e.Meta)
		e.ReceivedAt = now
		if e.Timestamp.IsZero() {
			e.Timestamp = now
		}
		batch[i] = e

		metrics.ObserveLogEntry(string(e.Level))
		if e.Level.IsError() {
			summary.Errors++
			lastError = &batch[i]
		}
	}

	if err := s.repo.AppendLogs(ctx, batch); err != nil {
		return Summary{}, fmt.Errorf("failed to append logs: %w", err)
	}

	if lastError != nil && s.errors != nil {
		if err := s.errors.RecordError(ctx, agentID, lastError.Message); err != nil {
			slog.Warn("Failed to record last agent error", "error", err, "agent_id", agentID)
		}
	}

	for _, e := range batch {
		if !e.Level.IsError() {
			continue
		}
		candidate := IncidentCandidate{
			AgentID: agentID,
			Level:   e.Level,
			Code:    e.Code,
			Message: e.Message,
			LogID:   e.ID,
		}
		if err := s.publisher.Publish(ctx, events.ChannelIncidents, candidate); err != nil {
			slog.Warn("Failed to publish incident candidate", "error", err, "agent_id", agentID)
		}
	}

	s.audit.Record(ctx, audit.AgentActor(agentID), audit.EventAgentLogs, agentID, map[string]any{
		"count":  summary.Count,
		"errors": summary.Errors,
	})

	return summary, nil
}

func (s *Service) Recent(ctx context.Context, q Query) ([]Entry, error) {
	if q.Limit <= 0 {
		q.Limit = DefaultListLimit
	}
	if q.Limit > maxListLimit {
		q.Limit = maxListLimit
	}
	if q.Level != "" {
		q.Level = NormalizeLevel(string(q.Level))
	}

	list, err := s.repo.ListLogs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list logs: %w", err)
	}
	return list, nil
}

// clean removes what Postgres refuses to store in TEXT and JSONB columns: NUL
// bytes and invalid UTF-8.
func clean(s string) string {
	return strings.ToValidUTF8(strings.ReplaceAll(s, "\x00", ""), "\uFFFD")
}

func cleanMeta(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		if str, ok := v.(string); ok {
			v = clean(str)
		}
		out[clean(k)] = v
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Cut on a rune boundary.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
