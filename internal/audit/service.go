package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/EternisAI/silo-fleet/internal/clock"
	"github.com/EternisAI/silo-fleet/internal/events"
	"github.com/google/uuid"
)

const DefaultListLimit = 100

// Recorder appends events to the audit trail. Nothing in the control plane reads
// the trail back to make decisions.
type Recorder struct {
	repo      Repository
	publisher events.Publisher
	clock     clock.Clock
}

func NewRecorder(repo Repository, publisher events.Publisher, clk clock.Clock) *Recorder {
	if publisher == nil {
		publisher = events.Noop{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Recorder{
		repo:      repo,
		publisher: publisher,
		clock:     clk,
	}
}

// Record writes one event. The transition being recorded has already happened,
// so a storage failure is logged rather than returned.
func (r *Recorder) Record(ctx context.Context, actor string, eventType EventType, refID string, payload map[string]any) {
	event := Event{
		ID:        uuid.NewString(),
		Actor:     actor,
		Type:      eventType,
		RefID:     refID,
		Payload:   payload,
		CreatedAt: r.clock.Now().UTC(),
	}

	if err := r.repo.AppendEvent(ctx, event); err != nil {
		slog.Error("Failed to append audit event",
			"error", err,
			"type", eventType,
			"actor", actor,
			"ref_id", refID)
		return
	}

	if err := r.publisher.Publish(ctx, events.ChannelAudit, event); err != nil {
		slog.Warn("Failed to publish audit event", "error", err, "type", eventType)
	}
}

func (r *Recorder) List(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	list, err := r.repo.ListEvents(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	return list, nil
}
