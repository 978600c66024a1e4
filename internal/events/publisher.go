package events

import "context"

const (
	ChannelAudit     = "silo-fleet:audit"
	ChannelIncidents = "silo-fleet:incidents"
)

// Publisher fans out control plane events to external consumers.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload any) error
}

// Noop drops every event. Used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, string, any) error {
	return nil
}
