package commands

import (
	"context"
	"time"

	"github.com/EternisAI/silo-fleet/internal/approval"
)

type Type string

const (
	TypeSetMode        Type = "SET_MODE"
	TypeSetRateLimit   Type = "SET_RATE_LIMIT"
	TypeNotifyOps      Type = "NOTIFY_OPS"
	TypeRestartProcess Type = "RESTART_PROCESS"
	TypeStopProcess    Type = "STOP_PROCESS"
	TypeRollback       Type = "ROLLBACK"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusDelivered, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether from -> to is an edge of the command lifecycle.
// delivered -> pending is not an edge; only the stale delivery reaper uses it.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusDelivered || to == StatusFailed
	case StatusDelivered:
		return to == StatusCompleted || to == StatusFailed
	}
	return false
}

type Payload map[string]any

type Result map[string]any

type Command struct {
	ID            string
	Seq           int64
	AgentID       string
	Type          Type
	Payload       Payload
	Status        Status
	Result        Result
	CreatedBy     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeliveredAt   *time.Time
	DeliveryCount int
}

func (c Command) Class() approval.Class {
	return ClassOf(c.Type)
}

// View is a command as the dashboard sees it, with its approval state.
type View struct {
	Command
	NeedsApproval    bool
	Approved         bool
	AwaitingApproval bool
	Approval         *approval.Approval
}

type Filter struct {
	AgentID string
	Status  Status
	Limit   int
}

type Transition struct {
	ID     string
	From   Status
	To     Status
	Result Result
	At     time.Time
}

type Repository interface {
	CreateCommand(ctx context.Context, cmd Command) (Command, error)
	GetCommand(ctx context.Context, id string) (Command, error)
	// ListCommands returns newest first.
	ListCommands(ctx context.Context, filter Filter) ([]Command, error)
	// ListOpenCommands returns the agent's pending and delivered commands in
	// creation order.
	ListOpenCommands(ctx context.Context, agentID string) ([]Command, error)
	ListStaleDeliveries(ctx context.Context, deliveredBefore time.Time) ([]Command, error)
	// TransitionCommand atomically moves a command from t.From to t.To. It
	// returns ErrPrecondition when the current status is not t.From.
	TransitionCommand(ctx context.Context, t Transition) (Command, error)
}
