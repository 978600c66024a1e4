package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/EternisAI/silo-fleet/internal/approval"
	"github.com/EternisAI/silo-fleet/internal/audit"
	"github.com/EternisAI/silo-fleet/internal/clock"
	"github.com/EternisAI/silo-fleet/internal/metrics"
	"github.com/google/uuid"
)

const (
	DefaultListLimit     = 50
	DefaultSweepInterval = 30 * time.Second
)

var (
	ErrCommandNotFound = errors.New("command not found")
	ErrPrecondition    = errors.New("command is not in the expected state")
)

// OnlineChecker reports agent liveness to the stale delivery reaper.
type OnlineChecker interface {
	IsOnline(ctx context.Context, agentID string) (bool, error)
}

type Service struct {
	repo      Repository
	approvals approval.Repository
	gate      *approval.Gate
	audit     *audit.Recorder
	clock     clock.Clock
}

func NewService(repo Repository, approvals approval.Repository, gate *approval.Gate, recorder *audit.Recorder, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{
		repo:      repo,
		approvals: approvals,
		gate:      gate,
		audit:     recorder,
		clock:     clk,
	}
}

// Enqueue validates and stores a new pending command. Malformed commands are
// rejected before a row exists.
func (s *Service) Enqueue(ctx context.Context, actor, agentID string, t Type, payload Payload) (Command, error) {
	if agentID == "" {
		return Command{}, &ValidationError{Type: t, Field: "agent_id", Reason: "required"}
	}
	if payload == nil {
		payload = Payload{}
	}
	if err := Validate(t, payload); err != nil {
		return Command{}, err
	}

	now := s.clock.Now().UTC()
	cmd, err := s.repo.CreateCommand(ctx, Command{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Type:      t,
		Payload:   payload,
		Status:    StatusPending,
		CreatedBy: actor,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return Command{}, fmt.Errorf("failed to create command: %w", err)
	}

	metrics.ObserveCommandEnqueued(string(t))
	s.audit.Record(ctx, actor, audit.EventCommandCreated, cmd.ID, map[string]any{
		"agent_id": agentID,
		"type":     string(t),
		"payload":  map[string]any(payload),
	})

	slog.Info("Command enqueued",
		"command_id", cmd.ID,
		"agent_id", agentID,
		"type", t,
		"class", ClassOf(t))
	return cmd, nil
}

// ListReady returns the commands an agent should run, in creation order. Pending
// commands the gate releases are moved to delivered. Commands already delivered
// and not yet reported are listed again, so repeated pulls without a report
// return the same set.
func (s *Service) ListReady(ctx context.Context, agentID string) ([]Command, error) {
	open, err := s.repo.ListOpenCommands(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list open commands: %w", err)
	}

	approvals, err := s.approvalsFor(ctx, open)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	ready := make([]Command, 0, len(open))
	delivered := 0

	for _, cmd := range open {
		if cmd.Status == StatusDelivered {
			ready = append(ready, cmd)
			continue
		}

		if err := Validate(cmd.Type, cmd.Payload); err != nil {
			s.rejectPending(ctx, cmd, err, now)
			continue
		}

		var a *approval.Approval
		if found, ok := approvals[cmd.ID]; ok {
			a = &found
		}
		if !s.gate.Eligible(cmd.Class(), a, now) {
			continue
		}

		updated, err := s.repo.TransitionCommand(ctx, Transition{
			ID:   cmd.ID,
			From: StatusPending,
			To:   StatusDelivered,
			At:   now,
		})
		if err != nil {
			if errors.Is(err, ErrPrecondition) {
				// A concurrent pull or cancel moved it first.
				current, getErr := s.repo.GetCommand(ctx, cmd.ID)
				if getErr == nil && current.Status == StatusDelivered {
					ready = append(ready, current)
				}
				continue
			}
			return nil, fmt.Errorf("failed to mark command delivered: %w", err)
		}

		metrics.ObserveCommandTransition(string(StatusPending), string(StatusDelivered))
		delivered++
		ready = append(ready, updated)
	}

	s.audit.Record(ctx, audit.AgentActor(agentID), audit.EventAgentPull, agentID, map[string]any{
		"commands_delivered": delivered,
		"commands_listed":    len(ready),
	})

	return ready, nil
}

func (s *Service) approvalsFor(ctx context.Context, cmds []Command) (map[string]approval.Approval, error) {
	var ids []string
	for _, cmd := range cmds {
		if cmd.Status == StatusPending && cmd.Class() == approval.ClassStrong {
			ids = append(ids, cmd.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	approvals, err := s.approvals.GetApprovals(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load approvals: %w", err)
	}
	return approvals, nil
}

func (s *Service) rejectPending(ctx context.Context, cmd Command, reason error, now time.Time) {
	_, err := s.repo.TransitionCommand(ctx, Transition{
		ID:     cmd.ID,
		From:   StatusPending,
		To:     StatusFailed,
		Result: Result{"success": false, "error": reason.Error()},
		At:     now,
	})
	if err != nil {
		slog.Warn("Failed to reject invalid command", "error", err, "command_id", cmd.ID)
		return
	}

	metrics.ObserveCommandTransition(string(StatusPending), string(StatusFailed))
	s.audit.Record(ctx, audit.SystemActor, audit.EventCommandRejected, cmd.ID, map[string]any{
		"agent_id": cmd.AgentID,
		"reason":   reason.Error(),
	})
	slog.Warn("Pending command failed validation", "command_id", cmd.ID, "reason", reason)
}

// ApplyResult records an agent's report. It is accepted only while the command
// is delivered; anything else is discarded with ErrPrecondition and one
// report_rejected audit event.
func (s *Service) ApplyResult(ctx context.Context, agentID, commandID string, status Status, result Result) (Command, error) {
	if status != StatusCompleted && status != StatusFailed {
		return Command{}, &ValidationError{Field: "status", Reason: "must be completed or failed"}
	}

	cmd, err := s.repo.GetCommand(ctx, commandID)
	if err != nil {
		if errors.Is(err, ErrCommandNotFound) {
			return Command{}, ErrCommandNotFound
		}
		return Command{}, fmt.Errorf("failed to get command: %w", err)
	}
	if cmd.AgentID != agentID {
		return Command{}, ErrCommandNotFound
	}

	updated, err := s.repo.TransitionCommand(ctx, Transition{
		ID:     commandID,
		From:   StatusDelivered,
		To:     status,
		Result: result,
		At:     s.clock.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, ErrPrecondition) {
			metrics.ObserveReportRejected()
			s.audit.Record(ctx, audit.AgentActor(agentID), audit.EventReportRejected, commandID, map[string]any{
				"reported_status": string(status),
				"current_status":  string(cmd.Status),
			})
			slog.Warn("Discarding report for command not in delivered state",
				"command_id", commandID,
				"agent_id", agentID,
				"reported_status", status,
				"current_status", cmd.Status)
			return cmd, ErrPrecondition
		}
		return Command{}, fmt.Errorf("failed to apply result: %w", err)
	}

	metrics.ObserveCommandTransition(string(StatusDelivered), string(status))
	s.audit.Record(ctx, audit.AgentActor(agentID), audit.EventAgentReport, commandID, map[string]any{
		"status": string(status),
		"result": map[string]any(result),
	})

	slog.Info("Command result applied", "command_id", commandID, "agent_id", agentID, "status", status)
	return updated, nil
}

// Cancel fails a command that has not been delivered yet.
func (s *Service) Cancel(ctx context.Context, actor, commandID, reason string) (Command, error) {
	if reason == "" {
		reason = "cancelled by operator"
	}

	updated, err := s.repo.TransitionCommand(ctx, Transition{
		ID:     commandID,
		From:   StatusPending,
		To:     StatusFailed,
		Result: Result{"success": false, "error": reason},
		At:     s.clock.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, ErrCommandNotFound) || errors.Is(err, ErrPrecondition) {
			return Command{}, err
		}
		return Command{}, fmt.Errorf("failed to cancel command: %w", err)
	}

	metrics.ObserveCommandTransition(string(StatusPending), string(StatusFailed))
	s.audit.Record(ctx, actor, audit.EventCommandCancelled, commandID, map[string]any{
		"agent_id": updated.AgentID,
		"reason":   reason,
	})
	return updated, nil
}

// Approve records the human approval a strong command needs before release.
func (s *Service) Approve(ctx context.Context, actor, commandID string) (approval.Approval, error) {
	cmd, err := s.repo.GetCommand(ctx, commandID)
	if err != nil {
		if errors.Is(err, ErrCommandNotFound) {
			return approval.Approval{}, ErrCommandNotFound
		}
		return approval.Approval{}, fmt.Errorf("failed to get command: %w", err)
	}

	existing, err := s.findApproval(ctx, commandID)
	if err != nil {
		return approval.Approval{}, err
	}

	now := s.clock.Now().UTC()
	if err := s.gate.CheckApprove(actor, cmd.Class(), cmd.Status.Terminal(), existing, now); err != nil {
		metrics.ObserveApproval("rejected")
		if errors.Is(err, approval.ErrTerminal) || errors.Is(err, approval.ErrAlreadyApproved) {
			s.rejectApproval(ctx, actor, cmd, err)
		}
		return approval.Approval{}, err
	}

	a, err := s.approvals.CreateApproval(ctx, approval.Approval{
		ID:         uuid.NewString(),
		CommandID:  commandID,
		ApprovedBy: actor,
		CreatedAt:  now,
	}, s.gate.StaleBefore(now))
	if err != nil {
		if errors.Is(err, approval.ErrAlreadyApproved) {
			metrics.ObserveApproval("rejected")
			s.rejectApproval(ctx, actor, cmd, err)
			return approval.Approval{}, err
		}
		return approval.Approval{}, fmt.Errorf("failed to create approval: %w", err)
	}

	metrics.ObserveApproval("approved")
	s.audit.Record(ctx, audit.UserActor(actor), audit.EventCommandApproved, commandID, map[string]any{
		"command_type": string(cmd.Type),
		"agent_id":     cmd.AgentID,
	})

	slog.Info("Command approved", "command_id", commandID, "approved_by", actor, "type", cmd.Type)
	return a, nil
}

// rejectApproval leaves a trace of an approval that lost to a terminal state or
// to another approval.
func (s *Service) rejectApproval(ctx context.Context, actor string, cmd Command, reason error) {
	s.audit.Record(ctx, audit.UserActor(actor), audit.EventApprovalRejected, cmd.ID, map[string]any{
		"reason":         reason.Error(),
		"current_status": string(cmd.Status),
	})
	slog.Warn("Discarding approval",
		"command_id", cmd.ID,
		"actor", actor,
		"reason", reason,
		"current_status", cmd.Status)
}

func (s *Service) RevokeApproval(ctx context.Context, actor, commandID string) error {
	cmd, err := s.repo.GetCommand(ctx, commandID)
	if err != nil {
		if errors.Is(err, ErrCommandNotFound) {
			return ErrCommandNotFound
		}
		return fmt.Errorf("failed to get command: %w", err)
	}

	existing, err := s.findApproval(ctx, commandID)
	if err != nil {
		return err
	}

	now := s.clock.Now().UTC()
	if err := s.gate.CheckRevoke(cmd.Status == StatusPending, existing, now); err != nil {
		return err
	}

	if err := s.approvals.RevokeApproval(ctx, commandID, now); err != nil {
		return fmt.Errorf("failed to revoke approval: %w", err)
	}

	metrics.ObserveApproval("revoked")
	s.audit.Record(ctx, audit.UserActor(actor), audit.EventApprovalRevoked, commandID, map[string]any{
		"agent_id": cmd.AgentID,
	})
	return nil
}

func (s *Service) findApproval(ctx context.Context, commandID string) (*approval.Approval, error) {
	a, err := s.approvals.GetApproval(ctx, commandID)
	if err != nil {
		if errors.Is(err, approval.ErrApprovalNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get approval: %w", err)
	}
	return &a, nil
}

func (s *Service) Get(ctx context.Context, commandID string) (View, error) {
	cmd, err := s.repo.GetCommand(ctx, commandID)
	if err != nil {
		if errors.Is(err, ErrCommandNotFound) {
			return View{}, ErrCommandNotFound
		}
		return View{}, fmt.Errorf("failed to get command: %w", err)
	}

	views, err := s.views(ctx, []Command{cmd})
	if err != nil {
		return View{}, err
	}
	return views[0], nil
}

func (s *Service) List(ctx context.Context, filter Filter) ([]View, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultListLimit
	}

	list, err := s.repo.ListCommands(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list commands: %w", err)
	}
	return s.views(ctx, list)
}

// PendingApprovals lists strong commands that are pending without a live
// approval.
func (s *Service) PendingApprovals(ctx context.Context) ([]View, error) {
	list, err := s.repo.ListCommands(ctx, Filter{Status: StatusPending})
	if err != nil {
		return nil, fmt.Errorf("failed to list pending commands: %w", err)
	}

	views, err := s.views(ctx, list)
	if err != nil {
		return nil, err
	}

	result := make([]View, 0, len(views))
	for _, v := range views {
		if v.AwaitingApproval {
			result = append(result, v)
		}
	}
	return result, nil
}

func (s *Service) views(ctx context.Context, list []Command) ([]View, error) {
	var ids []string
	for _, cmd := range list {
		if cmd.Class() == approval.ClassStrong {
			ids = append(ids, cmd.ID)
		}
	}

	var approvals map[string]approval.Approval
	if len(ids) > 0 {
		var err error
		approvals, err = s.approvals.GetApprovals(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to load approvals: %w", err)
		}
	}

	now := s.clock.Now()
	ttl := s.gate.Policy().TTL
	result := make([]View, len(list))
	for i, cmd := range list {
		v := View{Command: cmd}
		if cmd.Class() != approval.ClassStrong {
			v.Approved = true
		} else {
			v.NeedsApproval = true
			if a, ok := approvals[cmd.ID]; ok {
				v.Approval = &a
				v.Approved = a.Live(now, ttl)
			}
			v.AwaitingApproval = cmd.Status == StatusPending && !v.Approved
		}
		result[i] = v
	}
	return result, nil
}

// RequeueStale moves delivered commands back to pending when they have waited
// longer than after and their agent is offline. Returns the number moved.
func (s *Service) RequeueStale(ctx context.Context, checker OnlineChecker, after time.Duration) (int, error) {
	now := s.clock.Now().UTC()
	stale, err := s.repo.ListStaleDeliveries(ctx, now.Add(-after))
	if err != nil {
		return 0, fmt.Errorf("failed to list stale deliveries: %w", err)
	}

	moved := 0
	for _, cmd := range stale {
		online, err := checker.IsOnline(ctx, cmd.AgentID)
		if err != nil {
			slog.Warn("Failed to check agent liveness", "error", err, "agent_id", cmd.AgentID)
			continue
		}
		if online {
			continue
		}

		_, err = s.repo.TransitionCommand(ctx, Transition{
			ID:   cmd.ID,
			From: StatusDelivered,
			To:   StatusPending,
			At:   now,
		})
		if err != nil {
			if errors.Is(err, ErrPrecondition) {
				continue
			}
			return moved, fmt.Errorf("failed to requeue command: %w", err)
		}

		moved++
		metrics.ObserveCommandTransition(string(StatusDelivered), string(StatusPending))
		s.audit.Record(ctx, audit.SystemActor, audit.EventCommandRequeued, cmd.ID, map[string]any{
			"agent_id":     cmd.AgentID,
			"delivered_at": cmd.DeliveredAt,
		})
		slog.Info("Requeued stale delivery", "command_id", cmd.ID, "agent_id", cmd.AgentID)
	}
	return moved, nil
}

// StartRequeue runs RequeueStale every interval until ctx is done. A
// non-positive interval falls back to DefaultSweepInterval.
func (s *Service) StartRequeue(ctx context.Context, checker OnlineChecker, after, interval time.Duration) {
	if interval <= 0 {
		slog.Warn("Invalid stale delivery sweep interval, using default", "interval", interval, "default", DefaultSweepInterval)
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RequeueStale(ctx, checker, after); err != nil {
				slog.Error("Stale delivery sweep failed", "error", err)
			}
		}
	}
}
