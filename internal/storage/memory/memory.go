// Package memory is the in-process store used when no database is configured
// and in tests. Every method copies values in and out so callers never share
// state with the store.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/EternisAI/silo-fleet/internal/agents"
	"github.com/EternisAI/silo-fleet/internal/approval"
	"github.com/EternisAI/silo-fleet/internal/audit"
	"github.com/EternisAI/silo-fleet/internal/auth"
	"github.com/EternisAI/silo-fleet/internal/commands"
	"github.com/EternisAI/silo-fleet/internal/logs"
)

const (
	DefaultMaxLogs   = 100_000
	DefaultMaxEvents = 100_000
)

type Store struct {
	mu sync.RWMutex

	agents      map[string]agents.Agent
	commands    map[string]commands.Command
	seq         int64
	approvals   map[string]approval.Approval
	logs        []logs.Entry
	events      []audit.Event
	credentials map[string]auth.Credential

	maxLogs   int
	maxEvents int
}

func New() *Store {
	return &Store{
		agents:      make(map[string]agents.Agent),
		commands:    make(map[string]commands.Command),
		approvals:   make(map[string]approval.Approval),
		credentials: make(map[string]auth.Credential),
		maxLogs:     DefaultMaxLogs,
		maxEvents:   DefaultMaxEvents,
	}
}

// Agents

func (s *Store) UpsertAgent(_ context.Context, a agents.Agent) (agents.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.agents[a.ID]; ok {
		a.FirstSeen = existing.FirstSeen
		a.LastError = existing.LastError
		a.LastErrorAt = existing.LastErrorAt
	}
	a = copyAgent(a)
	s.agents[a.ID] = a
	return copyAgent(a), nil
}

func (s *Store) GetAgent(_ context.Context, agentID string) (agents.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agents[agentID]
	if !ok {
		return agents.Agent{}, agents.ErrAgentNotFound
	}
	return copyAgent(a), nil
}

func (s *Store) ListAgents(_ context.Context) ([]agents.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]agents.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		result = append(result, copyAgent(a))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) SetAgentLastError(_ context.Context, agentID string, message string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[agentID]
	if !ok {
		return agents.ErrAgentNotFound
	}
	a.LastError = message
	a.LastErrorAt = &at
	s.agents[agentID] = a
	return nil
}

// Commands

func (s *Store) CreateCommand(_ context.Context, cmd commands.Command) (commands.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	cmd.Seq = s.seq
	cmd = copyCommand(cmd)
	s.commands[cmd.ID] = cmd
	return copyCommand(cmd), nil
}

func (s *Store) GetCommand(_ context.Context, id string) (commands.Command, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cmd, ok := s.commands[id]
	if !ok {
		return commands.Command{}, commands.ErrCommandNotFound
	}
	return copyCommand(cmd), nil
}

func (s *Store) ListCommands(_ context.Context, filter commands.Filter) ([]commands.Command, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []commands.Command
	for _, cmd := range s.commands {
		if filter.AgentID != "" && cmd.AgentID != filter.AgentID {
			continue
		}
		if filter.Status != "" && cmd.Status != filter.Status {
			continue
		}
		result = append(result, copyCommand(cmd))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Seq > result[j].Seq })
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) ListOpenCommands(_ context.Context, agentID string) ([]commands.Command, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []commands.Command
	for _, cmd := range s.commands {
		if cmd.AgentID != agentID {
			continue
		}
		if cmd.Status == commands.StatusPending || cmd.Status == commands.StatusDelivered {
			result = append(result, copyCommand(cmd))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Seq < result[j].Seq })
	return result, nil
}

func (s *Store) ListStaleDeliveries(_ context.Context, deliveredBefore time.Time) ([]commands.Command, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []commands.Command
	for _, cmd := range s.commands {
		if cmd.Status != commands.StatusDelivered || cmd.DeliveredAt == nil {
			continue
		}
		if cmd.DeliveredAt.Before(deliveredBefore) {
			result = append(result, copyCommand(cmd))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Seq < result[j].Seq })
	return result, nil
}

func (s *Store) TransitionCommand(_ context.Context, t commands.Transition) (commands.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd, ok := s.commands[t.ID]
	if !ok {
		return commands.Command{}, commands.ErrCommandNotFound
	}
	if cmd.Status != t.From {
		return commands.Command{}, commands.ErrPrecondition
	}

	cmd.Status = t.To
	cmd.UpdatedAt = t.At
	switch t.To {
	case commands.StatusDelivered:
		at := t.At
		cmd.DeliveredAt = &at
		cmd.DeliveryCount++
	case commands.StatusPending:
		cmd.DeliveredAt = nil
	}
	if t.Result != nil {
		cmd.Result = maps.Clone(t.Result)
	}

	s.commands[t.ID] = cmd
	return copyCommand(cmd), nil
}

// Approvals

func (s *Store) CreateApproval(_ context.Context, a approval.Approval, staleBefore time.Time) (approval.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.approvals[a.CommandID]; ok && existing.RevokedAt == nil {
		if staleBefore.IsZero() || !existing.CreatedAt.Before(staleBefore) {
			return approval.Approval{}, approval.ErrAlreadyApproved
		}
	}

	a.RevokedAt = nil
	s.approvals[a.CommandID] = a
	return a, nil
}

func (s *Store) GetApproval(_ context.Context, commandID string) (approval.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.approvals[commandID]
	if !ok {
		return approval.Approval{}, approval.ErrApprovalNotFound
	}
	return copyApproval(a), nil
}

func (s *Store) GetApprovals(_ context.Context, commandIDs []string) (map[string]approval.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]approval.Approval, len(commandIDs))
	for _, id := range commandIDs {
		if a, ok := s.approvals[id]; ok {
			result[id] = copyApproval(a)
		}
	}
	return result, nil
}

func (s *Store) RevokeApproval(_ context.Context, commandID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.approvals[commandID]
	if !ok || a.RevokedAt != nil {
		return approval.ErrApprovalNotFound
	}
	a.RevokedAt = &at
	s.approvals[commandID] = a
	return nil
}

// Logs

func (s *Store) AppendLogs(_ context.Context, entries []logs.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		e.Meta = maps.Clone(e.Meta)
		s.logs = append(s.logs, e)
	}
	if over := len(s.logs) - s.maxLogs; over > 0 {
		s.logs = slices.Delete(s.logs, 0, over)
	}
	return nil
}

func (s *Store) ListLogs(_ context.Context, q logs.Query) ([]logs.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []logs.Entry
	for i := len(s.logs) - 1; i >= 0; i-- {
		e := s.logs[i]
		if q.AgentID != "" && e.AgentID != q.AgentID {
			continue
		}
		if q.Level != "" && e.Level != q.Level {
			continue
		}
		if q.ErrorsOnly && !e.Level.IsError() {
			continue
		}
		e.Meta = maps.Clone(e.Meta)
		result = append(result, e)
		if q.Limit > 0 && len(result) == q.Limit {
			break
		}
	}
	return result, nil
}

// Audit

func (s *Store) AppendEvent(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event.Payload = maps.Clone(event.Payload)
	s.events = append(s.events, event)
	if over := len(s.events) - s.maxEvents; over > 0 {
		s.events = slices.Delete(s.events, 0, over)
	}
	return nil
}

func (s *Store) ListEvents(_ context.Context, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []audit.Event
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		e.Payload = maps.Clone(e.Payload)
		result = append(result, e)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

// Credentials

func (s *Store) GetCredential(_ context.Context, agentID string) (auth.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.credentials[agentID]
	if !ok {
		return auth.Credential{}, auth.ErrCredentialNotFound
	}
	return c, nil
}

func (s *Store) PutCredential(_ context.Context, cred auth.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.credentials[cred.AgentID] = cred
	return nil
}

func copyAgent(a agents.Agent) agents.Agent {
	a.Metrics.Processes = slices.Clone(a.Metrics.Processes)
	if a.LastErrorAt != nil {
		t := *a.LastErrorAt
		a.LastErrorAt = &t
	}
	return a
}

func copyCommand(c commands.Command) commands.Command {
	c.Payload = maps.Clone(c.Payload)
	c.Result = maps.Clone(c.Result)
	if c.DeliveredAt != nil {
		t := *c.DeliveredAt
		c.DeliveredAt = &t
	}
	return c
}

func copyApproval(a approval.Approval) approval.Approval {
	if a.RevokedAt != nil {
		t := *a.RevokedAt
		a.RevokedAt = &t
	}
	return a
}
