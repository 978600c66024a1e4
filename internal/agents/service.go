package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/EternisAI/silo-fleet/internal/audit"
	"github.com/EternisAI/silo-fleet/internal/clock"
	"github.com/EternisAI/silo-fleet/internal/metrics"
)

const DefaultOfflineTimeout = 30 * time.Second

var (
	ErrAgentNotFound  = errors.New("agent not found")
	ErrInvalidAgentID = errors.New("invalid agent ID")
)

var agentIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

func ValidateID(agentID string) error {
	if !agentIDPattern.MatchString(agentID) {
		return ErrInvalidAgentID
	}
	return nil
}

type Service struct {
	repo           Repository
	audit          *audit.Recorder
	clock          clock.Clock
	offlineTimeout time.Duration
}

func NewService(repo Repository, recorder *audit.Recorder, clk clock.Clock, offlineTimeout time.Duration) *Service {
	if offlineTimeout <= 0 {
		offlineTimeout = DefaultOfflineTimeout
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{
		repo:           repo,
		audit:          recorder,
		clock:          clk,
		offlineTimeout: offlineTimeout,
	}
}

func (s *Service) OfflineTimeout() time.Duration {
	return s.offlineTimeout
}

// RecordContact upserts the agent with last contact set to now. The caller has
// already authenticated the agent, so the call is never rejected on content.
func (s *Service) RecordContact(ctx context.Context, hb Heartbeat) (Agent, error) {
	now := s.clock.Now().UTC()

	agent, err := s.repo.UpsertAgent(ctx, Agent{
		ID:          hb.AgentID,
		Platform:    hb.Platform,
		Version:     hb.Version,
		Metrics:     hb.Metrics,
		LastContact: now,
		FirstSeen:   now,
	})
	if err != nil {
		return Agent{}, fmt.Errorf("failed to record contact: %w", err)
	}

	s.audit.Record(ctx, audit.AgentActor(hb.AgentID), audit.EventAgentHeartbeat, hb.AgentID, map[string]any{
		"platform": hb.Platform,
		"version":  hb.Version,
		"mode":     hb.Metrics.Mode,
	})

	slog.Debug("Heartbeat recorded", "agent_id", hb.AgentID, "mode", hb.Metrics.Mode)
	return agent, nil
}

// IsOnline reports whether the agent's last contact is younger than the offline
// timeout. Unknown agents are offline.
func (s *Service) IsOnline(ctx context.Context, agentID string) (bool, error) {
	agent, err := s.repo.GetAgent(ctx, agentID)
	if err != nil {
		if errors.Is(err, ErrAgentNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get agent: %w", err)
	}
	return s.Liveness(agent).Online, nil
}

func (s *Service) Liveness(agent Agent) Liveness {
	since := s.clock.Now().Sub(agent.LastContact)
	return Liveness{
		Online:       since < s.offlineTimeout,
		SinceContact: since,
	}
}

func (s *Service) Get(ctx context.Context, agentID string) (View, error) {
	agent, err := s.repo.GetAgent(ctx, agentID)
	if err != nil {
		if errors.Is(err, ErrAgentNotFound) {
			return View{}, ErrAgentNotFound
		}
		return View{}, fmt.Errorf("failed to get agent: %w", err)
	}
	return View{Agent: agent, Liveness: s.Liveness(agent)}, nil
}

func (s *Service) List(ctx context.Context) ([]View, error) {
	list, err := s.repo.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}

	online := 0
	result := make([]View, len(list))
	for i, a := range list {
		result[i] = View{Agent: a, Liveness: s.Liveness(a)}
		if result[i].Online {
			online++
		}
	}
	metrics.SetAgentsOnline(online)

	return result, nil
}

// RecordError stores the most recent error an agent shipped. Agents that have
// never sent a heartbeat are ignored.
func (s *Service) RecordError(ctx context.Context, agentID string, message string) error {
	err := s.repo.SetAgentLastError(ctx, agentID, message, s.clock.Now().UTC())
	if err != nil {
		if errors.Is(err, ErrAgentNotFound) {
			slog.Debug("Ignoring error for unknown agent", "agent_id", agentID)
			return nil
		}
		return fmt.Errorf("failed to record agent error: %w", err)
	}
	return nil
}
