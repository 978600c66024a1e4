package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/EternisAI/silo-fleet/internal/agent"
	"github.com/EternisAI/silo-fleet/internal/api/http/dto"
	"github.com/hashicorp/go-retryablehttp"
)

const DefaultTimeout = 10 * time.Second

// ErrStatus wraps every non-2xx response other than 401/403.
var ErrStatus = errors.New("unexpected response status")

type Config struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// HTTPClient is the agent transport over the server's /agent routes.
// Retries are left to the runtime's timers, so the retrying client is used
// with RetryMax 0.
type HTTPClient struct {
	baseURL string
	agentID string
	apiKey  string
	http    *http.Client
}

func NewHTTPClient(cfg Config, agentID, apiKey string) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 0
	retryClient.HTTPClient.Timeout = timeout
	retryClient.Logger = nil
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		agentID: agentID,
		apiKey:  apiKey,
		http:    retryClient.StandardClient(),
	}
}

func (c *HTTPClient) Heartbeat(ctx context.Context, req dto.HeartbeatRequest) error {
	var resp dto.StatusResponse
	return c.do(ctx, http.MethodPost, "/agent/heartbeat", req, &resp)
}

func (c *HTTPClient) ShipLogs(ctx context.Context, entries []dto.LogEntry) error {
	var resp dto.ShipLogsResponse
	return c.do(ctx, http.MethodPost, "/agent/logs", dto.ShipLogsRequest{Logs: entries}, &resp)
}

func (c *HTTPClient) Pull(ctx context.Context) ([]dto.PulledCommand, error) {
	var resp dto.PullResponse
	if err := c.do(ctx, http.MethodGet, "/agent/pull", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Commands, nil
}

func (c *HTTPClient) Report(ctx context.Context, req dto.ReportRequest) (string, error) {
	var resp dto.StatusResponse
	if err := c.do(ctx, http.MethodPost, "/agent/report", req, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(dto.HeaderAgentID, c.agentID)
	req.Header.Set(dto.HeaderAPIKey, c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp, path, out)
}

func decodeResponse(resp *http.Response, path string, out any) error {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s: %w", path, agent.ErrUnauthorized)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%s: %w: HTTP %d: %s", path, ErrStatus, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal %s response: %w", path, err)
	}
	return nil
}

// Enroll exchanges a one-time enrollment key for the agent's id and API key.
func Enroll(ctx context.Context, cfg Config, key string) (dto.EnrollResponse, error) {
	c := NewHTTPClient(cfg, "", "")

	raw, err := json.Marshal(dto.EnrollRequest{Key: key})
	if err != nil {
		return dto.EnrollResponse{}, fmt.Errorf("marshal enroll request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/agent/enroll", bytes.NewReader(raw))
	if err != nil {
		return dto.EnrollResponse{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return dto.EnrollResponse{}, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	var out dto.EnrollResponse
	if err := decodeResponse(resp, "/agent/enroll", &out); err != nil {
		return dto.EnrollResponse{}, err
	}
	return out, nil
}
