package client

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/EternisAI/silo-fleet/internal/agent"
	"github.com/EternisAI/silo-fleet/internal/api/http/dto"
	"github.com/EternisAI/silo-fleet/internal/grpc/wire"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	grpctls "github.com/EternisAI/silo-fleet/internal/grpc/tls"
)

type Config struct {
	Address string            `mapstructure:"address"`
	TLS     grpctls.TLSConfig `mapstructure:"tls"`
}

// Client is the agent transport over gRPC. Each call is a unary RPC carrying
// the agent's credentials as metadata; the connection itself reconnects on
// demand.
type Client struct {
	conn    *grpc.ClientConn
	agentID string
	apiKey  string
}

// NewClient prepares a connection to cfg.Address. Extra dial options are
// appended after the transport credentials.
func NewClient(cfg Config, agentID, apiKey string, opts ...grpc.DialOption) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(wire.CodecName)),
	}

	if cfg.TLS.Enabled {
		creds, err := cfg.TLS.ClientCredentials()
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS credentials: %w", err)
		}
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(creds))
		slog.Info("Using TLS connection")
	} else {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		slog.Warn("Using insecure connection (TLS disabled)")
	}
	dialOpts = append(dialOpts, opts...)

	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial server: %w", err)
	}

	return &Client{conn: conn, agentID: agentID, apiKey: apiKey}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) Heartbeat(ctx context.Context, req dto.HeartbeatRequest) error {
	var resp dto.StatusResponse
	return c.invoke(ctx, wire.MethodHeartbeat, &req, &resp)
}

func (c *Client) ShipLogs(ctx context.Context, entries []dto.LogEntry) error {
	var resp dto.ShipLogsResponse
	return c.invoke(ctx, wire.MethodShipLogs, &dto.ShipLogsRequest{Logs: entries}, &resp)
}

func (c *Client) Pull(ctx context.Context) ([]dto.PulledCommand, error) {
	var resp dto.PullResponse
	if err := c.invoke(ctx, wire.MethodPull, &wire.Empty{}, &resp); err != nil {
		return nil, err
	}
	return resp.Commands, nil
}

func (c *Client) Report(ctx context.Context, req dto.ReportRequest) (string, error) {
	var resp dto.StatusResponse
	if err := c.invoke(ctx, wire.MethodReport, &req, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	ctx = metadata.AppendToOutgoingContext(ctx,
		wire.MetadataAgentID, c.agentID,
		wire.MetadataAPIKey, c.apiKey,
	)

	err := c.conn.Invoke(ctx, wire.FullMethod(method), req, resp)
	if err == nil {
		return nil
	}

	switch status.Code(err) {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%s: %w", method, agent.ErrUnauthorized)
	default:
		return fmt.Errorf("%s: %w", method, err)
	}
}
