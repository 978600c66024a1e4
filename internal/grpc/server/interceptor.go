package server

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"

	"github.com/EternisAI/silo-fleet/internal/agents"
	"github.com/EternisAI/silo-fleet/internal/auth"
	"github.com/EternisAI/silo-fleet/internal/grpc/wire"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type agentIDKey struct{}

func agentIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(agentIDKey{}).(string)
	return id, ok && id != ""
}

func firstValue(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// authInterceptor checks the agent id and API key carried in call metadata.
// A rejected call never reaches the control plane.
func authInterceptor(authn *auth.AgentAuthenticator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing agent credentials")
		}

		agentID := firstValue(md, wire.MetadataAgentID)
		apiKey := firstValue(md, wire.MetadataAPIKey)
		if agentID == "" || apiKey == "" {
			return nil, status.Error(codes.Unauthenticated, "missing agent credentials")
		}
		if err := agents.ValidateID(agentID); err != nil {
			return nil, status.Error(codes.Unauthenticated, "unauthorized")
		}

		if err := authn.Authenticate(ctx, agentID, apiKey); err != nil {
			if errors.Is(err, auth.ErrUnauthorized) {
				slog.Warn("Agent authentication failed", "agent_id", agentID, "method", info.FullMethod)
				return nil, status.Error(codes.Unauthenticated, "unauthorized")
			}
			slog.Error("Agent authentication error", "error", err, "agent_id", agentID)
			return nil, status.Error(codes.Unavailable, "authentication unavailable")
		}

		return handler(context.WithValue(ctx, agentIDKey{}, agentID), req)
	}
}

func recoveryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic in gRPC handler", "method", info.FullMethod, "panic", r, "stack", string(debug.Stack()))
			err = status.Error(codes.Internal, "internal error")
		}
	}()
	return handler(ctx, req)
}
