package server

import (
	"context"
	"errors"
	"log/slog"

	"github.com/EternisAI/silo-fleet/internal/api/http/dto"
	"github.com/EternisAI/silo-fleet/internal/commands"
	"github.com/EternisAI/silo-fleet/internal/controlplane"
	"github.com/EternisAI/silo-fleet/internal/grpc/wire"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// transportServer is the handler type the service descriptor is checked
// against.
type transportServer interface {
	heartbeat(ctx context.Context, req *dto.HeartbeatRequest) (*dto.StatusResponse, error)
	shipLogs(ctx context.Context, req *dto.ShipLogsRequest) (*dto.ShipLogsResponse, error)
	pull(ctx context.Context, req *wire.Empty) (*dto.PullResponse, error)
	report(ctx context.Context, req *dto.ReportRequest) (*dto.StatusResponse, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: wire.ServiceName,
	HandlerType: (*transportServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: wire.MethodHeartbeat, Handler: unaryHandler(wire.MethodHeartbeat, transportServer.heartbeat)},
		{MethodName: wire.MethodShipLogs, Handler: unaryHandler(wire.MethodShipLogs, transportServer.shipLogs)},
		{MethodName: wire.MethodPull, Handler: unaryHandler(wire.MethodPull, transportServer.pull)},
		{MethodName: wire.MethodReport, Handler: unaryHandler(wire.MethodReport, transportServer.report)},
	},
	Streams: []grpc.StreamDesc{},
}

// unaryHandler adapts a typed method to grpc's untyped method handler,
// decoding the request and running the interceptor chain.
func unaryHandler[Req, Resp any](method string, fn func(transportServer, context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		call := func(ctx context.Context, req any) (any, error) {
			return fn(srv.(transportServer), ctx, req.(*Req))
		}
		if interceptor == nil {
			return call(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: wire.FullMethod(method)}
		return interceptor(ctx, in, info, call)
	}
}

func (s *Server) heartbeat(ctx context.Context, req *dto.HeartbeatRequest) (*dto.StatusResponse, error) {
	agentID, err := requireAgent(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := s.cp.Heartbeat(ctx, agentID, *req)
	if err != nil {
		return nil, toStatus(err, "Failed to record heartbeat")
	}
	return &resp, nil
}

func (s *Server) shipLogs(ctx context.Context, req *dto.ShipLogsRequest) (*dto.ShipLogsResponse, error) {
	agentID, err := requireAgent(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := s.cp.ShipLogs(ctx, agentID, *req)
	if err != nil {
		return nil, toStatus(err, "Failed to ship logs")
	}
	return &resp, nil
}

func (s *Server) pull(ctx context.Context, _ *wire.Empty) (*dto.PullResponse, error) {
	agentID, err := requireAgent(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := s.cp.Pull(ctx, agentID)
	if err != nil {
		return nil, toStatus(err, "Failed to list ready commands")
	}
	return &resp, nil
}

func (s *Server) report(ctx context.Context, req *dto.ReportRequest) (*dto.StatusResponse, error) {
	agentID, err := requireAgent(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := s.cp.Report(ctx, agentID, *req)
	if err != nil {
		return nil, toStatus(err, "Failed to apply report")
	}
	return &resp, nil
}

func requireAgent(ctx context.Context) (string, error) {
	agentID, ok := agentIDFromContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "missing agent credentials")
	}
	return agentID, nil
}

func toStatus(err error, msg string) error {
	switch {
	case errors.Is(err, controlplane.ErrInvalidRequest), errors.Is(err, commands.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, commands.ErrCommandNotFound):
		return status.Error(codes.NotFound, err.Error())
	default:
		slog.Error(msg, "error", err)
		return status.Error(codes.Internal, "internal error")
	}
}
