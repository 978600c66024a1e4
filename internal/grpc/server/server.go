package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/EternisAI/silo-fleet/internal/auth"
	"github.com/EternisAI/silo-fleet/internal/controlplane"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// Server exposes the agent transport over gRPC. It is an alternative to the
// /agent HTTP routes and drives the same control plane.
type Server struct {
	grpcServer *grpc.Server
	cp         *controlplane.Service
	port       int
	listener   net.Listener
}

// NewServer builds the gRPC server. creds may be nil for plaintext.
func NewServer(port int, cp *controlplane.Service, authn *auth.AgentAuthenticator, creds credentials.TransportCredentials) *Server {
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(recoveryInterceptor, authInterceptor(authn)),
	}
	if creds != nil {
		opts = append(opts, grpc.Creds(creds))
	}

	s := &Server{
		grpcServer: grpc.NewServer(opts...),
		cp:         cp,
		port:       port,
	}
	s.grpcServer.RegisterService(&serviceDesc, s)
	return s
}

func (s *Server) Start() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.port, err)
	}
	return s.Serve(lis)
}

func (s *Server) Serve(lis net.Listener) error {
	s.listener = lis

	slog.Info("Starting gRPC server", "address", lis.Addr().String())

	if err := s.grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve gRPC: %w", err)
	}

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	slog.Info("Stopping gRPC server")

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		slog.Info("gRPC server stopped gracefully")
	case <-ctx.Done():
		slog.Warn("gRPC server stop timeout, forcing shutdown")
		s.grpcServer.Stop()
	}

	return nil
}

func (s *Server) StopWithTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Stop(ctx)
}
