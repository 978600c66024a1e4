package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/EternisAI/silo-fleet/internal/agents"
	internalhttp "github.com/EternisAI/silo-fleet/internal/api/http"
	"github.com/EternisAI/silo-fleet/internal/api/http/handler"
	"github.com/EternisAI/silo-fleet/internal/approval"
	"github.com/EternisAI/silo-fleet/internal/audit"
	"github.com/EternisAI/silo-fleet/internal/auth"
	"github.com/EternisAI/silo-fleet/internal/clock"
	"github.com/EternisAI/silo-fleet/internal/commands"
	"github.com/EternisAI/silo-fleet/internal/controlplane"
	"github.com/EternisAI/silo-fleet/internal/db"
	"github.com/EternisAI/silo-fleet/internal/enrollment"
	"github.com/EternisAI/silo-fleet/internal/events"
	grpcserver "github.com/EternisAI/silo-fleet/internal/grpc/server"
	"github.com/EternisAI/silo-fleet/internal/logs"
	"github.com/EternisAI/silo-fleet/internal/storage/memory"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/credentials"
)

var AppVersion string

// store is everything the services persist through.
type store interface {
	agents.Repository
	commands.Repository
	approval.Repository
	logs.Repository
	audit.Repository
	auth.CredentialRepository
}

func main() {
	InitConfig()

	if len(os.Args) > 1 && os.Args[1] == "issue-client-cert" {
		if err := runIssueClientCert(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	slog.Info("Silo Fleet Server", "version", AppVersion)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var st store
	var health handler.Pinger
	if config.Database.Enabled() {
		if err := db.RunMigrations(ctx, config.Database); err != nil {
			slog.Error("Failed to run migrations", "error", err)
			os.Exit(1)
		}
		pool, err := db.InitDB(ctx, config.Database)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		st = db.NewStore(pool)
		health = pool
	} else {
		slog.Warn("No database configured, state is kept in memory")
		st = memory.New()
	}

	var publisher events.Publisher = events.Noop{}
	if config.Redis.Url != "" {
		redisPublisher, err := events.NewRedisPublisher(ctx, config.Redis.Url)
		if err != nil {
			slog.Error("Failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisPublisher.Close()
		publisher = redisPublisher
		slog.Info("Publishing events to redis")
	}

	ring, err := auth.ParseKeyRing(config.Agents.Keys)
	if err != nil {
		slog.Error("Invalid agent key ring", "error", err)
		os.Exit(1)
	}
	if len(ring) == 0 && !config.Enrollment.Enabled {
		slog.Warn("No agent keys configured and enrollment is disabled, no agent can connect")
	}

	clk := clock.Real{}
	recorder := audit.NewRecorder(st, publisher, clk)
	agentService := agents.NewService(st, recorder, clk, config.Liveness.OfflineTimeout)
	gate := approval.NewGate(config.Approval)
	commandService := commands.NewService(st, st, gate, recorder, clk)
	logService := logs.NewService(st, agentService, recorder, publisher, clk)
	cp := controlplane.NewService(agentService, commandService, logService)
	agentAuth := auth.NewAgentAuthenticator(ring, st)
	authService := auth.NewService(config.Operators, config.JWT)

	var enrollService *enrollment.Service
	if config.Enrollment.Enabled {
		keys := enrollment.NewKeyStore(config.Enrollment.KeyTTL, clk)
		enrollService = enrollment.NewService(keys, st, recorder, clk)
		go keys.StartCleanup(ctx, time.Minute)
	}

	if config.Commands.RedeliverAfter > 0 {
		go commandService.StartRequeue(ctx, agentService, config.Commands.RedeliverAfter, config.Commands.SweepInterval)
		slog.Info("Stale delivery reaper enabled", "redeliver_after", config.Commands.RedeliverAfter)
	}

	services := &internalhttp.Services{
		ControlPlane:   cp,
		AgentService:   agentService,
		CommandService: commandService,
		LogService:     logService,
		Recorder:       recorder,
		AgentAuth:      agentAuth,
		AuthService:    authService,
		Enrollment:     enrollService,
		Health:         health,
		Settings: handler.Settings{
			OfflineTimeout:    config.Liveness.OfflineTimeout,
			Approval:          config.Approval,
			RedeliverAfter:    config.Commands.RedeliverAfter,
			GRPCEnabled:       config.Grpc.Enabled,
			EnrollmentEnabled: config.Enrollment.Enabled,
		},
		JWTSecret:   config.JWT.Secret,
		AdminAPIKey: config.Http.AdminAPIKey,
	}

	allowOrigins := config.Http.CORSOrigins
	if len(allowOrigins) == 0 {
		allowOrigins = []string{"*"}
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     []string{"PUT", "PATCH", "GET", "POST", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-API-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	engine.Use(gin.Recovery())
	internalhttp.SetupRoute(engine, services)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Http.Port),
		Handler: engine,
	}

	errChan := make(chan error, 2)
	go func() {
		slog.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	var grpcSrv *grpcserver.Server
	if config.Grpc.Enabled {
		var creds credentials.TransportCredentials
		if config.Grpc.TLS.Enabled {
			if config.Grpc.AutoCert.Enabled {
				if _, err := ensureCertificates(); err != nil {
					slog.Error("Failed to prepare gRPC certificates", "error", err)
					os.Exit(1)
				}
			}
			creds, err = config.Grpc.TLS.ServerCredentials()
			if err != nil {
				slog.Error("Failed to load gRPC TLS credentials", "error", err)
				os.Exit(1)
			}
		}
		grpcSrv = grpcserver.NewServer(config.Grpc.Port, cp, agentAuth, creds)
		go func() {
			if err := grpcSrv.Start(); err != nil {
				errChan <- fmt.Errorf("gRPC server error: %w", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		slog.Error("Server error", "error", err)
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	}

	slog.Info("Shutting down servers...")
	cancel()

	var wg sync.WaitGroup
	shutdownTimeout := 10 * time.Second

	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server stopped")
		}
	}()

	if grpcSrv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := grpcSrv.StopWithTimeout(shutdownTimeout); err != nil {
				slog.Error("gRPC server shutdown error", "error", err)
			}
		}()
	}

	wg.Wait()
	slog.Info("Shutdown complete")
}
