package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	goruntime "runtime"
	"sync"
	"syscall"
	"time"

	"github.com/EternisAI/silo-fleet/internal/agent"
	"github.com/EternisAI/silo-fleet/internal/agentclient"
	"github.com/EternisAI/silo-fleet/internal/api/http/dto"
	grpcclient "github.com/EternisAI/silo-fleet/internal/grpc/client"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var AppVersion string

func main() {
	if len(os.Args) > 1 && os.Args[1] == "enroll" {
		if err := runEnroll(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	InitConfig()

	slog.Info("Silo Fleet Agent", "version", AppVersion, "agent_id", config.Agent.ID)

	if config.Agent.ID == "" || config.Agent.APIKey == "" {
		slog.Error("Agent credentials are not configured, run the enroll subcommand first")
		os.Exit(1)
	}

	transport, closeTransport, err := newTransport()
	if err != nil {
		slog.Error("Failed to create transport", "error", err)
		os.Exit(1)
	}
	defer closeTransport()

	runtimeCfg := config.Runtime
	runtimeCfg.Platform = config.Agent.Platform
	if runtimeCfg.Platform == "" {
		runtimeCfg.Platform = goruntime.GOOS
	}
	runtimeCfg.Version = AppVersion

	rt, err := agent.NewRuntime(runtimeCfg, agent.Deps{
		Transport: agentclient.NewBreaker(transport, config.Server.Breaker),
	})
	if err != nil {
		slog.Error("Failed to create agent runtime", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := rt.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Agent runtime error", "error", err)
		}
	}()

	var server *http.Server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	if config.Http.Port > 0 {
		gin.SetMode(gin.ReleaseMode)
		engine := gin.New()
		engine.Use(gin.Recovery())
		engine.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, dto.HealthResponse{Status: "ok"})
		})
		engine.GET("/status", func(c *gin.Context) {
			c.JSON(http.StatusOK, rt.Status())
		})
		engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

		server = &http.Server{
			Addr:    fmt.Sprintf("127.0.0.1:%d", config.Http.Port),
			Handler: engine,
		}

		go func() {
			slog.Info("Starting status server", "address", server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("HTTP server error", "error", err)
				quit <- syscall.SIGTERM
			}
		}()
	}

	sig := <-quit
	slog.Info("Received shutdown signal", "signal", sig)

	slog.Info("Shutting down agent...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Shutdown(shutdownCtx); err != nil {
				slog.Error("HTTP server shutdown error", "error", err)
			} else {
				slog.Info("HTTP server stopped")
			}
		}()
	}

	wg.Wait()
	slog.Info("Shutdown complete")
}

// newTransport picks the configured agent transport. The returned func
// releases its connection.
func newTransport() (agent.Transport, func(), error) {
	switch config.Server.Transport {
	case "", TransportHTTP:
		slog.Info("Using HTTP transport", "url", config.Server.URL)
		c := agentclient.NewHTTPClient(agentclient.Config{
			URL:     config.Server.URL,
			Timeout: config.Server.Timeout,
		}, config.Agent.ID, config.Agent.APIKey)
		return c, func() {}, nil
	case TransportGRPC:
		slog.Info("Using gRPC transport", "address", config.Server.GrpcAddress)
		c, err := grpcclient.NewClient(grpcclient.Config{
			Address: config.Server.GrpcAddress,
			TLS:     config.Server.TLS,
		}, config.Agent.ID, config.Agent.APIKey)
		if err != nil {
			return nil, nil, err
		}
		return timeoutTransport{next: c, timeout: config.Server.Timeout}, func() { _ = c.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown server.transport %q (valid: http, grpc)", config.Server.Transport)
	}
}
