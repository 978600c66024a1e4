package http

import (
	"github.com/EternisAI/silo-fleet/internal/agents"
	"github.com/EternisAI/silo-fleet/internal/api/http/handler"
	"github.com/EternisAI/silo-fleet/internal/api/http/middleware"
	"github.com/EternisAI/silo-fleet/internal/audit"
	"github.com/EternisAI/silo-fleet/internal/auth"
	"github.com/EternisAI/silo-fleet/internal/commands"
	"github.com/EternisAI/silo-fleet/internal/controlplane"
	"github.com/EternisAI/silo-fleet/internal/enrollment"
	"github.com/EternisAI/silo-fleet/internal/logs"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Services struct {
	ControlPlane   *controlplane.Service
	AgentService   *agents.Service
	CommandService *commands.Service
	LogService     *logs.Service
	Recorder       *audit.Recorder
	AgentAuth      *auth.AgentAuthenticator
	AuthService    *auth.Service
	// Enrollment is nil when agent enrollment is disabled.
	Enrollment  *enrollment.Service
	Health      handler.Pinger
	Settings    handler.Settings
	JWTSecret   string
	AdminAPIKey string
}

func SetupRoute(engine *gin.Engine, srvs *Services) {
	engine.Use(middleware.RequestLogger())

	healthHandler := handler.NewHealthHandler(srvs.Health)
	engine.GET("/health", healthHandler.Check)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authHandler := handler.NewAuthHandler(srvs.AuthService)
	engine.POST("/auth/login", authHandler.Login)

	agentHandler := handler.NewAgentHandler(srvs.ControlPlane, srvs.Enrollment)
	engine.POST("/agent/enroll", agentHandler.Enroll)

	agent := engine.Group("/agent")
	agent.Use(middleware.AgentAuth(srvs.AgentAuth))
	{
		agent.POST("/heartbeat", agentHandler.Heartbeat)
		agent.POST("/logs", agentHandler.ShipLogs)
		agent.GET("/pull", agentHandler.Pull)
		agent.POST("/report", agentHandler.Report)
	}

	agentsHandler := handler.NewAgentsHandler(srvs.AgentService, srvs.LogService)
	commandsHandler := handler.NewCommandsHandler(srvs.CommandService)
	auditHandler := handler.NewAuditHandler(srvs.Recorder)
	systemHandler := handler.NewSystemHandler(srvs.Settings)

	api := engine.Group("/api")
	api.Use(middleware.OperatorAuth(srvs.JWTSecret, srvs.AdminAPIKey))
	{
		api.GET("/config", systemHandler.Config)
		api.GET("/agents", agentsHandler.ListAgents)
		api.GET("/agents/:agent_id", agentsHandler.GetAgent)
		api.GET("/agents/:agent_id/logs", agentsHandler.ListAgentLogs)
		api.GET("/agent-commands", commandsHandler.ListCommands)
		api.GET("/agent-commands/:id", commandsHandler.GetCommand)
		api.GET("/approvals/pending", commandsHandler.PendingApprovals)
		api.GET("/audit", auditHandler.ListEvents)

		write := api.Group("")
		write.Use(middleware.RequireRole(auth.RoleAdmin, auth.RoleOperator))
		write.POST("/agent-commands", commandsHandler.CreateCommand)
		write.POST("/agent-commands/:id/cancel", commandsHandler.CancelCommand)
		write.POST("/agent-commands/:id/approve", commandsHandler.ApproveCommand)
		write.DELETE("/agent-commands/:id/approval", commandsHandler.RevokeApproval)

		if srvs.Enrollment != nil {
			enrollmentHandler := handler.NewEnrollmentHandler(srvs.Enrollment.Keys())
			admin := api.Group("/enrollment-keys")
			admin.Use(middleware.RequireRole(auth.RoleAdmin))
			admin.POST("", enrollmentHandler.CreateKey)
			admin.GET("", enrollmentHandler.ListKeys)
			admin.DELETE("/:agent_id", enrollmentHandler.RevokeKeys)
		}
	}
}
