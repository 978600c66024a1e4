package systemtest

import (
	"context"
	"testing"
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
	"github.com/EternisAI/silo-fleet/internal/logs"
	"github.com/EternisAI/silo-fleet/systemtest/postgres"
	"github.com/EternisAI/silo-fleet/systemtest/redis"
	"github.com/EternisAI/silo-fleet/systemtest/tests"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

const (
	jwtSecret   = "systemtest-secret"
	adminAPIKey = "systemtest-admin-key"
)

func TestSystemIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("system tests need Docker")
	}

	ctx := context.Background()

	container, dsn, err := postgres.StartPostgres(ctx, "fleet")
	if container != nil {
		t.Cleanup(func() { _ = container.Terminate(context.Background()) })
	}
	require.NoError(t, err)

	cfg := db.Config{Url: dsn, Schema: "fleet"}
	require.NoError(t, db.RunMigrations(ctx, cfg))
	// A second run is a no-op.
	require.NoError(t, db.RunMigrations(ctx, cfg))

	pool, err := db.InitDB(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store := db.NewStore(pool)

	hash, err := auth.HashSecret("changeme")
	require.NoError(t, err)

	clk := clock.Real{}
	recorder := audit.NewRecorder(store, events.Noop{}, clk)
	agentService := agents.NewService(store, recorder, clk, 30*time.Second)
	gate := approval.NewGate(approval.Policy{AllowRevoke: true})
	commandService := commands.NewService(store, store, gate, recorder, clk)
	logService := logs.NewService(store, agentService, recorder, events.Noop{}, clk)
	keys := enrollment.NewKeyStore(time.Hour, clk)

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	internalhttp.SetupRoute(engine, &internalhttp.Services{
		ControlPlane:   controlplane.NewService(agentService, commandService, logService),
		AgentService:   agentService,
		CommandService: commandService,
		LogService:     logService,
		Recorder:       recorder,
		AgentAuth:      auth.NewAgentAuthenticator(map[string]string{"pc-001": "secret-1", "pc-002": "secret-2"}, store),
		AuthService: auth.NewService([]auth.Operator{
			{Username: "alice", PasswordHash: hash, Role: auth.RoleOperator},
			{Username: "victor", PasswordHash: hash, Role: auth.RoleViewer},
		}, auth.JWTConfig{Secret: jwtSecret, Expiry: time.Hour}),
		Enrollment: enrollment.NewService(keys, store, recorder, clk),
		Health:     pool,
		Settings: handler.Settings{
			OfflineTimeout:    30 * time.Second,
			Approval:          gate.Policy(),
			EnrollmentEnabled: true,
		},
		JWTSecret:   jwtSecret,
		AdminAPIKey: adminAPIKey,
	})

	env := tests.Env{Router: engine, JWTSecret: jwtSecret, AdminAPIKey: adminAPIKey}

	t.Run("HealthCheck", func(t *testing.T) { tests.TestHealthCheck(t, env) })
	t.Run("Login", func(t *testing.T) { tests.TestLogin(t, env) })
	t.Run("AgentLifecycle", func(t *testing.T) { tests.TestAgentLifecycle(t, env) })
	t.Run("CommandFlow", func(t *testing.T) { tests.TestCommandFlow(t, env) })
	t.Run("ApprovalFlow", func(t *testing.T) { tests.TestApprovalFlow(t, env) })
	t.Run("Enrollment", func(t *testing.T) { tests.TestEnrollment(t, env) })
	t.Run("StoreConcurrentPulls", func(t *testing.T) { tests.TestStoreConcurrentPulls(t, store) })
	t.Run("StoreConcurrentApprovals", func(t *testing.T) { tests.TestStoreConcurrentApprovals(t, store) })
	t.Run("StoreRequeue", func(t *testing.T) { tests.TestStoreRequeue(t, store) })
}

func TestRedisEvents(t *testing.T) {
	if testing.Short() {
		t.Skip("system tests need Docker")
	}

	ctx := context.Background()

	container, url, err := redis.StartRedis(ctx)
	if container != nil {
		t.Cleanup(func() { _ = container.Terminate(context.Background()) })
	}
	require.NoError(t, err)

	tests.TestRedisPublisher(t, url)
}
