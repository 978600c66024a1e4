package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/EternisAI/silo-fleet/internal/api/http/dto"
	"github.com/EternisAI/silo-fleet/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers = append(handlers, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"agent_id": c.GetString(KeyAgentID),
			"username": c.GetString(KeyUsername),
			"role":     c.GetString(KeyRole),
		})
	})
	r.GET("/test", handlers...)
	return r
}

func doRequest(r *gin.Engine, headers map[string]string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(http.MethodGet, "/test", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAgentAuth(t *testing.T) {
	r := setupRouter(AgentAuth(auth.NewAgentAuthenticator(map[string]string{"pc-001": "k1"}, nil)))

	tests := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{"valid", map[string]string{dto.HeaderAgentID: "pc-001", dto.HeaderAPIKey: "k1"}, http.StatusOK},
		{"wrong key", map[string]string{dto.HeaderAgentID: "pc-001", dto.HeaderAPIKey: "k2"}, http.StatusUnauthorized},
		{"unknown agent", map[string]string{dto.HeaderAgentID: "pc-002", dto.HeaderAPIKey: "k1"}, http.StatusUnauthorized},
		{"missing key", map[string]string{dto.HeaderAgentID: "pc-001"}, http.StatusUnauthorized},
		{"bad id", map[string]string{dto.HeaderAgentID: "../x", dto.HeaderAPIKey: "k1"}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(r, tt.headers)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.Contains(t, w.Body.String(), `"agent_id":"pc-001"`)
			}
		})
	}
}

func TestOperatorAuthToken(t *testing.T) {
	r := setupRouter(OperatorAuth("secret", "admin-key"))

	token, err := auth.GenerateToken(auth.JWTConfig{Secret: "secret", Expiry: time.Hour}, "operator:alice", "alice", auth.RoleOperator)
	require.NoError(t, err)

	w := doRequest(r, map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"username":"alice"`)

	w = doRequest(r, map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(r, map[string]string{"Authorization": "Basic abc"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOperatorAuthAPIKey(t *testing.T) {
	r := setupRouter(OperatorAuth("secret", "admin-key"))

	w := doRequest(r, map[string]string{dto.HeaderAPIKey: "admin-key"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"role":"admin"`)

	w = doRequest(r, map[string]string{dto.HeaderAPIKey: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(r, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOperatorAuthAPIKeyNotConfigured(t *testing.T) {
	r := setupRouter(OperatorAuth("secret", ""))

	w := doRequest(r, map[string]string{dto.HeaderAPIKey: ""})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(r, map[string]string{dto.HeaderAPIKey: "anything"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireRole(t *testing.T) {
	r := setupRouter(OperatorAuth("secret", "admin-key"), RequireRole(auth.RoleAdmin, auth.RoleOperator))

	viewer, err := auth.GenerateToken(auth.JWTConfig{Secret: "secret"}, "operator:v", "v", auth.RoleViewer)
	require.NoError(t, err)

	w := doRequest(r, map[string]string{"Authorization": "Bearer " + viewer})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(r, map[string]string{dto.HeaderAPIKey: "admin-key"})
	assert.Equal(t, http.StatusOK, w.Code)
}
