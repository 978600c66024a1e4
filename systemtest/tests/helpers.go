package tests

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/EternisAI/silo-fleet/internal/api/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type Env struct {
	Router      *gin.Engine
	JWTSecret   string
	AdminAPIKey string
}

type agentCreds struct {
	id  string
	key string
}

var (
	pc1 = agentCreds{id: "pc-001", key: "secret-1"}
	pc2 = agentCreds{id: "pc-002", key: "secret-2"}
)

func doJSON(router *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func asAgent(a agentCreds) map[string]string {
	return map[string]string{dto.HeaderAgentID: a.id, dto.HeaderAPIKey: a.key}
}

func asAdmin(env Env) map[string]string {
	return map[string]string{dto.HeaderAPIKey: env.AdminAPIKey}
}

func withToken(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func login(t *testing.T, env Env, username string) string {
	t.Helper()
	rr := doJSON(env.Router, "POST", "/auth/login", dto.LoginRequest{Username: username, Password: "changeme"}, nil)
	require.Equal(t, 200, rr.Code, rr.Body.String())
	return decode[dto.LoginResponse](t, rr).Token
}
