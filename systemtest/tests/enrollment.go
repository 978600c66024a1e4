package tests

import (
	"net/http"
	"testing"

	"github.com/EternisAI/silo-fleet/internal/api/http/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnrollment(t *testing.T, env Env) {
	rr := doJSON(env.Router, "POST", "/api/enrollment-keys", dto.CreateEnrollmentKeyRequest{AgentID: "pc-100"}, withToken(login(t, env, "alice")))
	assert.Equal(t, http.StatusForbidden, rr.Code, "only admins issue enrollment keys")

	rr = doJSON(env.Router, "POST", "/api/enrollment-keys", dto.CreateEnrollmentKeyRequest{AgentID: "pc-100"}, asAdmin(env))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	key := decode[dto.CreateEnrollmentKeyResponse](t, rr)
	assert.Equal(t, "pc-100", key.AgentID)

	rr = doJSON(env.Router, "POST", "/agent/enroll", dto.EnrollRequest{Key: key.Key}, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	enrolled := decode[dto.EnrollResponse](t, rr)
	assert.Equal(t, "pc-100", enrolled.AgentID)
	require.NotEmpty(t, enrolled.APIKey)

	rr = doJSON(env.Router, "POST", "/agent/enroll", dto.EnrollRequest{Key: key.Key}, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "enrollment keys are single use")

	creds := agentCreds{id: enrolled.AgentID, key: enrolled.APIKey}
	rr = doJSON(env.Router, "POST", "/agent/heartbeat", dto.HeartbeatRequest{Platform: "linux"}, asAgent(creds))
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = doJSON(env.Router, "POST", "/agent/heartbeat", dto.HeartbeatRequest{Platform: "linux"},
		asAgent(agentCreds{id: enrolled.AgentID, key: "guess"}))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
