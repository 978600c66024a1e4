package wire

import (
	"testing"

	"github.com/EternisAI/silo-fleet/internal/api/http/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/encoding"
)

func TestCodecRegistered(t *testing.T) {
	c := encoding.GetCodec(CodecName)
	require.NotNil(t, c)

	raw, err := c.Marshal(dto.ReportRequest{CommandID: "c1", Status: "completed"})
	require.NoError(t, err)

	var got dto.ReportRequest
	require.NoError(t, c.Unmarshal(raw, &got))
	assert.Equal(t, "c1", got.CommandID)
}

func TestFullMethod(t *testing.T) {
	assert.Equal(t, "/silofleet.v1.AgentTransport/Pull", FullMethod(MethodPull))
}
