// Package wire holds what the gRPC agent transport's two ends share: the
// service and method names, the credential metadata keys and the JSON codec
// that carries the same DTOs as the HTTP transport.
package wire

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

const (
	ServiceName = "silofleet.v1.AgentTransport"

	MethodHeartbeat = "Heartbeat"
	MethodShipLogs  = "ShipLogs"
	MethodPull      = "Pull"
	MethodReport    = "Report"

	MetadataAgentID = "x-agent-id"
	MetadataAPIKey  = "x-api-key"

	CodecName = "json"
)

// Empty is the request body of Pull.
type Empty struct{}

func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

type codec struct{}

func (codec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (codec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (codec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(codec{})
}
