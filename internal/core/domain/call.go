package domain

import (
	"encoding/json"
)

type CallErrorKind string

const (
	CALL_ERROR_PROTOCOL    CallErrorKind = "protocol"
	CALL_ERROR_UNREACHABLE CallErrorKind = "unreachable"
	CALL_ERROR_CONTRACT    CallErrorKind = "contract"
	CALL_ERROR_SESSION     CallErrorKind = "session"
)

// CallError is the serializable form of a failed call. Code is the device
// error code for protocol errors and zero otherwise.
type CallError struct {
	Kind    CallErrorKind `json:"kind"`
	Code    int           `json:"code,omitempty"`
	Message string        `json:"message"`
}

// CallResult is what the HTTP and MQTT fronts report for one call.
type CallResult struct {
	Endpoint string            `json:"endpoint"`
	Method   string            `json:"method"`
	Result   []json.RawMessage `json:"result,omitempty"`
	Results  []json.RawMessage `json:"results,omitempty"`
	Error    *CallError        `json:"error,omitempty"`
}

func (r CallResult) OK() bool {
	return r.Error == nil
}

// CameraCallCommand asks for one call through the controller. It is parsed
// from the MQTT call topic; Args holds the raw JSON payload.
type CameraCallCommand struct {
	ActorRequestMixIn
	Endpoint string
	Method   string
	Args     json.RawMessage
}

type CameraCallCommandResponse struct {
	ActorResponseMixIn
	Result CallResult
}
