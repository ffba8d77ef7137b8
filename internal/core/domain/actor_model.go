package domain

import (
	"time"

	"github.com/berfenger/sonycam2mqtt/pkg/scalarweb"
)

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_SESSION      = "session"
	ACTOR_ID_POLLER       = "poller"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
)

// DeviceCallRequest is one wire call handed to a session actor. A request
// still queued when Deadline passes is answered with ErrCallExpired and
// never sent.
type DeviceCallRequest struct {
	ActorRequestMixIn
	Endpoint scalarweb.Endpoint
	Request  scalarweb.Request
	Deadline time.Time
}

type DeviceCallResponse struct {
	ActorResponseMixIn
	Result *scalarweb.Result
}

// CloseSessionRequest asks a session actor to stop taking calls. Queued
// calls fail with ErrSessionClosed; the answer is sent once the call on the
// wire, if any, has come back from the device.
type CloseSessionRequest struct {
	ActorRequestMixIn
}

type CloseSessionResponse struct {
	ActorResponseMixIn
}

type GetCameraStateRequest struct {
	ActorRequestMixIn
}

type GetCameraStateResponse struct {
	ActorResponseMixIn
	State *CameraState
}

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors []GenericSensor
	Buttons []GenericButton
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}

// RefreshDiscoveryRequest republishes the Home Assistant discovery
// documents for the currently selected device.
type RefreshDiscoveryRequest struct {
	ActorRequestMixIn
}
