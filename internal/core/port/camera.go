package port

import (
	"context"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/berfenger/sonycam2mqtt/internal/core/domain"
	"github.com/berfenger/sonycam2mqtt/pkg/scalarweb"
	"github.com/berfenger/sonycam2mqtt/pkg/ssdp"
)

// Discoverer finds candidate devices. *ssdp.Discoverer implements it.
type Discoverer interface {
	Devices() []ssdp.Advertisement
	Discover(ctx context.Context, timeout time.Duration) ([]ssdp.Advertisement, error)
	Refresh(ctx context.Context, timeout time.Duration) ([]ssdp.Advertisement, error)
}

// GuardSpawner starts the actor that serializes and paces every call sent
// through caller for one device session.
type GuardSpawner func(deviceID string, caller scalarweb.Caller) (*actor.PID, error)

// CameraController is the surface the HTTP and MQTT fronts use. Calls never
// bypass the session cache and guard.
type CameraController interface {
	ListDevices() []ssdp.Advertisement
	RefreshDevices(ctx context.Context) ([]ssdp.Advertisement, error)
	SelectDevice(ctx context.Context, id string) error
	SelectedDevice() (ssdp.Advertisement, bool)
	GetSchema() (*scalarweb.Schema, error)
	Call(ctx context.Context, endpoint, method string, args scalarweb.Args) domain.CallResult
	PollState(ctx context.Context) (*domain.CameraState, error)
}
