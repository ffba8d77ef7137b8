package actor

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	adactor "github.com/berfenger/sonycam2mqtt/internal/adapter/actor"
	"github.com/berfenger/sonycam2mqtt/internal/core/domain"
	"github.com/berfenger/sonycam2mqtt/internal/util"
	"github.com/berfenger/sonycam2mqtt/internal/util/actorutil"
	"github.com/berfenger/sonycam2mqtt/pkg/scalarweb"
	"github.com/berfenger/sonycam2mqtt/pkg/ssdp"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeController struct {
	mu       sync.Mutex
	selected *ssdp.Advertisement
	calls    []string
	polls    int
}

func (c *fakeController) ListDevices() []ssdp.Advertisement {
	return nil
}

func (c *fakeController) RefreshDevices(ctx context.Context) ([]ssdp.Advertisement, error) {
	return nil, nil
}

func (c *fakeController) SelectDevice(ctx context.Context, id string) error {
	return domain.ErrDeviceNotFound
}

func (c *fakeController) SelectedDevice() (ssdp.Advertisement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected == nil {
		return ssdp.Advertisement{}, false
	}
	return *c.selected, true
}

func (c *fakeController) GetSchema() (*scalarweb.Schema, error) {
	return nil, domain.ErrNoDeviceSelected
}

func (c *fakeController) Call(ctx context.Context, endpoint, method string, args scalarweb.Args) domain.CallResult {
	c.mu.Lock()
	c.calls = append(c.calls, endpoint+"/"+method)
	c.mu.Unlock()
	if method == "actTakePicture" {
		return domain.CallResult{
			Endpoint: endpoint,
			Method:   method,
			Error:    &domain.CallError{Kind: domain.CALL_ERROR_PROTOCOL, Code: scalarweb.ERROR_CODE_NOT_AVAILABLE_NOW, Message: "Not Available Now"},
		}
	}
	return domain.CallResult{
		Endpoint: endpoint,
		Method:   method,
		Result:   []json.RawMessage{json.RawMessage(`0`)},
	}
}

func (c *fakeController) PollState(ctx context.Context) (*domain.CameraState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.polls++
	if c.selected == nil {
		return nil, domain.ErrNoDeviceSelected
	}
	return &domain.CameraState{Status: domain.CAMERA_STATUS_IDLE, ShootMode: "still"}, nil
}

func (c *fakeController) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func spawnTestMaster(t *testing.T, controller *fakeController, haDiscovery bool) (*actor.ActorSystem, *actor.PID, chan domain.PublishMessageRequest) {
	cfg := util.LoadTestConfig()
	cfg.MQTT.HADiscoveryEnable = haDiscovery
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	sink := make(chan domain.PublishMessageRequest, 64)

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterOfPuppetsActor(cfg, controller, func(es *eventstream.EventStream) *adactor.MQTTActor {
			return adactor.NewTestMQTTActor(&cfg, es, sink, logger)
		}, logger)
	})
	pid, err := as.Root.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = as.Root.StopFuture(pid).Wait()
		as.Shutdown()
	})
	return as, pid, sink
}

// awaitTopic drains sink until a publish on topic shows up.
func awaitTopic(t *testing.T, sink <-chan domain.PublishMessageRequest, topic string) domain.PublishMessageRequest {
	deadline := time.After(3 * time.Second)
	for {
		select {
		case msg := <-sink:
			if msg.Topic == topic {
				return msg
			}
		case <-deadline:
			require.FailNow(t, "no publish on topic", topic)
			return domain.PublishMessageRequest{}
		}
	}
}

func TestMasterActor(t *testing.T) {

	assert := assert.New(t)

	controller := &fakeController{selected: &ssdp.Advertisement{ID: "cam-1", FriendlyName: "HDR-AS50"}}
	as, pid, sink := spawnTestMaster(t, controller, false)

	res, err := as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, 5*time.Second).Result()
	require.NoError(t, err)
	healthResp, ok := res.(domain.ActorHealthResponse)
	require.True(t, ok)
	assert.True(healthResp.Healthy, "healthy is true")
	assert.Equal("cam-1", healthResp.State)

	// the poller publishes the first snapshot right away
	msg := awaitTopic(t, sink, "sonycam/sensor/camera_status/state")
	assert.Equal(domain.CAMERA_STATUS_IDLE, msg.Payload)

	res, err = as.Root.RequestFuture(pid, domain.GetCameraStateRequest{}, 2*time.Second).Result()
	require.NoError(t, err)
	stateResp := res.(domain.GetCameraStateResponse)
	require.NoError(t, stateResp.GetResponseError())
	assert.Equal("still", stateResp.State.ShootMode)
}

func TestMasterActorCallCommand(t *testing.T) {

	assert := assert.New(t)

	controller := &fakeController{selected: &ssdp.Advertisement{ID: "cam-1"}}
	as, pid, sink := spawnTestMaster(t, controller, false)

	res, err := as.Root.RequestFuture(pid, domain.CameraCallCommand{
		Endpoint: "camera",
		Method:   "actZoom",
		Args:     json.RawMessage(`["in","1shot"]`),
	}, 2*time.Second).Result()
	require.NoError(t, err)
	callResp := res.(domain.CameraCallCommandResponse)
	assert.True(callResp.Result.OK())

	msg := awaitTopic(t, sink, "sonycam/call/camera/actZoom/result")
	assert.JSONEq(`{"endpoint":"camera","method":"actZoom","result":[0]}`, msg.Payload)

	// fire and forget, as sent by the MQTT actor
	as.Root.Send(pid, domain.CameraCallCommand{Endpoint: "camera", Method: "actTakePicture"})
	msg = awaitTopic(t, sink, "sonycam/call/camera/actTakePicture/result")
	assert.Contains(msg.Payload, `"kind":"protocol"`)

	// malformed params never reach the controller
	before := controller.callCount()
	res, err = as.Root.RequestFuture(pid, domain.CameraCallCommand{
		Endpoint: "camera",
		Method:   "setShootMode",
		Args:     json.RawMessage(`"movie"`),
	}, 2*time.Second).Result()
	require.NoError(t, err)
	callResp = res.(domain.CameraCallCommandResponse)
	require.NotNil(t, callResp.Result.Error)
	assert.Equal(domain.CALL_ERROR_CONTRACT, callResp.Result.Error.Kind)
	assert.Equal(before, controller.callCount())
}

func TestMasterActorNoDevice(t *testing.T) {

	controller := &fakeController{}
	as, pid, _ := spawnTestMaster(t, controller, false)

	res, err := as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, 5*time.Second).Result()
	require.NoError(t, err)
	healthResp := res.(domain.ActorHealthResponse)
	assert.True(t, healthResp.Healthy)
	assert.Equal(t, "no_device", healthResp.State)

	res, err = as.Root.RequestFuture(pid, domain.GetCameraStateRequest{}, 2*time.Second).Result()
	require.NoError(t, err)
	assert.ErrorIs(t, res.(domain.GetCameraStateResponse).GetResponseError(), domain.ErrNoDeviceSelected)
}

func TestMasterActorHADiscovery(t *testing.T) {

	assert := assert.New(t)

	controller := &fakeController{selected: &ssdp.Advertisement{ID: "cam-1", FriendlyName: "HDR-AS50"}}
	as, pid, sink := spawnTestMaster(t, controller, true)

	camera := domain.CameraDevice("cam-1", "HDR-AS50", "", "")
	buttonTopic := "homeassistant/button/" + camera.Id + "/" + domain.BUTTON_ID_TAKE_PICTURE + "/config"
	msg := awaitTopic(t, sink, buttonTopic)
	assert.True(msg.Retain)

	// same device, nothing new
	as.Root.Send(pid, domain.RefreshDiscoveryRequest{})
	time.Sleep(200 * time.Millisecond)
	for len(sink) > 0 {
		msg := <-sink
		assert.NotEqual(buttonTopic, msg.Topic)
	}
}
