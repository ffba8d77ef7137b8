package actor

import (
	"testing"
	"time"

	"github.com/berfenger/sonycam2mqtt/internal/core/domain"
	"github.com/berfenger/sonycam2mqtt/internal/util"
	"github.com/berfenger/sonycam2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func receivePublish(t *testing.T, sink <-chan domain.PublishMessageRequest) domain.PublishMessageRequest {
	select {
	case msg := <-sink:
		return msg
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no publish received")
	}
	return domain.PublishMessageRequest{}
}

func TestMQTTActor(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()

	es := &eventstream.EventStream{}
	sink := make(chan domain.PublishMessageRequest, 16)

	props := actor.PropsFromProducer(func() actor.Actor { return NewTestMQTTActor(&cfg, es, sink, logger) })
	pid := as.Root.Spawn(props)

	result, err := as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	require.NoError(t, err)
	resp, ok := result.(domain.ActorHealthResponse)
	require.True(t, ok)
	assert.True(resp.Healthy)

	es.Publish(domain.TextSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{
			Id: domain.SENSOR_ID_CAMERA_STATUS,
		},
		Value: "IDLE",
	})
	msg := receivePublish(t, sink)
	assert.Equal("sonycam/sensor/camera_status/state", msg.Topic)
	assert.Equal("IDLE", msg.Payload)

	es.Publish(domain.FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{
			Id: domain.SENSOR_ID_BATTERY_LEVEL,
		},
		Value: 66.66,
	})
	msg = receivePublish(t, sink)
	assert.Equal("sonycam/sensor/battery_level/state", msg.Topic)
	assert.Equal("67", msg.Payload)

	es.Publish(domain.BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{
			Id: domain.SENSOR_ID_LIVEVIEW,
		},
		Value: true,
	})
	msg = receivePublish(t, sink)
	assert.Equal("sonycam/binary_sensor/liveview/state", msg.Topic)
	assert.Equal("on", msg.Payload)

	es.Publish(domain.CallResultEvent{
		Result: domain.CallResult{
			Endpoint: "camera",
			Method:   "actTakePicture",
			Error:    &domain.CallError{Kind: domain.CALL_ERROR_PROTOCOL, Code: 40401, Message: "Not Available Now"},
		},
	})
	msg = receivePublish(t, sink)
	assert.Equal("sonycam/call/camera/actTakePicture/result", msg.Topic)
	assert.JSONEq(`{"endpoint":"camera","method":"actTakePicture","error":{"kind":"protocol","code":40401,"message":"Not Available Now"}}`, msg.Payload)

	// not a sensor event
	es.Publish("lorem")

	require.NoError(t, as.Root.StopFuture(pid).Wait())

	es.Publish(domain.TextSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{
			Id: domain.SENSOR_ID_CAMERA_STATUS,
		},
		Value: "NotReady",
	})
	assert.EqualValues(0, es.Length())
	assert.Empty(sink)
}

func TestMQTTActorDiscovery(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	logger := zap.NewNop()
	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()

	sink := make(chan domain.PublishMessageRequest, 16)
	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor { return NewTestMQTTActor(&cfg, nil, sink, logger) }))

	camera := domain.CameraDevice("uuid:cam-1", "HDR-AS50", "HDR-AS50", "1.0")
	as.Root.Send(pid, domain.PublishDiscoveryRequest{
		Sensors: domain.BridgeSensors(domain.BridgeDevice(cfg.MQTT.BaseTopic)),
		Buttons: domain.CameraButtons(camera)[:1],
	})

	msg := receivePublish(t, sink)
	assert.Contains(msg.Topic, "homeassistant/binary_sensor/")
	assert.True(msg.Retain)
	msg = receivePublish(t, sink)
	assert.Equal("homeassistant/button/"+camera.Id+"/"+domain.BUTTON_ID_TAKE_PICTURE+"/config", msg.Topic)
}
