package actor

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/berfenger/sonycam2mqtt/internal/config"
	"github.com/berfenger/sonycam2mqtt/internal/core/domain"
	"github.com/berfenger/sonycam2mqtt/internal/mqtt"
	"github.com/berfenger/sonycam2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

type MQTTActor struct {
	config       *config.Config
	behavior     actor.Behavior
	stash        *actorutil.Stash
	client       *mqtt.MQTTClient
	eventStream  *eventstream.EventStream
	subscription *eventstream.Subscription
	logger       *zap.Logger
}

type MQTTConnected struct {
}

type MQTTSubscribed struct {
}

type MQTTConnectionLost struct {
	Error error
}

type publishResult struct {
	ReplyTo *actor.PID
	Error   error
}

type rawMessage struct {
	topic   string
	message string
	retain  bool
}

// NewMQTTActor bridges the broker and the actor system. Sensor events on
// eventStream are published to their state topics; call commands read from
// <base>/call/<endpoint>/<method> go to the parent as CameraCallCommand.
func NewMQTTActor(config *config.Config, eventStream *eventstream.EventStream, logger *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		config:      config,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		eventStream: eventStream,
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MQTTActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MQTTActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("mqtt@starting started")

		// create MQTT client
		state.client = mqtt.CreateMQTTClient(state.config, mqtt.OptsFromConfig(state.config), func(_ pahomqtt.Client) {
		}, func(_ pahomqtt.Client, err error) {
			ctx.Send(ctx.Self(), MQTTConnectionLost{Error: err})
		})

		// connect to MQTT server
		state.client.Connect(func(err error) {
			if err != nil {
				ctx.Send(ctx.Self(), MQTTConnectionLost{Error: err})
			} else {
				ctx.Send(ctx.Self(), MQTTConnected{})
			}
		}, 10*time.Second)

	case MQTTConnected:
		state.logger.Debug("mqtt@starting connected")

		state.client.Publish(state.client.BridgeStateTopic(), mqtt.MQTT_PAYLOAD_ONLINE, 0, true, func(error) {}, 500*time.Millisecond)

		// subscribe to MQTT call topics
		state.client.SubscribeToCallTopic(func(c pahomqtt.Client, m pahomqtt.Message) {
			cmd, err := state.client.ParseCallCommand(m)
			if err != nil {
				state.logger.Warn("mqtt: ignoring call command", zap.String("topic", m.Topic()), zap.Error(err))
				return
			}
			ctx.Send(ctx.Self(), domain.CameraCallCommand{
				Endpoint: cmd.Endpoint,
				Method:   cmd.Method,
				Args:     cmd.Payload,
			})
		}, func(err error) {
			if err != nil {
				ctx.Send(ctx.Self(), MQTTConnectionLost{Error: err})
			} else {
				ctx.Send(ctx.Self(), MQTTSubscribed{})
			}
		}, 1*time.Second)
	case MQTTSubscribed:
		// init completed, transition to default state
		state.logger.Debug("mqtt@starting subscribed")
		state.subscribeEvents(ctx)
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case MQTTConnectionLost:
		// if connection lost, stop actor and let supervisor decide
		state.logger.Error("mqtt@starting connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	case *actor.Restarting, *actor.Stopping:
		state.stop()
	default:
		state.logger.Debug("mqtt@starting stash", actorutil.TypeName(msg))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Restarting, *actor.Stopping:
		state.stop()
	case domain.ActorHealthRequest:
		state.logger.Debug("mqtt@default ActorHealthRequest")
		// respond health check request
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: true,
			State:   "idle",
		})
	case domain.CameraCallCommand:
		// route command to parent
		state.logger.Debug("mqtt@default CameraCallCommand", zap.String("endpoint", msg.Endpoint), zap.String("method", msg.Method))
		ctx.Send(ctx.Parent(), msg)
	case domain.PublishMessageRequest:
		state.logger.Debug("mqtt@default PublishMessageRequest", zap.String("topic", msg.Topic))
		state.publishMessage(ctx, msg.Topic, msg.Payload, msg.Retain, actorutil.ForRequest(msg).ReplyTo(ctx))
	case domain.PublishSensorUpdateRequest:
		// receive message from event bus and publish to MQTT if needed
		state.logger.Debug("mqtt@default PublishSensorUpdateRequest", actorutil.TypeName(msg.Event))
		state.publishSensorValue(ctx, msg.Event, msg.Retain, actorutil.ForRequest(msg).ReplyTo(ctx))
	case domain.PublishDiscoveryRequest:
		state.logger.Debug("mqtt@default PublishHADiscovery", zap.Int("sensors", len(msg.Sensors)), zap.Int("buttons", len(msg.Buttons)))
		err := state.PublishHomeAssistantDiscovery(msg.Sensors, msg.Buttons)
		if err != nil {
			state.logger.Error("mqtt@default PublishHADiscovery error", zap.Error(err))
		}
		if replyTo := actorutil.ForRequest(msg).ReplyTo(ctx); replyTo != nil {
			ctx.Send(replyTo, domain.PublishDiscoveryResponse{
				ActorResponseMixIn: domain.ResponseError(err),
			})
		}
	case MQTTConnectionLost:
		// if connection lost, stop actor and let supervisor decide
		state.logger.Error("mqtt@default connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	default:
		state.logger.Debug("mqtt@default recv", actorutil.TypeName(msg))
	}
}

// subscribeEvents forwards every sensor event on the stream to this actor.
func (state *MQTTActor) subscribeEvents(ctx actor.Context) {
	if state.eventStream == nil || state.subscription != nil {
		return
	}
	root := ctx.ActorSystem().Root
	self := ctx.Self()
	state.subscription = state.eventStream.Subscribe(func(evt any) {
		if ev, ok := evt.(domain.SensorUpdateEvent); ok {
			root.Send(self, domain.PublishSensorUpdateRequest{Event: ev})
		}
	})
}

func (state *MQTTActor) unsubscribeEvents() {
	if state.eventStream != nil && state.subscription != nil {
		state.eventStream.Unsubscribe(state.subscription)
		state.subscription = nil
	}
}

func (state *MQTTActor) event2MQTTMessage(event any) *rawMessage {
	switch msg := event.(type) {
	case domain.FloatSensorUpdateEvent:
		return &rawMessage{
			topic:   state.client.SensorStateTopic(msg.Id),
			message: fmt.Sprintf(fmt.Sprintf("%%.%df", msg.Decimals), msg.Value),
		}
	case domain.BinarySensorUpdateEvent:
		return &rawMessage{
			topic:   state.client.BinarySensorStateTopic(msg.Id),
			message: bool2MQTTPayload(msg.Value),
		}
	case domain.TextSensorUpdateEvent:
		return &rawMessage{
			topic:   state.client.SensorStateTopic(msg.Id),
			message: msg.Value,
		}
	case domain.BridgeStateUpdateEvent:
		var stringMessage string
		if msg.Value {
			stringMessage = mqtt.MQTT_PAYLOAD_ONLINE
		} else {
			stringMessage = mqtt.MQTT_PAYLOAD_OFFLINE
		}
		return &rawMessage{
			topic:   state.client.BridgeStateTopic(),
			message: stringMessage,
			retain:  true,
		}
	case domain.CallResultEvent:
		payload, err := json.Marshal(msg.Result)
		if err != nil {
			state.logger.Error("mqtt: could not encode call result", zap.Error(err))
			return nil
		}
		return &rawMessage{
			topic:   state.client.CallResultTopic(msg.Result.Endpoint, msg.Result.Method),
			message: string(payload),
		}
	default:
		return nil
	}
}

func (state *MQTTActor) publishSensorValue(ctx actor.Context, event domain.SensorUpdateEvent, retain bool, replyTo *actor.PID) {
	msg := state.event2MQTTMessage(event)
	if msg == nil {
		if replyTo != nil {
			ctx.Send(replyTo, domain.PublishSensorUpdateResponse{})
		}
		return
	}
	state.logger.Sugar().Debugf("mqtt@publish: sensor publish %s => %s", msg.topic, msg.message)
	state.client.Publish(msg.topic, msg.message, 1, msg.retain || retain, func(err error) {
		ctx.Send(ctx.Self(), publishResult{ReplyTo: replyTo, Error: err})
	}, 5*time.Second)
	state.behavior.BecomeStacked(state.EventPublishResultReceive)
}

func (state *MQTTActor) publishMessage(ctx actor.Context, topic, payload string, retain bool, replyTo *actor.PID) {
	state.logger.Sugar().Debugf("mqtt@publish: message publish %s => %s", topic, payload)
	state.client.Publish(topic, payload, 1, retain, func(err error) {
		ctx.Send(ctx.Self(), publishResult{ReplyTo: replyTo, Error: err})
	}, 5*time.Second)
	state.behavior.BecomeStacked(state.MessagePublishResultReceive)
}

func (state *MQTTActor) MessagePublishResultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case publishResult:
		state.publishDone(ctx, msg, domain.PublishMessageResponse{
			ActorResponseMixIn: domain.ResponseError(msg.Error),
		})
	default:
		state.logger.Debug("mqtt@publishing stash", actorutil.TypeName(msg))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) EventPublishResultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case publishResult:
		state.publishDone(ctx, msg, domain.PublishSensorUpdateResponse{
			ActorResponseMixIn: domain.ResponseError(msg.Error),
		})
	default:
		state.logger.Debug("mqtt@publishing stash", actorutil.TypeName(msg))
		state.stash.Stash(ctx, msg)
	}
}

// publishDone logs the outcome, answers the requester if any and returns to
// the default state.
func (state *MQTTActor) publishDone(ctx actor.Context, msg publishResult, resp any) {
	if msg.Error != nil {
		state.logger.Error("mqtt@publishing could not publish a message", zap.Error(msg.Error))
	}
	if msg.ReplyTo != nil {
		ctx.Send(msg.ReplyTo, resp)
	}
	state.behavior.UnbecomeStacked()
	state.stash.UnstashOldest(ctx)
}

func (state *MQTTActor) PublishHomeAssistantDiscovery(sensors []domain.GenericSensor, buttons []domain.GenericButton) error {
	for i := range sensors {
		msg := mqtt.GenericSensorToHADiscoveryMessage(state.client, sensors[i])
		payload, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		topic := state.client.HADiscoverySensorTopic(sensors[i])
		state.client.Publish(topic, payload, 0, true, func(error) {}, 1*time.Second)
	}
	for i := range buttons {
		msg := mqtt.GenericButtonToHADiscoveryMessage(state.client, buttons[i])
		payload, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		topic := state.client.HADiscoveryButtonTopic(buttons[i])
		state.client.Publish(topic, payload, 0, true, func(error) {}, 1*time.Second)
	}
	return nil
}

func (state *MQTTActor) stop() {
	state.unsubscribeEvents()
	if state.client == nil {
		return
	}
	state.logger.Debug("mqtt: disconnect")
	state.client.Publish(state.client.BridgeStateTopic(), mqtt.MQTT_PAYLOAD_OFFLINE, 0, true, func(error) {}, 500*time.Millisecond)
	state.client.Disconnect(500 * time.Millisecond)
}

func bool2MQTTPayload(value bool) string {
	if value {
		return mqtt.MQTT_PAYLOAD_ON
	} else {
		return mqtt.MQTT_PAYLOAD_OFF
	}
}

// NewTestMQTTActor never connects. Every publish request is answered as
// successful and, when sink is set, copied to it with the topic and
// payload it would have used.
func NewTestMQTTActor(config *config.Config, eventStream *eventstream.EventStream, sink chan<- domain.PublishMessageRequest, logger *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		config:      config,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		eventStream: eventStream,
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(act.dummyReceive(sink))
	return act
}

func (state *MQTTActor) dummyReceive(sink chan<- domain.PublishMessageRequest) actor.ReceiveFunc {
	record := func(msg domain.PublishMessageRequest) {
		if sink == nil {
			return
		}
		select {
		case sink <- msg:
		default:
			state.logger.Warn("mqtt@dummy sink full, dropping", zap.String("topic", msg.Topic))
		}
	}
	return func(ctx actor.Context) {
		switch msg := ctx.Message().(type) {
		case *actor.Started:
			state.client = mqtt.CreateMQTTClient(state.config, mqtt.OptsFromConfig(state.config), nil, nil)
			state.subscribeEvents(ctx)
		case *actor.Stopping:
			state.unsubscribeEvents()
		case domain.ActorHealthRequest:
			state.logger.Debug("mqtt@dummy ActorHealthRequest")
			// respond health check request
			ctx.Respond(domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: true,
				State:   "idle",
			})
		case domain.CameraCallCommand:
			ctx.Send(ctx.Parent(), msg)
		case domain.PublishSensorUpdateRequest:
			if raw := state.event2MQTTMessage(msg.Event); raw != nil {
				record(domain.PublishMessageRequest{Topic: raw.topic, Payload: raw.message, Retain: raw.retain || msg.Retain})
			}
			if replyTo := actorutil.ForRequest(msg).ReplyTo(ctx); replyTo != nil {
				ctx.Send(replyTo, domain.PublishSensorUpdateResponse{})
			}
		case domain.PublishMessageRequest:
			record(msg)
			if replyTo := actorutil.ForRequest(msg).ReplyTo(ctx); replyTo != nil {
				ctx.Send(replyTo, domain.PublishMessageResponse{})
			}
		case domain.PublishDiscoveryRequest:
			for _, sensor := range msg.Sensors {
				record(domain.PublishMessageRequest{Topic: state.client.HADiscoverySensorTopic(sensor), Retain: true})
			}
			for _, button := range msg.Buttons {
				record(domain.PublishMessageRequest{Topic: state.client.HADiscoveryButtonTopic(button), Retain: true})
			}
		}
	}
}
