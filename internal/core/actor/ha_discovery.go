package actor

import (
	"errors"
	"time"

	"github.com/berfenger/sonycam2mqtt/internal/config"
	"github.com/berfenger/sonycam2mqtt/internal/core/domain"
	"github.com/berfenger/sonycam2mqtt/internal/core/port"
	"github.com/berfenger/sonycam2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// HADiscoveryActor publishes the Home Assistant discovery documents once
// the MQTT actor is up, and again on every RefreshDiscoveryRequest.
type HADiscoveryActor struct {
	config     *config.Config
	behavior   actor.Behavior
	stash      *actorutil.Stash
	controller port.CameraController
	mqttActor  *actor.PID
	published  string

	logger *zap.Logger
}

func NewHADiscoveryActor(config *config.Config, controller port.CameraController, mqttActor *actor.PID, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:     config,
		controller: controller,
		mqttActor:  mqttActor,
		behavior:   actor.NewBehavior(),
		stash:      &actorutil.Stash{},
		logger:     actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")

		// MQTT Actor Request
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		state.behavior.Become(state.WaitingHealthyReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("hadiscovery@starting: stash", actorutil.TypeName(msg))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		if !msg.Healthy {
			panic(errors.New("MQTT Actor is not healthy"))
		}
		state.publish(ctx)
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("hadiscovery@healthcheck: stash", actorutil.TypeName(msg))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.RefreshDiscoveryRequest:
		state.logger.Debug("hadiscovery@default RefreshDiscoveryRequest")
		state.publish(ctx)
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_HA_DISCOVERY,
			Healthy: true,
			State:   "idle",
		})
	default:
		state.logger.Debug("hadiscovery@default recv", actorutil.TypeName(msg))
	}
}

// publish sends the bridge entities and, with a device selected, the camera
// sensors and buttons. An unchanged device is not published twice.
func (state *HADiscoveryActor) publish(ctx actor.Context) {
	bridgeDevice := domain.BridgeDevice(state.config.MQTT.BaseTopic)
	req := domain.PublishDiscoveryRequest{
		Sensors: domain.BridgeSensors(bridgeDevice),
	}

	adv, ok := state.controller.SelectedDevice()
	if ok {
		if adv.ID == state.published {
			state.logger.Debug("hadiscovery@publish device already published", zap.String("device", adv.ID))
			return
		}
		var apiVersion string
		if schema, err := state.controller.GetSchema(); err == nil {
			apiVersion = schema.APIVersion
		}
		cameraDevice := domain.CameraDevice(adv.ID, adv.FriendlyName, adv.ModelName, apiVersion)
		cameraDevice.ViaDevice = bridgeDevice.Id
		cameraSensors := domain.CameraSensors(cameraDevice)
		for i := range cameraSensors {
			if i > 0 {
				cameraSensors[i].Device = domain.IdDevice(cameraDevice)
			}
		}
		req.Sensors = append(req.Sensors, cameraSensors...)
		cameraButtons := domain.CameraButtons(domain.IdDevice(cameraDevice))
		req.Buttons = append(req.Buttons, cameraButtons...)
		state.published = adv.ID
	}

	state.logger.Info("hadiscovery@publish", zap.Int("sensors", len(req.Sensors)), zap.Int("buttons", len(req.Buttons)))
	ctx.Send(state.mqttActor, req)
}
