package actor

import (
	"context"
	"fmt"
	"log"
	"time"

	adactor "github.com/berfenger/sonycam2mqtt/internal/adapter/actor"
	"github.com/berfenger/sonycam2mqtt/internal/config"
	"github.com/berfenger/sonycam2mqtt/internal/core/domain"
	"github.com/berfenger/sonycam2mqtt/internal/core/events"
	"github.com/berfenger/sonycam2mqtt/internal/core/port"
	. "github.com/berfenger/sonycam2mqtt/internal/util/actorutil"
	"github.com/berfenger/sonycam2mqtt/pkg/scalarweb"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

type MQTTActorProvider func(*eventstream.EventStream) *adactor.MQTTActor

// MasterOfPuppetsActor owns the event stream and the poller, MQTT and Home
// Assistant discovery children. Call commands from MQTT run against the
// controller and their results go back out on the event stream.
type MasterOfPuppetsActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *Stash

	controller         port.CameraController
	currentHealthCheck healthCheckResult
	eventStream        *eventstream.EventStream
	mqttActor          *actor.PID
	pollerActor        *actor.PID
	haDiscoveryActor   *actor.PID
	mqttActorProvider  MQTTActorProvider
	logger             *zap.Logger
}

type healthCheckResult struct {
	healthy        map[string]bool
	expected       int
	checksReceived int
	respondTo      *actor.PID
}

type callDone struct {
	result  domain.CallResult
	replyTo *actor.PID
}

// NewMasterOfPuppetsActor builds the master. A nil mqttActorProvider runs
// without MQTT and without discovery.
func NewMasterOfPuppetsActor(config config.Config, controller port.CameraController, mqttActorProvider MQTTActorProvider, logger *zap.Logger) *MasterOfPuppetsActor {
	act := &MasterOfPuppetsActor{
		config:            config,
		controller:        controller,
		behavior:          actor.NewBehavior(),
		stash:             &Stash{},
		logger:            ActorLogger(domain.ACTOR_ID_MASTER, logger),
		eventStream:       &eventstream.EventStream{},
		mqttActorProvider: mqttActorProvider,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterOfPuppetsActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

// EventStream carries every sensor update and call result.
func (state *MasterOfPuppetsActor) EventStream() *eventstream.EventStream {
	return state.eventStream
}

func (state *MasterOfPuppetsActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		// start MQTT child
		if state.mqttActorProvider != nil {
			mqttActorPID, err := state.startMQTTActor(ctx)
			if err != nil {
				panic(err)
			}
			state.mqttActor = mqttActorPID
		}

		// start Poller child
		pollerActorPID, err := state.startPollerActor(ctx)
		if err != nil {
			panic(err)
		}
		state.pollerActor = pollerActorPID

		// start HA Discovery
		if state.mqttActor != nil && state.config.MQTT.HADiscoveryEnable {
			haDiscPID, err := state.startHADiscoveryActor(ctx)
			if err != nil {
				panic(err)
			}
			state.haDiscoveryActor = haDiscPID
		}

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", TypeName(msg))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck = newHealthCheck(ctx.Sender())
		state.requestHealth(ctx, state.pollerActor, domain.ACTOR_ID_POLLER)
		if state.mqttActor != nil {
			state.requestHealth(ctx, state.mqttActor, domain.ACTOR_ID_MQTT)
		}

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case domain.CameraCallCommand:
		state.logger.Debug("master@default CameraCallCommand", zap.String("endpoint", msg.Endpoint), zap.String("method", msg.Method))
		state.call(ctx, msg)
	case callDone:
		state.eventStream.Publish(events.CallResultToUpdateEvent(msg.result))
		if msg.replyTo != nil {
			ctx.Send(msg.replyTo, domain.CameraCallCommandResponse{Result: msg.result})
		}
	case domain.GetCameraStateRequest:
		ctx.Forward(state.pollerActor)
	case domain.RefreshDiscoveryRequest:
		if state.haDiscoveryActor != nil {
			ctx.Send(state.haDiscoveryActor, msg)
		}
	case *actor.Terminated:
		state.logger.Error("master@default child terminated", zap.String("child", msg.Who.Id))
	default:
		state.logger.Debug("master@default recv", TypeName(msg))
	}
}

func (state *MasterOfPuppetsActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		state.respondHealth(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.checksReceived++
		state.currentHealthCheck.healthy[msg.Id] = msg.Healthy
		if state.currentHealthCheck.allReceived() {
			state.respondHealth(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	default:
		state.logger.Debug("master@healthcheck stash", TypeName(msg))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) requestHealth(ctx actor.Context, pid *actor.PID, id string) {
	state.currentHealthCheck.expected++
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(pid, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
		return domain.ActorHealthResponse{
			Id:      id,
			Healthy: false,
		}
	})
}

func (state *MasterOfPuppetsActor) respondHealth(ctx actor.Context) {
	ctx.CancelReceiveTimeout()
	deviceState := "no_device"
	if adv, ok := state.controller.SelectedDevice(); ok {
		deviceState = adv.ID
	}
	state.logger.Debug("master@healthcheck done", zap.Stringer("checks", &state.currentHealthCheck))
	state.currentHealthCheck.respond(ctx, deviceState)
	state.behavior.UnbecomeStacked()
	state.stash.UnstashAll(ctx)
}

// call runs the command off the actor. Every command publishes a result,
// parse failures included.
func (state *MasterOfPuppetsActor) call(ctx actor.Context, msg domain.CameraCallCommand) {
	controller := state.controller
	timeout := state.config.Device.QueueTimeout()
	replyTo := ForRequest(msg).ReplyTo(ctx)
	NewBackgroundTaskNoError(ctx, func() *callDone {
		args, err := scalarweb.ParseArgs(msg.Args)
		if err != nil {
			return &callDone{
				result: domain.CallResult{
					Endpoint: msg.Endpoint,
					Method:   msg.Method,
					Error:    &domain.CallError{Kind: domain.CALL_ERROR_CONTRACT, Message: err.Error()},
				},
				replyTo: replyTo,
			}
		}
		callCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return &callDone{
			result:  controller.Call(callCtx, msg.Endpoint, msg.Method, args),
			replyTo: replyTo,
		}
	}).Recover(func(err error) callDone {
		return callDone{
			result: domain.CallResult{
				Endpoint: msg.Endpoint,
				Method:   msg.Method,
				Error:    &domain.CallError{Kind: domain.CALL_ERROR_SESSION, Message: err.Error()},
			},
			replyTo: replyTo,
		}
	}).PipeTo(ctx.Self())
}

func (state *MasterOfPuppetsActor) startPollerActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(10, 10*time.Second, decider)

	pollerProps := actor.PropsFromProducer(func() actor.Actor {
		return NewPollerActor(&state.config, state.controller, state.eventStream, state.logger)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(pollerProps, domain.ACTOR_ID_POLLER)
}

func (state *MasterOfPuppetsActor) startHADiscoveryActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	haDiscProps := actor.PropsFromProducer(func() actor.Actor {
		return NewHADiscoveryActor(&state.config, state.controller, state.mqttActor, state.logger)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(haDiscProps, domain.ACTOR_ID_HA_DISCOVERY)
}

func (state *MasterOfPuppetsActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
}

func newHealthCheck(respondTo *actor.PID) healthCheckResult {
	return healthCheckResult{
		healthy:   map[string]bool{},
		respondTo: respondTo,
	}
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived >= state.expected
}

func (state *healthCheckResult) allHealthy() bool {
	if len(state.healthy) < state.expected {
		return false
	}
	for _, healthy := range state.healthy {
		if !healthy {
			return false
		}
	}
	return true
}

func (state *healthCheckResult) respond(ctx actor.Context, deviceState string) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
		State:   deviceState,
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}

func (state *healthCheckResult) String() string {
	return fmt.Sprintf("%d/%d %v", state.checksReceived, state.expected, state.healthy)
}
