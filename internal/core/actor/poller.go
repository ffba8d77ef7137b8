package actor

import (
	"context"
	"errors"
	"time"

	"github.com/berfenger/sonycam2mqtt/internal/config"
	"github.com/berfenger/sonycam2mqtt/internal/core/domain"
	"github.com/berfenger/sonycam2mqtt/internal/core/events"
	"github.com/berfenger/sonycam2mqtt/internal/core/port"
	. "github.com/berfenger/sonycam2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// PollerActor reads the camera state every poll interval and publishes it
// as sensor events. A zero interval disables polling; the last snapshot is
// still served on GetCameraStateRequest.
type PollerActor struct {
	behavior  actor.Behavior
	stash     *Stash
	scheduler *scheduler.TimerScheduler

	controller   port.CameraController
	interval     time.Duration
	timeout      time.Duration
	eventStream  *eventstream.EventStream
	lastState    *domain.CameraState
	failedPolls  uint
	lastPollFail error

	logger *zap.Logger
}

type pollTick struct {
}

type pollDone struct {
	state *domain.CameraState
	err   error
}

func NewPollerActor(config *config.Config, controller port.CameraController, eventStream *eventstream.EventStream, logger *zap.Logger) *PollerActor {
	act := &PollerActor{
		controller:  controller,
		interval:    config.MonitorConfig.PollInterval(),
		timeout:     config.Device.QueueTimeout(),
		behavior:    actor.NewBehavior(),
		stash:       &Stash{},
		logger:      ActorLogger(domain.ACTOR_ID_POLLER, logger),
		eventStream: eventStream,
	}
	act.behavior.Become(act.DefaultReceive)
	return act
}

func (state *PollerActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *PollerActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("poller@default started")
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		if state.interval > 0 {
			ctx.Send(ctx.Self(), pollTick{})
		}
	case domain.ActorHealthRequest:
		state.logger.Debug("poller@default ActorHealthRequest")
		ctx.Respond(state.health("idle"))
	case domain.GetCameraStateRequest:
		state.respondState(ctx, msg)
	case pollTick:
		state.logger.Debug("poller@default tick")
		state.poll(ctx)
		state.behavior.BecomeStacked(state.PollingReceive)
	case *actor.Stopping, *actor.Stopped, *actor.Restarting:
	default:
		state.logger.Debug("poller@default recv", TypeName(msg))
	}
}

func (state *PollerActor) PollingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(state.health("polling"))
	case pollDone:
		state.handlePoll(msg)
		// schedule next tick
		state.scheduler.RequestOnce(state.interval, ctx.Self(), pollTick{})
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case *actor.Stopping, *actor.Stopped, *actor.Restarting:
	default:
		state.logger.Debug("poller@polling: stash", TypeName(msg))
		state.stash.Stash(ctx, msg)
	}
}

func (state *PollerActor) poll(ctx actor.Context) {
	controller := state.controller
	timeout := state.timeout
	NewBackgroundTask(ctx, func() (*pollDone, error) {
		pollCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		cs, err := controller.PollState(pollCtx)
		return &pollDone{state: cs, err: err}, nil
	}).Recover(func(err error) pollDone {
		return pollDone{err: err}
	}).PipeTo(ctx.Self())
}

func (state *PollerActor) handlePoll(msg pollDone) {
	if msg.err != nil {
		state.failedPolls++
		state.lastPollFail = msg.err
		if errors.Is(msg.err, domain.ErrNoDeviceSelected) {
			state.logger.Debug("poller@polling no device selected")
		} else {
			state.logger.Warn("poller@polling camera state unavailable", zap.Uint("failed", state.failedPolls), zap.Error(msg.err))
		}
		return
	}
	state.failedPolls = 0
	state.lastPollFail = nil
	state.lastState = msg.state
	for _, ev := range events.CameraStateToUpdateEvents(msg.state) {
		state.eventStream.Publish(ev)
	}
}

func (state *PollerActor) respondState(ctx actor.Context, msg domain.GetCameraStateRequest) {
	resp := domain.GetCameraStateResponse{State: state.lastState}
	if state.lastState == nil {
		err := state.lastPollFail
		if err == nil {
			err = domain.ErrNoDeviceSelected
		}
		resp.ActorResponseMixIn = domain.ResponseError(err)
	}
	ForRequest(msg).Respond(ctx, resp)
}

func (state *PollerActor) health(name string) domain.ActorHealthResponse {
	return domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_POLLER,
		Healthy: true,
		State:   name,
	}
}
