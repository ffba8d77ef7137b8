package actor

import (
	"context"
	"time"

	"github.com/berfenger/sonycam2mqtt/internal/config"
	"github.com/berfenger/sonycam2mqtt/internal/core/domain"
	"github.com/berfenger/sonycam2mqtt/internal/core/port"
	"github.com/berfenger/sonycam2mqtt/internal/metrics"
	. "github.com/berfenger/sonycam2mqtt/internal/util/actorutil"
	"github.com/berfenger/sonycam2mqtt/pkg/scalarweb"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// SessionActor is the pacing guard of one device session. Calls are queued
// in arrival order; one is on the wire at a time and the next one leaves no
// sooner than minInterval after the previous one completed.
type SessionActor struct {
	ActorWithStates
	deviceID       string
	caller         scalarweb.Caller
	scheduler      *scheduler.TimerScheduler
	queue          []queuedCall
	inFlight       *queuedCall
	closers        []*actor.PID
	minInterval    time.Duration
	requestTimeout time.Duration
	lastDone       time.Time
	clock          clock.PassiveClock
	metrics        *metrics.Metrics

	logger *zap.Logger
}

type queuedCall struct {
	req     domain.DeviceCallRequest
	replyTo *actor.PID
}

type deviceCallDone struct {
	resp    domain.DeviceCallResponse
	replyTo *actor.PID
}

type pacingTick struct {
}

type SessionActorOption func(*SessionActor)

func WithSessionClock(c clock.PassiveClock) SessionActorOption {
	return func(a *SessionActor) {
		a.clock = c
	}
}

func WithSessionMetrics(m *metrics.Metrics) SessionActorOption {
	return func(a *SessionActor) {
		a.metrics = m
	}
}

func NewSessionActor(deviceID string, caller scalarweb.Caller, cfg config.DeviceConfig, logger *zap.Logger, opts ...SessionActorOption) *SessionActor {
	act := &SessionActor{
		deviceID:       deviceID,
		caller:         caller,
		minInterval:    cfg.MinCallInterval(),
		requestTimeout: cfg.RequestTimeout(),
		clock:          clock.RealClock{},
		logger:         ActorLogger(domain.ACTOR_ID_SESSION, logger).With(zap.String("device", deviceID)),
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	for _, opt := range opts {
		opt(act)
	}
	act.Become(SessionIdleState{
		actor: act,
	})
	return act
}

// SessionGuardSpawner spawns one SessionActor per device session under root.
func SessionGuardSpawner(root *actor.RootContext, cfg config.DeviceConfig, m *metrics.Metrics, logger *zap.Logger) port.GuardSpawner {
	return func(deviceID string, caller scalarweb.Caller) (*actor.PID, error) {
		props := actor.PropsFromProducer(func() actor.Actor {
			return NewSessionActor(deviceID, caller, cfg, logger, WithSessionMetrics(m))
		})
		return root.SpawnPrefix(props, domain.ACTOR_ID_SESSION), nil
	}
}

func (state *SessionActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

func (a *SessionActor) enqueue(ctx actor.Context, msg domain.DeviceCallRequest) {
	a.queue = append(a.queue, queuedCall{
		req:     msg,
		replyTo: ForRequest(msg).ReplyTo(ctx),
	})
	a.metrics.SetQueueDepth(a.deviceID, len(a.queue))
}

// dispatch starts the oldest live call, or arms the pacing timer when the
// spacing since the last completion has not elapsed yet.
func (a *SessionActor) dispatch(ctx actor.Context) {
	for len(a.queue) > 0 {
		next := a.queue[0]
		if !next.req.Deadline.IsZero() && a.clock.Now().After(next.req.Deadline) {
			a.queue = a.queue[1:]
			a.logger.Debug("session: dropping expired call", zap.String("method", next.req.Request.Method))
			a.metrics.Expired()
			ctx.Send(next.replyTo, domain.DeviceCallResponse{
				ActorResponseMixIn: domain.ResponseError(domain.ErrCallExpired),
			})
			continue
		}
		if !a.lastDone.IsZero() {
			if wait := a.minInterval - a.clock.Since(a.lastDone); wait > 0 {
				a.logger.Debug("session: call deferred", zap.String("method", next.req.Request.Method), zap.Duration("wait", wait))
				a.metrics.Deferred()
				a.scheduler.RequestOnce(wait, ctx.Self(), pacingTick{})
				a.BecomeStacked(SessionPacingState{
					actor: a,
				})
				return
			}
		}
		a.queue = a.queue[1:]
		a.metrics.SetQueueDepth(a.deviceID, len(a.queue))
		a.start(ctx, next)
		a.BecomeStacked(SessionWaitingDeviceState{
			actor: a,
		})
		return
	}
	a.metrics.SetQueueDepth(a.deviceID, 0)
}

func (a *SessionActor) start(ctx actor.Context, call queuedCall) {
	a.inFlight = &call
	caller := a.caller
	timeout := a.requestTimeout
	replyTo := call.replyTo
	endpoint := call.req.Endpoint
	req := call.req.Request
	a.logger.Debug("session: call", zap.String("endpoint", endpoint.Name), zap.String("method", req.Method))

	NewBackgroundTask(ctx, func() (*deviceCallDone, error) {
		callCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		res, err := caller.Call(callCtx, endpoint, req)
		return &deviceCallDone{
			resp: domain.DeviceCallResponse{
				ActorResponseMixIn: domain.ResponseError(err),
				Result:             res,
			},
			replyTo: replyTo,
		}, nil
	}).Recover(func(err error) deviceCallDone {
		return deviceCallDone{
			resp: domain.DeviceCallResponse{
				ActorResponseMixIn: domain.ResponseError(err),
			},
			replyTo: replyTo,
		}
	}).PipeTo(ctx.Self())
}

func (a *SessionActor) completed(ctx actor.Context, msg deviceCallDone) {
	if msg.resp.HasResponseError() {
		a.logger.Debug("session: call failed", zap.Error(msg.resp.GetResponseError()))
	}
	ctx.Send(msg.replyTo, msg.resp)
	a.inFlight = nil
	a.lastDone = a.clock.Now()
}

// closeQueue answers every pending caller, the in-flight one included.
func (a *SessionActor) closeQueue(ctx actor.Context) {
	if a.inFlight != nil {
		ctx.Send(a.inFlight.replyTo, sessionClosed())
		a.inFlight = nil
	}
	a.failQueued(ctx)
}

func (a *SessionActor) failQueued(ctx actor.Context) {
	for _, call := range a.queue {
		ctx.Send(call.replyTo, sessionClosed())
	}
	if len(a.queue) > 0 {
		a.logger.Info("session: closed with queued calls", zap.Int("queued", len(a.queue)))
	}
	a.queue = nil
	a.metrics.SetQueueDepth(a.deviceID, 0)
}

// drain fails the queue and answers the close request once the device is
// done with the call on the wire.
func (a *SessionActor) drain(ctx actor.Context, msg domain.CloseSessionRequest) {
	a.failQueued(ctx)
	a.closers = append(a.closers, ForRequest(msg).ReplyTo(ctx))
	if a.inFlight != nil {
		a.logger.Debug("session: waiting for in-flight call before closing", zap.String("method", a.inFlight.req.Request.Method))
		a.Become(SessionDrainingState{
			actor: a,
		})
		return
	}
	a.closed(ctx)
}

func (a *SessionActor) closed(ctx actor.Context) {
	for _, pid := range a.closers {
		if pid != nil {
			ctx.Send(pid, domain.CloseSessionResponse{})
		}
	}
	a.closers = nil
	a.Become(SessionClosedState{
		actor: a,
	})
}

func (a *SessionActor) reject(ctx actor.Context, msg domain.DeviceCallRequest) {
	ctx.Send(ForRequest(msg).ReplyTo(ctx), sessionClosed())
}

func sessionClosed() domain.DeviceCallResponse {
	return domain.DeviceCallResponse{
		ActorResponseMixIn: domain.ResponseError(domain.ErrSessionClosed),
	}
}

func (a *SessionActor) health(ctx actor.Context) {
	ctx.Respond(domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_SESSION,
		Healthy: true,
		State:   a.StateName(),
	})
}

// Idle state

type SessionIdleState struct {
	ActorState
	actor *SessionActor
}

func (state SessionIdleState) Name() string {
	return "idle"
}

func (state SessionIdleState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("session@idle started")
		state.actor.scheduler = scheduler.NewTimerScheduler(ctx)
	case domain.DeviceCallRequest:
		state.actor.enqueue(ctx, msg)
		state.actor.dispatch(ctx)
	case domain.CloseSessionRequest:
		state.actor.drain(ctx, msg)
	case domain.ActorHealthRequest:
		state.actor.health(ctx)
	case *actor.Stopping:
		state.actor.closeQueue(ctx)
	case *actor.Stopped, *actor.Restarting:
	default:
		state.actor.logger.Debug("session@idle: recv", TypeName(msg))
	}
}

// Waiting device state: one call is on the wire.

type SessionWaitingDeviceState struct {
	ActorState
	actor *SessionActor
}

func (state SessionWaitingDeviceState) Name() string {
	return "busy"
}

func (state SessionWaitingDeviceState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.DeviceCallRequest:
		state.actor.enqueue(ctx, msg)
	case deviceCallDone:
		state.actor.completed(ctx, msg)
		state.actor.UnbecomeStacked()
		state.actor.dispatch(ctx)
	case domain.CloseSessionRequest:
		state.actor.drain(ctx, msg)
	case domain.ActorHealthRequest:
		state.actor.health(ctx)
	case *actor.Stopping:
		state.actor.closeQueue(ctx)
	case *actor.Stopped, *actor.Restarting:
	default:
		state.actor.logger.Debug("session@busy: recv", TypeName(msg))
	}
}

// Pacing state: the next call waits for the minimum spacing.

type SessionPacingState struct {
	ActorState
	actor *SessionActor
}

func (state SessionPacingState) Name() string {
	return "pacing"
}

func (state SessionPacingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.DeviceCallRequest:
		state.actor.enqueue(ctx, msg)
	case pacingTick:
		state.actor.UnbecomeStacked()
		state.actor.dispatch(ctx)
	case domain.CloseSessionRequest:
		state.actor.drain(ctx, msg)
	case domain.ActorHealthRequest:
		state.actor.health(ctx)
	case *actor.Stopping:
		state.actor.closeQueue(ctx)
	case *actor.Stopped, *actor.Restarting:
	default:
		state.actor.logger.Debug("session@pacing: recv", TypeName(msg))
	}
}

// Draining state: closing, the last call is still on the wire.

type SessionDrainingState struct {
	ActorState
	actor *SessionActor
}

func (state SessionDrainingState) Name() string {
	return "draining"
}

func (state SessionDrainingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.DeviceCallRequest:
		state.actor.reject(ctx, msg)
	case deviceCallDone:
		state.actor.completed(ctx, msg)
		state.actor.closed(ctx)
	case domain.CloseSessionRequest:
		state.actor.closers = append(state.actor.closers, ForRequest(msg).ReplyTo(ctx))
	case domain.ActorHealthRequest:
		state.actor.health(ctx)
	case *actor.Stopping:
		state.actor.closeQueue(ctx)
		state.actor.closed(ctx)
	case *actor.Stopped, *actor.Restarting:
	default:
		state.actor.logger.Debug("session@draining: recv", TypeName(msg))
	}
}

// Closed state

type SessionClosedState struct {
	ActorState
	actor *SessionActor
}

func (state SessionClosedState) Name() string {
	return "closed"
}

func (state SessionClosedState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.DeviceCallRequest:
		state.actor.reject(ctx, msg)
	case domain.CloseSessionRequest:
		ForRequest(msg).Respond(ctx, domain.CloseSessionResponse{})
	case domain.ActorHealthRequest:
		state.actor.health(ctx)
	case *actor.Stopping, *actor.Stopped, *actor.Restarting:
	default:
		state.actor.logger.Debug("session@closed: recv", TypeName(msg))
	}
}
