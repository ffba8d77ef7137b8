package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/berfenger/sonycam2mqtt/internal/config"
	"github.com/berfenger/sonycam2mqtt/internal/core/domain"
	"github.com/berfenger/sonycam2mqtt/internal/core/port"
	"github.com/berfenger/sonycam2mqtt/internal/metrics"
	"github.com/berfenger/sonycam2mqtt/pkg/scalarweb"
	"github.com/berfenger/sonycam2mqtt/pkg/ssdp"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/util/cache"
	"k8s.io/utils/clock"
)

var (
	ErrSessionClosed    = domain.ErrSessionClosed
	ErrCallExpired      = domain.ErrCallExpired
	ErrNoDeviceSelected = domain.ErrNoDeviceSelected
	ErrDeviceNotFound   = domain.ErrDeviceNotFound
)

// actorCaller hands every request to the session actor and waits for its
// answer. The request carries the caller's deadline so the actor can drop
// it instead of sending it late.
type actorCaller struct {
	root    *actor.RootContext
	pid     *actor.PID
	timeout time.Duration
}

func (c actorCaller) Call(ctx context.Context, endpoint scalarweb.Endpoint, req scalarweb.Request) (*scalarweb.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	res, err := c.root.RequestFuture(c.pid, domain.DeviceCallRequest{
		Endpoint: endpoint,
		Request:  req,
		Deadline: time.Now().Add(timeout),
	}, timeout).Result()
	if err != nil {
		switch {
		case errors.Is(err, actor.ErrTimeout):
			return nil, context.DeadlineExceeded
		case errors.Is(err, actor.ErrDeadLetter):
			return nil, ErrSessionClosed
		}
		return nil, err
	}
	resp, ok := res.(domain.DeviceCallResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected session answer %T", res)
	}
	if resp.HasResponseError() {
		return nil, resp.GetResponseError()
	}
	return resp.Result, nil
}

// Session is the selected device with its schema, cache and guard actor.
// Nothing in a Session outlives Close.
type Session struct {
	device  ssdp.Advertisement
	schema  *scalarweb.Schema
	desc    *scalarweb.Description
	proxy   *scalarweb.Proxy
	cache   *CallCache
	root    *actor.RootContext
	pid     *actor.PID
	metrics *metrics.Metrics
	logger  *zap.Logger

	closeTimeout time.Duration
}

func (s *Session) Device() ssdp.Advertisement {
	return s.device
}

func (s *Session) Schema() *scalarweb.Schema {
	return s.schema
}

func (s *Session) Description() *scalarweb.Description {
	return s.desc
}

func (s *Session) Guard() *actor.PID {
	return s.pid
}

// Invoke validates the call against the schema and serves reads from the
// cache. Misses and mutations go through the guard actor.
func (s *Session) Invoke(ctx context.Context, endpoint, method string, args scalarweb.Args) (*scalarweb.Result, error) {
	call, err := s.proxy.Bind(endpoint, method, args)
	if err != nil {
		return nil, err
	}
	if call.Spec.IsRead() {
		key := call.Key()
		res, generation, ok := s.cache.Get(key)
		if ok {
			s.metrics.CacheHit()
			return res, nil
		}
		s.metrics.CacheMiss()
		res, err = s.proxy.Do(ctx, call)
		if err == nil {
			s.cache.Put(key, res, generation)
		}
		return res, err
	}

	s.cache.BeginMutation()
	defer s.cache.EndMutation()
	return s.proxy.Do(ctx, call)
}

// Close fails the queued calls and waits, up to the request timeout, for
// the call on the wire so the device is idle before another session opens.
func (s *Session) Close() {
	s.cache.Invalidate()
	_, err := s.root.RequestFuture(s.pid, domain.CloseSessionRequest{}, s.closeTimeout).Result()
	if err != nil && !errors.Is(err, actor.ErrDeadLetter) {
		s.logger.Warn("session: in-flight call did not finish before close", zap.String("device", s.device.ID), zap.Error(err))
	}
	_ = s.root.StopFuture(s.pid).Wait()
}

// SessionFactory opens sessions: it spawns the guard, resolves the schema
// through it and wires the proxy and cache on top.
type SessionFactory struct {
	cfg        config.DeviceConfig
	root       *actor.RootContext
	spawn      port.GuardSpawner
	httpClient *http.Client
	clock      cache.Clock
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

type SessionFactoryOption func(*SessionFactory)

func WithCacheClock(c cache.Clock) SessionFactoryOption {
	return func(f *SessionFactory) {
		f.clock = c
	}
}

func WithMetrics(m *metrics.Metrics) SessionFactoryOption {
	return func(f *SessionFactory) {
		f.metrics = m
	}
}

func NewSessionFactory(cfg config.DeviceConfig, root *actor.RootContext, spawn port.GuardSpawner, logger *zap.Logger, opts ...SessionFactoryOption) *SessionFactory {
	f := &SessionFactory{
		cfg:        cfg,
		root:       root,
		spawn:      spawn,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout()},
		clock:      clock.RealClock{},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *SessionFactory) Open(ctx context.Context, device ssdp.Advertisement) (*Session, error) {
	client := scalarweb.NewClient(f.httpClient, f.logger, f.metrics.Instrument())
	pid, err := f.spawn(device.ID, client)
	if err != nil {
		return nil, fmt.Errorf("spawn session guard: %w", err)
	}
	caller := actorCaller{
		root:    f.root,
		pid:     pid,
		timeout: f.cfg.QueueTimeout(),
	}

	resolver := scalarweb.NewResolver(caller, f.httpClient, f.cfg.FastSetup, f.logger)
	schema, desc, err := resolver.Resolve(ctx, device.Location)
	if err != nil {
		f.root.StopFuture(pid).Wait()
		return nil, fmt.Errorf("resolve %s: %w", device.ID, err)
	}
	if device.FriendlyName == "" {
		device.FriendlyName = desc.FriendlyName
	}
	if device.ModelName == "" {
		device.ModelName = desc.ModelName
	}
	f.logger.Info("session opened",
		zap.String("device", device.ID),
		zap.String("name", device.FriendlyName),
		zap.Int("endpoints", len(schema.Endpoints)))

	return &Session{
		device:  device,
		schema:  schema,
		desc:    desc,
		proxy:   scalarweb.NewProxy(schema, caller),
		cache:   NewCallCache(f.cfg.CacheSize, f.cfg.CacheTTL(), f.clock),
		root:    f.root,
		pid:     pid,
		metrics: f.metrics,
		logger:  f.logger,

		closeTimeout: f.cfg.RequestTimeout() + time.Second,
	}, nil
}
