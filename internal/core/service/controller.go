package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/berfenger/sonycam2mqtt/internal/config"
	"github.com/berfenger/sonycam2mqtt/internal/core/domain"
	"github.com/berfenger/sonycam2mqtt/internal/core/port"
	"github.com/berfenger/sonycam2mqtt/internal/metrics"
	"github.com/berfenger/sonycam2mqtt/pkg/scalarweb"
	"github.com/berfenger/sonycam2mqtt/pkg/ssdp"

	"go.uber.org/zap"
)

// Controller is the only way the HTTP and MQTT fronts reach a device. It
// owns the device list and at most one open Session.
type Controller struct {
	discoverer port.Discoverer
	sessions   *SessionFactory
	httpClient *http.Client
	timeout    time.Duration
	preferred  string
	metrics    *metrics.Metrics
	logger     *zap.Logger

	// serializes discovery passes and session switches
	mu      sync.Mutex
	session atomic.Pointer[Session]

	devMu   sync.RWMutex
	devices []ssdp.Advertisement
}

func NewController(cfg config.Config, discoverer port.Discoverer, sessions *SessionFactory, m *metrics.Metrics, logger *zap.Logger) *Controller {
	return &Controller{
		discoverer: discoverer,
		sessions:   sessions,
		httpClient: &http.Client{Timeout: cfg.Device.RequestTimeout()},
		timeout:    cfg.Discovery.Timeout(),
		preferred:  cfg.Device.Preferred,
		metrics:    m,
		logger:     logger.With(zap.String("component", "controller")),
	}
}

var _ port.CameraController = (*Controller)(nil)

func (c *Controller) ListDevices() []ssdp.Advertisement {
	c.devMu.RLock()
	defer c.devMu.RUnlock()
	devices := make([]ssdp.Advertisement, len(c.devices))
	copy(devices, c.devices)
	return devices
}

// RefreshDevices replaces the device list with a fresh discovery pass. The
// open session is kept even when its device did not answer this time.
func (c *Controller) RefreshDevices(ctx context.Context) ([]ssdp.Advertisement, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx)
}

func (c *Controller) refreshLocked(ctx context.Context) ([]ssdp.Advertisement, error) {
	found, err := c.discoverer.Refresh(ctx, c.timeout)
	if err != nil {
		return nil, err
	}
	devices := c.enrich(ctx, found)

	c.devMu.Lock()
	c.devices = devices
	c.devMu.Unlock()
	c.metrics.SetDevices(len(devices))

	if current := c.session.Load(); current != nil && !containsDevice(devices, current.Device().ID) {
		c.logger.Warn("selected device missing from discovery pass", zap.String("device", current.Device().ID))
	}
	c.logger.Info("discovery pass done", zap.Int("devices", len(devices)))
	return c.ListDevices(), nil
}

// enrich fills names from each description document. The selected device
// reuses its session data so nothing reaches it outside the guard.
func (c *Controller) enrich(ctx context.Context, found []ssdp.Advertisement) []ssdp.Advertisement {
	current := c.session.Load()
	devices := make([]ssdp.Advertisement, 0, len(found))
	for _, adv := range found {
		if current != nil && current.Device().ID == adv.ID {
			adv.FriendlyName = current.Device().FriendlyName
			adv.ModelName = current.Device().ModelName
		} else if adv.FriendlyName == "" {
			desc, err := scalarweb.FetchDescription(ctx, c.httpClient, adv.Location)
			if err != nil {
				c.logger.Warn("description unavailable", zap.String("device", adv.ID), zap.Error(err))
			} else {
				adv.FriendlyName = desc.FriendlyName
				adv.ModelName = desc.ModelName
			}
		}
		devices = append(devices, adv)
	}
	return devices
}

// Start runs the first discovery pass and opens a session on the preferred
// device, or the first one found.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	devices, err := c.refreshLocked(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		c.logger.Warn("no device found")
		return nil
	}
	return c.selectLocked(ctx, pickDevice(devices, c.preferred))
}

func pickDevice(devices []ssdp.Advertisement, preferred string) ssdp.Advertisement {
	if preferred != "" {
		want := strings.ToLower(preferred)
		for _, adv := range devices {
			if strings.Contains(strings.ToLower(adv.FriendlyName), want) {
				return adv
			}
		}
	}
	return devices[0]
}

func containsDevice(devices []ssdp.Advertisement, id string) bool {
	for _, adv := range devices {
		if adv.ID == id {
			return true
		}
	}
	return false
}

// SelectDevice closes the current session and opens one on the device with
// the given identifier. Selecting the active device is a no-op.
func (c *Controller) SelectDevice(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current := c.session.Load(); current != nil && current.Device().ID == id {
		return nil
	}
	for _, adv := range c.ListDevices() {
		if adv.ID == id {
			return c.selectLocked(ctx, adv)
		}
	}
	return ErrDeviceNotFound
}

func (c *Controller) selectLocked(ctx context.Context, adv ssdp.Advertisement) error {
	if old := c.session.Swap(nil); old != nil {
		c.logger.Info("closing session", zap.String("device", old.Device().ID))
		old.Close()
	}
	session, err := c.sessions.Open(ctx, adv)
	if err != nil {
		return err
	}
	c.session.Store(session)
	return nil
}

func (c *Controller) SelectedDevice() (ssdp.Advertisement, bool) {
	session := c.session.Load()
	if session == nil {
		return ssdp.Advertisement{}, false
	}
	return session.Device(), true
}

func (c *Controller) Session() (*Session, error) {
	session := c.session.Load()
	if session == nil {
		return nil, ErrNoDeviceSelected
	}
	return session, nil
}

func (c *Controller) GetSchema() (*scalarweb.Schema, error) {
	session, err := c.Session()
	if err != nil {
		return nil, err
	}
	return session.Schema(), nil
}

func (c *Controller) Invoke(ctx context.Context, endpoint, method string, args scalarweb.Args) (*scalarweb.Result, error) {
	session, err := c.Session()
	if err != nil {
		return nil, err
	}
	return session.Invoke(ctx, endpoint, method, args)
}

// Call is Invoke with the outcome folded into a serializable result.
func (c *Controller) Call(ctx context.Context, endpoint, method string, args scalarweb.Args) domain.CallResult {
	res, err := c.Invoke(ctx, endpoint, method, args)
	result := domain.CallResult{
		Endpoint: endpoint,
		Method:   method,
	}
	if err != nil {
		c.logger.Debug("call failed", zap.String("endpoint", endpoint), zap.String("method", method), zap.Error(err))
		result.Error = CallErrorOf(err)
		return result
	}
	result.Result = res.Result
	result.Results = res.Results
	return result
}

func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old := c.session.Swap(nil); old != nil {
		old.Close()
	}
}

func CallErrorOf(err error) *domain.CallError {
	var perr *scalarweb.ProtocolError
	switch {
	case errors.As(err, &perr):
		return &domain.CallError{Kind: domain.CALL_ERROR_PROTOCOL, Code: perr.Code, Message: perr.Message}
	case errors.Is(err, scalarweb.ErrDeviceUnreachable), errors.Is(err, context.DeadlineExceeded):
		return &domain.CallError{Kind: domain.CALL_ERROR_UNREACHABLE, Message: err.Error()}
	case errors.Is(err, scalarweb.ErrUnknownEndpoint), errors.Is(err, scalarweb.ErrUnknownMethod),
		errors.Is(err, scalarweb.ErrInvalidArguments):
		return &domain.CallError{Kind: domain.CALL_ERROR_CONTRACT, Message: err.Error()}
	default:
		return &domain.CallError{Kind: domain.CALL_ERROR_SESSION, Message: err.Error()}
	}
}
