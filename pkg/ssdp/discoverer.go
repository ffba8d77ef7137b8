package ssdp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"
)

type searchFunc func(ctx context.Context, iface net.Interface, deadline time.Time) ([]Advertisement, error)

// Discoverer runs M-SEARCH passes on every selected local interface, each
// one with its own socket, and keeps the result of the last pass.
type Discoverer struct {
	serviceType string
	address     string
	mx          int
	ttl         int
	allowed     []string
	clock       clock.PassiveClock
	logger      *zap.Logger

	interfaces func() ([]net.Interface, error)
	search     searchFunc

	mu      sync.RWMutex
	devices []Advertisement
}

type Option func(*Discoverer)

func WithServiceType(serviceType string) Option {
	return func(d *Discoverer) {
		d.serviceType = serviceType
	}
}

func WithInterfaces(names ...string) Option {
	return func(d *Discoverer) {
		d.allowed = names
	}
}

func WithMX(mx int) Option {
	return func(d *Discoverer) {
		d.mx = mx
	}
}

func WithTTL(ttl int) Option {
	return func(d *Discoverer) {
		d.ttl = ttl
	}
}

func WithClock(c clock.PassiveClock) Option {
	return func(d *Discoverer) {
		d.clock = c
	}
}

func NewDiscoverer(logger *zap.Logger, opts ...Option) *Discoverer {
	d := &Discoverer{
		serviceType: SCALAR_WEB_API_SERVICE,
		address:     SSDP_MULTICAST_ADDR,
		mx:          SSDP_DEFAULT_MX,
		ttl:         SSDP_DEFAULT_TTL,
		clock:       clock.RealClock{},
		logger:      logger.With(zap.String("component", "ssdp")),
		interfaces:  net.Interfaces,
	}
	d.search = d.searchInterface
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Devices returns the result of the last completed pass.
func (d *Discoverer) Devices() []Advertisement {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.devices)
}

// Discover runs one pass and replaces the stored result with it.
func (d *Discoverer) Discover(ctx context.Context, timeout time.Duration) ([]Advertisement, error) {
	found, err := d.pass(ctx, timeout)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.devices = found
	d.mu.Unlock()
	return slices.Clone(found), nil
}

// Refresh drops every known device before running a new pass.
func (d *Discoverer) Refresh(ctx context.Context, timeout time.Duration) ([]Advertisement, error) {
	d.mu.Lock()
	d.devices = nil
	d.mu.Unlock()
	return d.Discover(ctx, timeout)
}

func (d *Discoverer) pass(ctx context.Context, timeout time.Duration) ([]Advertisement, error) {
	ifaces, err := d.candidateInterfaces()
	if err != nil {
		return nil, err
	}
	if len(ifaces) == 0 {
		return nil, ErrNoUsableInterface
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	deadline, _ := ctx.Deadline()

	results := make([][]Advertisement, len(ifaces))
	failures := make([]error, len(ifaces))

	// every routine returns nil so one interface never cancels the others
	var g errgroup.Group
	g.SetLimit(len(ifaces))
	for i, iface := range ifaces {
		g.Go(func() error {
			found, err := d.search(ctx, iface, deadline)
			if err != nil {
				failures[i] = fmt.Errorf("%s: %w", iface.Name, err)
				d.logger.Warn("ssdp: skipping interface", zap.String("interface", iface.Name), zap.Error(err))
				return nil
			}
			d.logger.Debug("ssdp: interface searched", zap.String("interface", iface.Name), zap.Int("responses", len(found)))
			results[i] = found
			return nil
		})
	}
	_ = g.Wait()

	usable := 0
	for _, err := range failures {
		if err == nil {
			usable++
		}
	}
	if usable == 0 {
		return nil, errors.Join(append([]error{ErrNoUsableInterface}, failures...)...)
	}

	return merge(results), nil
}

func (d *Discoverer) candidateInterfaces() ([]net.Interface, error) {
	all, err := d.interfaces()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoUsableInterface, err)
	}
	if len(d.allowed) == 0 {
		return all, nil
	}
	var selected []net.Interface
	for _, iface := range all {
		if slices.Contains(d.allowed, iface.Name) {
			selected = append(selected, iface)
		}
	}
	return selected, nil
}

// merge keeps the earliest response per device id; later duplicates are dropped.
func merge(results [][]Advertisement) []Advertisement {
	var all []Advertisement
	for _, found := range results {
		all = append(all, found...)
	}
	slices.SortStableFunc(all, func(a, b Advertisement) int {
		return a.DiscoveredAt.Compare(b.DiscoveredAt)
	})

	seen := make(map[string]struct{}, len(all))
	merged := make([]Advertisement, 0, len(all))
	for _, adv := range all {
		if _, ok := seen[adv.ID]; ok {
			continue
		}
		seen[adv.ID] = struct{}{}
		merged = append(merged, adv)
	}
	return merged
}

func (d *Discoverer) searchInterface(ctx context.Context, iface net.Interface, deadline time.Time) ([]Advertisement, error) {
	if iface.Flags&net.FlagUp == 0 {
		return nil, ErrInterfaceDown
	}
	if iface.Flags&net.FlagMulticast == 0 {
		return nil, ErrNoMulticast
	}
	local, err := interfaceIPv4(iface)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenPacket("udp4", net.JoinHostPort(local.String(), "0"))
	if err != nil {
		return nil, fmt.Errorf("bind: %w", err)
	}
	defer conn.Close()

	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastInterface(&iface); err != nil {
		return nil, fmt.Errorf("set multicast interface: %w", err)
	}
	if err := pc.SetMulticastTTL(d.ttl); err != nil {
		return nil, fmt.Errorf("set multicast ttl: %w", err)
	}

	return d.collect(ctx, conn, iface.Name, deadline)
}

// collect sends one search request from conn and reads replies until the
// deadline passes or ctx is done.
func (d *Discoverer) collect(ctx context.Context, conn net.PacketConn, ifaceName string, deadline time.Time) ([]Advertisement, error) {
	dst, err := net.ResolveUDPAddr("udp4", d.address)
	if err != nil {
		return nil, err
	}
	if _, err := conn.WriteTo(SearchRequest(d.serviceType, d.mx), dst); err != nil {
		return nil, fmt.Errorf("send search: %w", err)
	}

	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	var found []Advertisement
	buf := make([]byte, 2048)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) || len(found) > 0 {
				return found, nil
			}
			return nil, fmt.Errorf("read: %w", err)
		}
		adv, err := ParseResponse(buf[:n])
		if err != nil {
			d.logger.Debug("ssdp: ignoring response", zap.Stringer("from", from), zap.Error(err))
			continue
		}
		if adv.ServiceType != d.serviceType {
			continue
		}
		adv.Interface = ifaceName
		adv.DiscoveredAt = d.clock.Now()
		found = append(found, adv)
	}
}

func interfaceIPv4(iface net.Interface) (net.IP, error) {
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, err
	}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok {
			if ip4 := ipNet.IP.To4(); ip4 != nil {
				return ip4, nil
			}
		}
	}
	return nil, ErrNoIPv4Address
}
