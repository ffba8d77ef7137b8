package ssdp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	clocktesting "k8s.io/utils/clock/testing"
)

const testUSN = "uuid:00000000-0005-0010-8000-10a5d0c7e1b2::urn:schemas-sony-com:service:ScalarWebAPI:1"

func searchResponse(usn, st, location string) string {
	return "HTTP/1.1 200 OK\r\n" +
		"CACHE-CONTROL: max-age=1800\r\n" +
		"EXT: \r\n" +
		"LOCATION: " + location + "\r\n" +
		"SERVER: UPnP/1.0 SonyImagingDevice/1.0\r\n" +
		"ST: " + st + "\r\n" +
		"USN: " + usn + "\r\n" +
		"\r\n"
}

func TestParseResponse(t *testing.T) {

	assert := assert.New(t)

	adv, err := ParseResponse([]byte(searchResponse(testUSN, SCALAR_WEB_API_SERVICE, "http://10.0.0.1:64321/dd.xml")))
	require.NoError(t, err)

	assert.Equal("00000000-0005-0010-8000-10a5d0c7e1b2", adv.ID)
	assert.Equal(SCALAR_WEB_API_SERVICE, adv.ServiceType)
	assert.Equal("http://10.0.0.1:64321/dd.xml", adv.Location)
	assert.Equal("UPnP/1.0 SonyImagingDevice/1.0", adv.Server)
}

func TestParseResponseMissingLocation(t *testing.T) {
	_, err := ParseResponse([]byte("HTTP/1.1 200 OK\r\nUSN: " + testUSN + "\r\n\r\n"))
	assert.ErrorIs(t, err, ErrInvalidResponse)

	_, err = ParseResponse([]byte("garbage"))
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestDeviceID(t *testing.T) {

	assert := assert.New(t)

	assert.Equal("00000000-0005-0010-8000-10a5d0c7e1b2", DeviceID(testUSN))
	assert.Equal("00000000-0005-0010-8000-10a5d0c7e1b2", DeviceID("UUID:00000000-0005-0010-8000-10A5D0C7E1B2"))
	assert.Equal("not-a-uuid", DeviceID("uuid:Not-A-UUID::urn:x"))
}

func TestSearchRequest(t *testing.T) {
	req := string(SearchRequest(SCALAR_WEB_API_SERVICE, 1))

	assert.True(t, strings.HasPrefix(req, "M-SEARCH * HTTP/1.1\r\n"))
	assert.Contains(t, req, "MAN: \"ssdp:discover\"\r\n")
	assert.Contains(t, req, "ST: "+SCALAR_WEB_API_SERVICE+"\r\n")
	assert.True(t, strings.HasSuffix(req, "\r\n\r\n"))
}

func fakeInterfaces(names ...string) func() ([]net.Interface, error) {
	return func() ([]net.Interface, error) {
		var ifaces []net.Interface
		for i, name := range names {
			ifaces = append(ifaces, net.Interface{Index: i + 1, Name: name, Flags: net.FlagUp | net.FlagMulticast})
		}
		return ifaces, nil
	}
}

func TestDiscoverSkipsFailedInterfaces(t *testing.T) {

	assert := assert.New(t)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	d := NewDiscoverer(zap.NewNop())
	d.interfaces = fakeInterfaces("eth0", "wlan0", "docker0")
	d.search = func(ctx context.Context, iface net.Interface, deadline time.Time) ([]Advertisement, error) {
		switch iface.Name {
		case "eth0":
			return []Advertisement{
				{ID: "cam", Location: "http://eth0/dd.xml", Interface: "eth0", DiscoveredAt: base.Add(20 * time.Millisecond)},
			}, nil
		case "wlan0":
			return []Advertisement{
				{ID: "cam", Location: "http://wlan0/dd.xml", Interface: "wlan0", DiscoveredAt: base.Add(10 * time.Millisecond)},
				{ID: "other", Location: "http://wlan0/other.xml", Interface: "wlan0", DiscoveredAt: base.Add(30 * time.Millisecond)},
			}, nil
		default:
			return nil, errors.New("bind: address already in use")
		}
	}

	found, err := d.Discover(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)

	assert.Len(found, 2)
	assert.Equal("cam", found[0].ID)
	assert.Equal("wlan0", found[0].Interface, "first response wins")
	assert.Equal("other", found[1].ID)
	assert.Equal(found, d.Devices())
}

func TestDiscoverNoUsableInterface(t *testing.T) {
	d := NewDiscoverer(zap.NewNop())
	d.interfaces = fakeInterfaces("eth0", "wlan0")
	d.search = func(ctx context.Context, iface net.Interface, deadline time.Time) ([]Advertisement, error) {
		return nil, ErrNoMulticast
	}

	_, err := d.Discover(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoUsableInterface)
	assert.ErrorIs(t, err, ErrNoMulticast)

	d.interfaces = fakeInterfaces()
	_, err = d.Discover(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoUsableInterface)
}

func TestDiscoverInterfaceFilter(t *testing.T) {
	d := NewDiscoverer(zap.NewNop(), WithInterfaces("wlan0"))
	d.interfaces = fakeInterfaces("eth0", "wlan0")

	var searched []string
	d.search = func(ctx context.Context, iface net.Interface, deadline time.Time) ([]Advertisement, error) {
		searched = append(searched, iface.Name)
		return nil, nil
	}

	found, err := d.Discover(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, found)
	assert.Equal(t, []string{"wlan0"}, searched)
}

func TestRefreshReplacesWholesale(t *testing.T) {

	assert := assert.New(t)

	pass := 0
	d := NewDiscoverer(zap.NewNop())
	d.interfaces = fakeInterfaces("eth0")
	d.search = func(ctx context.Context, iface net.Interface, deadline time.Time) ([]Advertisement, error) {
		pass++
		return []Advertisement{{ID: fmt.Sprintf("cam-%d", pass)}}, nil
	}

	_, err := d.Discover(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	found, err := d.Refresh(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)

	assert.Len(found, 1)
	assert.Equal("cam-2", found[0].ID)
	assert.Equal(found, d.Devices())
}

func TestCollectFromResponder(t *testing.T) {

	assert := assert.New(t)

	responder, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer responder.Close()

	go func() {
		buf := make([]byte, 2048)
		n, from, err := responder.ReadFrom(buf)
		if err != nil || !strings.HasPrefix(string(buf[:n]), "M-SEARCH") {
			return
		}
		responder.WriteTo([]byte(searchResponse("uuid:other::upnp:rootdevice", "upnp:rootdevice", "http://127.0.0.1/root.xml")), from)
		responder.WriteTo([]byte(searchResponse(testUSN, SCALAR_WEB_API_SERVICE, "http://127.0.0.1:64321/dd.xml")), from)
		responder.WriteTo([]byte(searchResponse(testUSN, SCALAR_WEB_API_SERVICE, "http://127.0.0.1:64321/dd.xml")), from)
	}()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	d := NewDiscoverer(zap.NewNop(), WithClock(clocktesting.NewFakeClock(now)))
	d.address = responder.LocalAddr().String()

	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()

	found, err := d.collect(context.Background(), conn, "lo", time.Now().Add(300*time.Millisecond))
	require.NoError(t, err)

	require.Len(t, found, 2)
	assert.Equal("00000000-0005-0010-8000-10a5d0c7e1b2", found[0].ID)
	assert.Equal("lo", found[0].Interface)
	assert.Equal(now, found[0].DiscoveredAt)
	assert.Len(merge([][]Advertisement{found}), 1)
}

func TestSearchInterfaceRejectsDownInterface(t *testing.T) {
	d := NewDiscoverer(zap.NewNop())

	_, err := d.searchInterface(context.Background(), net.Interface{Name: "eth9"}, time.Now())
	assert.ErrorIs(t, err, ErrInterfaceDown)

	_, err = d.searchInterface(context.Background(), net.Interface{Name: "eth9", Flags: net.FlagUp}, time.Now())
	assert.ErrorIs(t, err, ErrNoMulticast)
}
