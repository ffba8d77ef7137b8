package ssdp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	SSDP_MULTICAST_ADDR    = "239.255.255.250:1900"
	SSDP_DEFAULT_MX        = 1
	SSDP_DEFAULT_TTL       = 2
	SCALAR_WEB_API_SERVICE = "urn:schemas-sony-com:service:ScalarWebAPI:1"
)

var (
	ErrNoUsableInterface = errors.New("ssdp: no usable network interface")
	ErrInterfaceDown     = errors.New("ssdp: interface is down")
	ErrNoMulticast       = errors.New("ssdp: interface does not support multicast")
	ErrNoIPv4Address     = errors.New("ssdp: interface has no IPv4 address")
	ErrInvalidResponse   = errors.New("ssdp: invalid search response")
)

// Advertisement is one device seen during a discovery pass.
type Advertisement struct {
	ID           string    `json:"id"`
	USN          string    `json:"usn"`
	ServiceType  string    `json:"service_type"`
	Location     string    `json:"location"`
	Server       string    `json:"server,omitempty"`
	FriendlyName string    `json:"friendly_name"`
	ModelName    string    `json:"model_name,omitempty"`
	Interface    string    `json:"interface"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

func SearchRequest(serviceType string, mx int) []byte {
	var b strings.Builder
	b.WriteString("M-SEARCH * HTTP/1.1\r\n")
	fmt.Fprintf(&b, "HOST: %s\r\n", SSDP_MULTICAST_ADDR)
	b.WriteString("MAN: \"ssdp:discover\"\r\n")
	fmt.Fprintf(&b, "MX: %d\r\n", mx)
	fmt.Fprintf(&b, "ST: %s\r\n", serviceType)
	b.WriteString("\r\n")
	return []byte(b.String())
}

// ParseResponse decodes a unicast M-SEARCH reply. Interface and DiscoveredAt
// are left for the caller to fill.
func ParseResponse(data []byte) (Advertisement, error) {
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(data)), nil)
	if err != nil {
		return Advertisement{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Advertisement{}, fmt.Errorf("%w: status %d", ErrInvalidResponse, resp.StatusCode)
	}

	location := strings.TrimSpace(resp.Header.Get("Location"))
	usn := strings.TrimSpace(resp.Header.Get("Usn"))
	if location == "" || usn == "" {
		return Advertisement{}, fmt.Errorf("%w: missing LOCATION or USN", ErrInvalidResponse)
	}

	return Advertisement{
		ID:          DeviceID(usn),
		USN:         usn,
		ServiceType: strings.TrimSpace(resp.Header.Get("St")),
		Location:    location,
		Server:      strings.TrimSpace(resp.Header.Get("Server")),
	}, nil
}

// DeviceID reduces a USN to the device UUID so that the same device seen on
// several interfaces (or with several service types) maps to one key.
func DeviceID(usn string) string {
	id, _, _ := strings.Cut(usn, "::")
	id = strings.TrimSpace(id)
	if len(id) >= 5 && strings.EqualFold(id[:5], "uuid:") {
		id = id[5:]
	}
	if parsed, err := uuid.Parse(id); err == nil {
		return parsed.String()
	}
	return strings.ToLower(id)
}
