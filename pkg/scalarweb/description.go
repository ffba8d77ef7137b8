package scalarweb

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Description is the subset of the UPnP device description that matters for
// the ScalarWebAPI extension.
type Description struct {
	FriendlyName    string    `json:"friendly_name"`
	Manufacturer    string    `json:"manufacturer,omitempty"`
	ModelName       string    `json:"model_name,omitempty"`
	UDN             string    `json:"udn,omitempty"`
	APIVersion      string    `json:"api_version,omitempty"`
	LiveViewURL     string    `json:"liveview_url,omitempty"`
	DefaultFunction string    `json:"default_function,omitempty"`
	Services        []Service `json:"services"`
}

type Service struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// element names match on local name, the av: prefix is not checked
type descriptionDocument struct {
	XMLName xml.Name `xml:"root"`
	Device  struct {
		FriendlyName string `xml:"friendlyName"`
		Manufacturer string `xml:"manufacturer"`
		ModelName    string `xml:"modelName"`
		UDN          string `xml:"UDN"`
		DeviceInfo   struct {
			Version       string `xml:"X_ScalarWebAPI_Version"`
			ImagingDevice struct {
				LiveViewURL     string `xml:"X_ScalarWebAPI_LiveView_URL"`
				DefaultFunction string `xml:"X_ScalarWebAPI_DefaultFunction"`
			} `xml:"X_ScalarWebAPI_ImagingDevice"`
			Services []struct {
				Type string `xml:"X_ScalarWebAPI_ServiceType"`
				URL  string `xml:"X_ScalarWebAPI_ActionList_URL"`
			} `xml:"X_ScalarWebAPI_ServiceList>X_ScalarWebAPI_Service"`
		} `xml:"X_ScalarWebAPI_DeviceInfo"`
	} `xml:"device"`
}

func ParseDescription(data []byte) (*Description, error) {
	var doc descriptionDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("scalarweb: parse description: %w", err)
	}
	dev := doc.Device
	desc := &Description{
		FriendlyName:    strings.TrimSpace(dev.FriendlyName),
		Manufacturer:    strings.TrimSpace(dev.Manufacturer),
		ModelName:       strings.TrimSpace(dev.ModelName),
		UDN:             strings.TrimSpace(dev.UDN),
		APIVersion:      strings.TrimSpace(dev.DeviceInfo.Version),
		LiveViewURL:     strings.TrimSpace(dev.DeviceInfo.ImagingDevice.LiveViewURL),
		DefaultFunction: strings.TrimSpace(dev.DeviceInfo.ImagingDevice.DefaultFunction),
	}
	for _, s := range dev.DeviceInfo.Services {
		desc.Services = append(desc.Services, Service{
			Type: strings.TrimSpace(s.Type),
			URL:  strings.TrimSpace(s.URL),
		})
	}
	return desc, nil
}

func FetchDescription(ctx context.Context, httpClient *http.Client, location string) (*Description, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, &TransportError{URL: location, Err: err}
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{URL: location, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, httpStatusError(resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{URL: location, Err: err}
	}
	return ParseDescription(data)
}

// EndpointURL joins an action list URL and a service type the way the
// device expects: <ActionList_URL>/<type>.
func EndpointURL(actionListURL, serviceType string) string {
	return strings.TrimRight(actionListURL, "/") + "/" + serviceType
}

// mostCommonURL is the action list URL shared by most services; ties go to
// the first one listed.
func (d *Description) mostCommonURL() string {
	votes := map[string]int{}
	for _, s := range d.Services {
		votes[s.URL]++
	}
	best, bestVotes := "", 0
	for _, s := range d.Services {
		if votes[s.URL] > bestVotes {
			best, bestVotes = s.URL, votes[s.URL]
		}
	}
	return best
}

func (d *Description) serviceURL(serviceType string) (string, bool) {
	for _, s := range d.Services {
		if s.Type == serviceType {
			return s.URL, true
		}
	}
	return "", false
}
