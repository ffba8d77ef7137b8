package domain

import (
	"encoding/json"
	"time"

	"github.com/berfenger/sonycam2mqtt/pkg/scalarweb"
)

const (
	CAMERA_STATUS_IDLE          = "IDLE"
	CAMERA_STATUS_NOT_READY     = "NotReady"
	CAMERA_STATUS_STILL_CAPTURE = "StillCapturing"
	CAMERA_STATUS_MOVIE_REC     = "MovieRecording"

	WARNING_NO_MEDIA = "No Media"
)

// CameraState is the snapshot decoded from one getEvent answer. It is never
// cached.
type CameraState struct {
	Status         string    `json:"camera_status"`
	Function       string    `json:"camera_function,omitempty"`
	ShootMode      string    `json:"shoot_mode,omitempty"`
	FocusStatus    string    `json:"focus_status,omitempty"`
	ZoomPosition   *int      `json:"zoom_position,omitempty"`
	BatteryPercent *float64  `json:"battery_percent,omitempty"`
	Liveview       *bool     `json:"liveview,omitempty"`
	Warnings       []string  `json:"warnings"`
	PolledAt       time.Time `json:"polled_at"`
}

// getEvent answers with a positional list; each slot is null, an object
// or a list of objects, all tagged with "type".
type eventItem struct {
	Type                  string `json:"type"`
	CameraStatus          string `json:"cameraStatus"`
	CurrentCameraFunction string `json:"currentCameraFunction"`
	CurrentShootMode      string `json:"currentShootMode"`
	FocusStatus           string `json:"focusStatus"`
	ZoomPosition          *int   `json:"zoomPosition"`
	LiveviewStatus        *bool  `json:"liveviewStatus"`
	LevelNumer            *int   `json:"levelNumer"`
	LevelDenom            *int   `json:"levelDenom"`
	AdditionalStatus      string `json:"additionalStatus"`
	StorageID             string `json:"storageID"`
}

func eventItems(raw json.RawMessage) []eventItem {
	if len(raw) == 0 {
		return nil
	}
	switch raw[0] {
	case '{':
		var item eventItem
		if err := json.Unmarshal(raw, &item); err == nil {
			return []eventItem{item}
		}
	case '[':
		var items []eventItem
		if err := json.Unmarshal(raw, &items); err == nil {
			return items
		}
	}
	return nil
}

func ParseCameraState(res *scalarweb.Result, now time.Time) (*CameraState, error) {
	if res == nil || len(res.Result) == 0 {
		return nil, ErrInvalidEvent
	}
	state := &CameraState{
		Warnings: []string{},
		PolledAt: now,
	}
	for _, raw := range res.Result {
		for _, item := range eventItems(raw) {
			switch item.Type {
			case "cameraStatus":
				state.Status = item.CameraStatus
			case "cameraFunction":
				state.Function = item.CurrentCameraFunction
			case "shootMode":
				state.ShootMode = item.CurrentShootMode
			case "focusStatus":
				state.FocusStatus = item.FocusStatus
			case "zoomInformation":
				state.ZoomPosition = item.ZoomPosition
			case "liveviewStatus":
				state.Liveview = item.LiveviewStatus
			case "batteryInfo":
				if state.BatteryPercent == nil && item.LevelNumer != nil && item.LevelDenom != nil &&
					*item.LevelDenom > 0 && *item.LevelNumer >= 0 {
					percent := 100 * float64(*item.LevelNumer) / float64(*item.LevelDenom)
					state.BatteryPercent = &percent
				}
				if item.AdditionalStatus != "" {
					state.Warnings = append(state.Warnings, item.AdditionalStatus)
				}
			case "storageInformation":
				if item.StorageID == WARNING_NO_MEDIA {
					state.Warnings = append(state.Warnings, WARNING_NO_MEDIA)
				}
			}
		}
	}
	return state, nil
}
