package events

import (
	"strings"

	. "github.com/berfenger/sonycam2mqtt/internal/core/domain"
)

func CameraStateToUpdateEvents(cs *CameraState) []any {
	var events []any

	// Camera status
	events = append(events, TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_CAMERA_STATUS,
		},
		Value: cs.Status,
	})
	if cs.Function != "" {
		events = append(events, TextSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: SENSOR_ID_CAMERA_FUNCTION,
			},
			Value: cs.Function,
		})
	}
	if cs.ShootMode != "" {
		events = append(events, TextSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: SENSOR_ID_SHOOT_MODE,
			},
			Value: cs.ShootMode,
		})
	}
	if cs.FocusStatus != "" {
		events = append(events, TextSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: SENSOR_ID_FOCUS_STATUS,
			},
			Value: cs.FocusStatus,
		})
	}
	// Zoom
	if cs.ZoomPosition != nil {
		events = append(events, FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: SENSOR_ID_ZOOM_POSITION,
			},
			Value:    float64(*cs.ZoomPosition),
			Decimals: 0,
		})
	}
	// Battery
	if cs.BatteryPercent != nil {
		events = append(events, FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: SENSOR_ID_BATTERY_LEVEL,
			},
			Value:    *cs.BatteryPercent,
			Decimals: 0,
		})
	}
	if cs.Liveview != nil {
		events = append(events, BinarySensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: SENSOR_ID_LIVEVIEW,
			},
			Value: *cs.Liveview,
		})
	}
	// Warnings, "OK" when there are none
	warnings := "OK"
	if len(cs.Warnings) > 0 {
		warnings = strings.Join(cs.Warnings, ", ")
	}
	events = append(events, TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_WARNINGS,
		},
		Value: warnings,
	})

	return events
}

func CallResultToUpdateEvent(result CallResult) any {
	return CallResultEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: result.Endpoint + "/" + result.Method,
		},
		Result: result,
	}
}
