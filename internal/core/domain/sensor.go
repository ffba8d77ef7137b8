package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE    = "bridge"
	SENSOR_ID_CAMERA_STATUS   = "camera_status"
	SENSOR_ID_CAMERA_FUNCTION = "camera_function"
	SENSOR_ID_SHOOT_MODE      = "shoot_mode"
	SENSOR_ID_FOCUS_STATUS    = "focus_status"
	SENSOR_ID_ZOOM_POSITION   = "zoom_position"
	SENSOR_ID_BATTERY_LEVEL   = "battery_level"
	SENSOR_ID_WARNINGS        = "camera_warnings"
	SENSOR_ID_LIVEVIEW        = "liveview"
	BUTTON_ID_TAKE_PICTURE    = "take_picture"
	BUTTON_ID_START_MOVIE_REC = "start_movie_rec"
	BUTTON_ID_STOP_MOVIE_REC  = "stop_movie_rec"
	STATE_CLASS_MEASUREMENT   = "measurement"
	DEVICE_CLASS_BATTERY      = "battery"
	DEVICE_CLASS_CONNECTIVITY = "connectivity"
	DEVICE_CLASS_RUNNING      = "running"
	ENTITY_CLASS_DIAGNOSTIC   = "diagnostic"
	ENTITY_CLASS_CONFIG       = "config"
	SENSOR_TYPE_SENSOR        = "sensor"
	SENSOR_TYPE_BINARY        = "binary_sensor"
)

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("sonycam_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "ACasal",
		Model:        "SonyCam2MQTT",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("SonyCam %s", md5HashShort(baseTopic)),
	}
}

// CameraDevice describes the selected camera. id is the advertisement
// identifier, stable across interfaces.
func CameraDevice(id, friendlyName, modelName, apiVersion string) Device {
	model := modelName
	if model == "" {
		model = friendlyName
	}
	return Device{
		Id:           fmt.Sprintf("sonycam_%s", md5HashShort(id)),
		Version:      apiVersion,
		Manufacturer: "Sony",
		Model:        model,
		Name:         fmt.Sprintf("%s %s", friendlyName, md5HashShort(id)),
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {

	var sensors []GenericSensor

	// Bridge connection
	sensors = append(sensors, GenericSensor{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	})

	return sensors
}

func CameraSensors(cameraDevice Device) []GenericSensor {

	var sensors []GenericSensor

	sensors = append(sensors, GenericSensor{
		Device:     cameraDevice,
		Id:         SENSOR_ID_CAMERA_STATUS,
		SensorType: SENSOR_TYPE_SENSOR,
		Name:       "Camera status",
		Icon:       "mdi:camera",
		UniqueId:   uniqueId(cameraDevice.Id, SENSOR_ID_CAMERA_STATUS),
	})

	sensors = append(sensors, GenericSensor{
		Device:     cameraDevice,
		Id:         SENSOR_ID_CAMERA_FUNCTION,
		SensorType: SENSOR_TYPE_SENSOR,
		Name:       "Camera function",
		UniqueId:   uniqueId(cameraDevice.Id, SENSOR_ID_CAMERA_FUNCTION),
	})

	sensors = append(sensors, GenericSensor{
		Device:     cameraDevice,
		Id:         SENSOR_ID_SHOOT_MODE,
		SensorType: SENSOR_TYPE_SENSOR,
		Name:       "Shoot mode",
		Icon:       "mdi:camera-switch",
		UniqueId:   uniqueId(cameraDevice.Id, SENSOR_ID_SHOOT_MODE),
	})

	sensors = append(sensors, GenericSensor{
		Device:     cameraDevice,
		Id:         SENSOR_ID_FOCUS_STATUS,
		SensorType: SENSOR_TYPE_SENSOR,
		Name:       "Focus status",
		Icon:       "mdi:image-filter-center-focus",
		UniqueId:   uniqueId(cameraDevice.Id, SENSOR_ID_FOCUS_STATUS),
	})

	sensors = append(sensors, GenericSensor{
		Device:            cameraDevice,
		Id:                SENSOR_ID_ZOOM_POSITION,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Zoom position",
		StateClass:        STATE_CLASS_MEASUREMENT,
		UnitOfMeasurement: "%",
		Icon:              "mdi:magnify-plus",
		UniqueId:          uniqueId(cameraDevice.Id, SENSOR_ID_ZOOM_POSITION),
	})

	sensors = append(sensors, GenericSensor{
		Device:            cameraDevice,
		Id:                SENSOR_ID_BATTERY_LEVEL,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Battery level",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_BATTERY,
		UnitOfMeasurement: "%",
		UniqueId:          uniqueId(cameraDevice.Id, SENSOR_ID_BATTERY_LEVEL),
	})

	sensors = append(sensors, GenericSensor{
		Device:         cameraDevice,
		Id:             SENSOR_ID_WARNINGS,
		SensorType:     SENSOR_TYPE_SENSOR,
		Name:           "Warnings",
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		Icon:           "mdi:alert",
		UniqueId:       uniqueId(cameraDevice.Id, SENSOR_ID_WARNINGS),
	})

	sensors = append(sensors, GenericSensor{
		Device:           cameraDevice,
		Id:               SENSOR_ID_LIVEVIEW,
		SensorType:       SENSOR_TYPE_BINARY,
		Name:             "Liveview",
		DeviceClass:      DEVICE_CLASS_RUNNING,
		EntityCategory:   ENTITY_CLASS_DIAGNOSTIC,
		EnabledByDefault: optionalBool(false),
		UniqueId:         uniqueId(cameraDevice.Id, SENSOR_ID_LIVEVIEW),
	})

	return sensors
}

func CameraButtons(cameraDevice Device) []GenericButton {

	var buttons []GenericButton

	buttons = append(buttons, GenericButton{
		Device:   cameraDevice,
		Id:       BUTTON_ID_TAKE_PICTURE,
		Name:     "Take picture",
		Icon:     "mdi:camera-iris",
		Endpoint: "camera",
		Method:   "actTakePicture",
		Payload:  "[]",
		UniqueId: uniqueId(cameraDevice.Id, BUTTON_ID_TAKE_PICTURE),
	})

	buttons = append(buttons, GenericButton{
		Device:   cameraDevice,
		Id:       BUTTON_ID_START_MOVIE_REC,
		Name:     "Start recording",
		Icon:     "mdi:record-rec",
		Endpoint: "camera",
		Method:   "startMovieRec",
		Payload:  "[]",
		UniqueId: uniqueId(cameraDevice.Id, BUTTON_ID_START_MOVIE_REC),
	})

	buttons = append(buttons, GenericButton{
		Device:   cameraDevice,
		Id:       BUTTON_ID_STOP_MOVIE_REC,
		Name:     "Stop recording",
		Icon:     "mdi:stop",
		Endpoint: "camera",
		Method:   "stopMovieRec",
		Payload:  "[]",
		UniqueId: uniqueId(cameraDevice.Id, BUTTON_ID_STOP_MOVIE_REC),
	})

	return buttons
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	hash := md5Hash(text)
	return hash[0:8]
}

func optionalBool(value bool) *bool {
	return &value
}
