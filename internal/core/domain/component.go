package domain

type Device struct {
	Id           string
	Name         string
	Version      string
	Model        string
	Manufacturer string
	ViaDevice    string
}

type GenericSensor struct {
	Device            Device
	Id                string
	SensorType        string
	Name              string
	UniqueId          string
	UnitOfMeasurement string
	StateClass        string // measurement
	DeviceClass       string // battery, connectivity
	EntityCategory    string // diagnostic, config, nil
	EnabledByDefault  *bool
	Icon              string
}

// GenericButton triggers one device call through the MQTT call topic.
type GenericButton struct {
	Device   Device
	Id       string
	Name     string
	UniqueId string
	Icon     string
	Endpoint string
	Method   string
	Payload  string
}
