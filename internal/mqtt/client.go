package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"time"

	"github.com/berfenger/sonycam2mqtt/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	MQTT_PAYLOAD_ONLINE  = "online"
	MQTT_PAYLOAD_OFFLINE = "offline"
	MQTT_PAYLOAD_ON      = "on"
	MQTT_PAYLOAD_OFF     = "off"
)

var (
	ErrNotACallTopic  = errors.New("not a call topic")
	ErrInvalidPayload = errors.New("call payload is not valid JSON")
)

func OptsFromConfig(cfg *config.Config) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTT.Host, cfg.MQTT.Port))
	opts.SetClientID(fmt.Sprintf("sonycam_%d", rand.IntN(1000)))
	if cfg.MQTT.Username != "" && cfg.MQTT.Password != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}
	opts.WillEnabled = true
	opts.WillPayload = []byte(MQTT_PAYLOAD_OFFLINE)
	opts.WillRetained = true
	opts.WillTopic = bridgeStateTopic(cfg.MQTT.BaseTopic)
	opts.WillQos = 0

	return opts
}

func CreateMQTTClient(cfg *config.Config, opts *mqtt.ClientOptions, onConnectHandler func(client mqtt.Client),
	onConnectionLostHandler func(mqtt.Client, error)) *MQTTClient {
	if onConnectHandler != nil {
		opts.OnConnect = onConnectHandler
	}
	if onConnectionLostHandler != nil {
		opts.OnConnectionLost = onConnectionLostHandler
	}
	return &MQTTClient{
		client:     mqtt.NewClient(opts),
		cfg:        cfg.MQTT,
		callRegexp: callCommandExtractor(cfg.MQTT.BaseTopic),
	}
}

type MQTTClient struct {
	client     mqtt.Client
	cfg        config.MQTTConfig
	callRegexp *regexp.Regexp
}

// ParsedCallCommand is a call request read from <base>/call/<endpoint>/<method>.
// Payload is the raw JSON params, empty when the message had no body.
type ParsedCallCommand struct {
	Endpoint string
	Method   string
	Payload  json.RawMessage
}

func (c *MQTTClient) baseTopic() string {
	return c.cfg.BaseTopic
}

func (c *MQTTClient) discoveryTopic() string {
	if c.cfg.HADiscoveryTopic == "" {
		return "homeassistant"
	}
	return c.cfg.HADiscoveryTopic
}

func (c *MQTTClient) BridgeStateTopic() string {
	return bridgeStateTopic(c.baseTopic())
}

func (c *MQTTClient) SensorStateTopic(sensorId string) string {
	return fmt.Sprintf("%s/sensor/%s/state", c.baseTopic(), sensorId)
}

func (c *MQTTClient) BinarySensorStateTopic(sensorId string) string {
	return fmt.Sprintf("%s/binary_sensor/%s/state", c.baseTopic(), sensorId)
}

func (c *MQTTClient) CallCommandTopic(endpoint, method string) string {
	return fmt.Sprintf("%s/call/%s/%s", c.baseTopic(), endpoint, method)
}

func (c *MQTTClient) CallResultTopic(endpoint, method string) string {
	return fmt.Sprintf("%s/call/%s/%s/result", c.baseTopic(), endpoint, method)
}

func (c *MQTTClient) ParseCallCommand(msg mqtt.Message) (*ParsedCallCommand, error) {
	return parseCallCommand(c.callRegexp, msg.Topic(), msg.Payload())
}

func parseCallCommand(r *regexp.Regexp, topic string, payload []byte) (*ParsedCallCommand, error) {
	matches := r.FindStringSubmatch(topic)
	if len(matches) != 3 {
		return nil, ErrNotACallTopic
	}
	cmd := &ParsedCallCommand{
		Endpoint: matches[1],
		Method:   matches[2],
	}
	if len(payload) > 0 {
		if !json.Valid(payload) {
			return nil, ErrInvalidPayload
		}
		cmd.Payload = json.RawMessage(payload)
	}
	return cmd, nil
}

func (c *MQTTClient) Publish(topic string, payload any, qos byte, retain bool, continuation func(error), timeout time.Duration) {
	token := c.client.Publish(topic, qos, retain, payload)
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT publish timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) Subscribe(topic string, qos byte, handler mqtt.MessageHandler, continuation func(error), timeout time.Duration) {
	token := c.client.Subscribe(topic, qos, handler)
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT subscribe timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) SubscribeToCallTopic(handler mqtt.MessageHandler, continuation func(error), timeout time.Duration) {
	c.Subscribe(c.callSubscriptionTopic(), 1, handler, continuation, timeout)
}

func (c *MQTTClient) Connect(continuation func(error), timeout time.Duration) {
	token := c.client.Connect()
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT connect timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) Disconnect(timeout time.Duration) {
	c.client.Disconnect(uint(timeout.Milliseconds()))
}

// result topics share the call prefix but have one more level, so "+/+"
// never echoes our own publications back
func (c *MQTTClient) callSubscriptionTopic() string {
	return fmt.Sprintf("%s/call/+/+", c.baseTopic())
}

func callCommandExtractor(baseTopic string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf("^%s/call/([a-zA-Z0-9_]+)/([a-zA-Z0-9_]+)$", regexp.QuoteMeta(baseTopic)))
}

func bridgeStateTopic(baseTopic string) string {
	return fmt.Sprintf("%s/bridge/state", baseTopic)
}
