package util

import (
	"github.com/berfenger/sonycam2mqtt/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Discovery: config.DiscoveryConfig{
			TimeoutMillis: 1000,
			ServiceType:   "urn:schemas-sony-com:service:ScalarWebAPI:1",
			MX:            1,
			TTL:           2,
		},
		Device: config.DeviceConfig{
			RequestTimeoutMillis:  2000,
			QueueTimeoutMillis:    5000,
			CacheTTLMillis:        2000,
			CacheSize:             64,
			MinCallIntervalMillis: 20,
			FastSetup:             true,
		},
		MQTT: config.MQTTConfig{
			Host:             "localhost",
			Port:             1883,
			BaseTopic:        "sonycam",
			HADiscoveryTopic: "homeassistant",
		},
		MonitorConfig: config.MonitorConfig{
			PollIntervalMillis: 1000,
		},
		Port: 8080,
	}
}
