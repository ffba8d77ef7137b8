package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() Config {
	return Config{
		Discovery: DiscoveryConfig{TimeoutMillis: 3000, MX: 1},
		Device: DeviceConfig{
			RequestTimeoutMillis: 10000,
			QueueTimeoutMillis:   30000,
			CacheSize:            128,
		},
		MonitorConfig: MonitorConfig{PollIntervalMillis: 5000},
	}
}

func TestCheckMQTTTopic(t *testing.T) {

	assert := assert.New(t)

	topic, err := CheckMQTTTopic("SonyCam_1")
	assert.NoError(err)
	assert.Equal("sonycam_1", topic)

	_, err = CheckMQTTTopic("sony/cam")
	assert.Error(err)
	_, err = CheckMQTTTopic("")
	assert.Error(err)
}

func TestValidate(t *testing.T) {

	assert := assert.New(t)

	cfg := validConfig()
	assert.NoError(cfg.Validate())

	cfg.MonitorConfig.PollIntervalMillis = 0
	assert.NoError(cfg.Validate())

	cfg = validConfig()
	cfg.Device.QueueTimeoutMillis = 5000
	assert.Error(cfg.Validate())

	cfg = validConfig()
	cfg.Discovery.MX = 0
	assert.Error(cfg.Validate())

	cfg = validConfig()
	cfg.MonitorConfig.PollIntervalMillis = 200
	assert.Error(cfg.Validate())
}

func TestDurations(t *testing.T) {
	cfg := validConfig()
	cfg.Device.CacheTTLMillis = 2000
	assert.Equal(t, "2s", cfg.Device.CacheTTL().String())
	assert.Equal(t, "30s", cfg.Device.QueueTimeout().String())
}
