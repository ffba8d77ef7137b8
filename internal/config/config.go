package config

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel  zapcore.Level
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Device    DeviceConfig    `mapstructure:"device"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`

	MonitorConfig MonitorConfig `mapstructure:"monitor"`
	Port          uint          `mapstructure:"port"`
	HttpLog       bool          `mapstructure:"http_log"`
}

type DiscoveryConfig struct {
	TimeoutMillis uint32   `mapstructure:"timeout_millis"`
	Interfaces    []string `mapstructure:"interfaces"`
	ServiceType   string   `mapstructure:"service_type"`
	MX            int      `mapstructure:"mx"`
	TTL           int      `mapstructure:"ttl"`
	// RefreshCron is a 6-field cron expression. Empty disables rediscovery.
	RefreshCron string `mapstructure:"refresh_cron"`
}

type DeviceConfig struct {
	RequestTimeoutMillis  uint32 `mapstructure:"request_timeout_millis"`
	QueueTimeoutMillis    uint32 `mapstructure:"queue_timeout_millis"`
	CacheTTLMillis        uint32 `mapstructure:"cache_ttl_millis"`
	CacheSize             int    `mapstructure:"cache_size"`
	MinCallIntervalMillis uint32 `mapstructure:"min_call_interval_millis"`
	FastSetup             bool   `mapstructure:"fast_setup"`
	Preferred             string `mapstructure:"preferred"`
}

type MonitorConfig struct {
	PollIntervalMillis uint32 `mapstructure:"poll_interval_millis"`
}

type MQTTConfig struct {
	Enable            bool
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

func (c DiscoveryConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}

func (c DeviceConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMillis) * time.Millisecond
}

func (c DeviceConfig) QueueTimeout() time.Duration {
	return time.Duration(c.QueueTimeoutMillis) * time.Millisecond
}

func (c DeviceConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMillis) * time.Millisecond
}

func (c DeviceConfig) MinCallInterval() time.Duration {
	return time.Duration(c.MinCallIntervalMillis) * time.Millisecond
}

func (c MonitorConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

// Validate checks the bounds the daemon relies on.
func (c *Config) Validate() error {
	if c.Discovery.TimeoutMillis < 500 {
		return errors.New("config param discovery.timeout_millis should be >= 500")
	}
	if c.Discovery.MX < 1 || c.Discovery.MX > 5 {
		return errors.New("config param discovery.mx should be between 1 and 5")
	}
	if c.Device.RequestTimeoutMillis < 1000 {
		return errors.New("config param device.request_timeout_millis should be >= 1000")
	}
	if c.Device.QueueTimeoutMillis < c.Device.RequestTimeoutMillis {
		return errors.New("config param device.queue_timeout_millis must be >= device.request_timeout_millis")
	}
	if c.Device.CacheSize <= 0 {
		return errors.New("config param device.cache_size should be > 0")
	}
	if c.MonitorConfig.PollIntervalMillis > 0 && c.MonitorConfig.PollIntervalMillis < 1000 {
		return errors.New("config param monitor.poll_interval_millis should be >= 1000 or 0 to disable")
	}
	return nil
}
