package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	adactor "github.com/berfenger/sonycam2mqtt/internal/adapter/actor"
	"github.com/berfenger/sonycam2mqtt/internal/config"
	"github.com/berfenger/sonycam2mqtt/internal/core/actor"
	"github.com/berfenger/sonycam2mqtt/internal/core/service"
	"github.com/berfenger/sonycam2mqtt/internal/metrics"
	"github.com/berfenger/sonycam2mqtt/internal/server"
	"github.com/berfenger/sonycam2mqtt/internal/util/actorutil"
	"github.com/berfenger/sonycam2mqtt/pkg/ssdp"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/carlmjohnson/versioninfo"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// gracefulShutdown waits for SIGINT or SIGTERM and gives in-flight HTTP
// requests five seconds to finish.
func gracefulShutdown(apiServer *http.Server, logger *zap.Logger, done chan<- struct{}) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down, press Ctrl+C again to force")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced http shutdown", zap.Error(err))
	}
	close(done)
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	logger.Info("starting sonycam2mqtt", zap.String("version", versioninfo.Short()))

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	root := as.Root

	m := metrics.New()

	// discovery, session guard and controller
	discoverer := ssdp.NewDiscoverer(logger, discovererOpts(cfg.Discovery)...)
	spawn := adactor.SessionGuardSpawner(root, cfg.Device, m, logger)
	sessions := service.NewSessionFactory(cfg.Device, root, spawn, logger, service.WithMetrics(m))
	controller := service.NewController(*cfg, discoverer, sessions, m, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := controller.Start(ctx); err != nil {
		// keep serving: a later refresh may still find the device
		logger.Error("initial discovery failed", zap.Error(err))
	}

	if cfg.Discovery.RefreshCron != "" {
		sched, err := service.ScheduleRediscovery(ctx, controller, cfg.Discovery.RefreshCron, logger)
		if err != nil {
			logger.Error("rediscovery disabled", zap.Error(err))
		} else {
			defer sched.Stop()
		}
	}

	var mqttProv actor.MQTTActorProvider
	if cfg.MQTT.Enable {
		mqttProv = mqttActorProvider(cfg, logger)
	}
	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, controller, mqttProv, logger)
	})
	pid, err := root.SpawnNamed(props, "master")
	if err != nil {
		logger.Error("could not spawn master", zap.Error(err))
		return
	}

	apiServer := server.NewServer(*cfg, root, pid, controller, m, logger)
	done := make(chan struct{})
	go gracefulShutdown(apiServer, logger, done)

	logger.Info("http listening", zap.String("addr", apiServer.Addr))
	if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		panic(fmt.Sprintf("http server error: %s", err))
	}
	<-done

	_ = root.StopFuture(pid).Wait()
	controller.Close()
	as.Shutdown()
}

func discovererOpts(cfg config.DiscoveryConfig) []ssdp.Option {
	var opts []ssdp.Option
	if cfg.ServiceType != "" {
		opts = append(opts, ssdp.WithServiceType(cfg.ServiceType))
	}
	if len(cfg.Interfaces) > 0 {
		opts = append(opts, ssdp.WithInterfaces(cfg.Interfaces...))
	}
	if cfg.MX > 0 {
		opts = append(opts, ssdp.WithMX(cfg.MX))
	}
	if cfg.TTL > 0 {
		opts = append(opts, ssdp.WithTTL(cfg.TTL))
	}
	return opts
}

func initConfig() (*config.Config, error) {

	// alias PORT => SONYCAM_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("SONYCAM_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("sonycam")
	// device.cache_ttl_millis => SONYCAM_DEVICE_CACHE_TTL_MILLIS
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// "trace" is accepted as an alias of debug
	levelName := viper.GetString("log_level")
	if levelName == "trace" {
		levelName = "debug"
	}
	if cfg.LogLevel, err = zapcore.ParseLevel(levelName); err != nil {
		cfg.LogLevel = zap.InfoLevel
	}

	// check and fix base topic
	baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := config.CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return nil, errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	// check bounds
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func(es *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, es, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("port", 8080)
	viper.SetDefault("http_log", false)
	viper.SetDefault("discovery.timeout_millis", 3000)
	viper.SetDefault("discovery.service_type", ssdp.SCALAR_WEB_API_SERVICE)
	viper.SetDefault("discovery.mx", ssdp.SSDP_DEFAULT_MX)
	viper.SetDefault("discovery.ttl", ssdp.SSDP_DEFAULT_TTL)
	viper.SetDefault("discovery.refresh_cron", "")
	viper.SetDefault("device.request_timeout_millis", 10000)
	viper.SetDefault("device.queue_timeout_millis", 30000)
	viper.SetDefault("device.cache_ttl_millis", 2000)
	viper.SetDefault("device.cache_size", 256)
	viper.SetDefault("device.min_call_interval_millis", 250)
	viper.SetDefault("device.fast_setup", false)
	viper.SetDefault("device.preferred", "")
	viper.SetDefault("monitor.poll_interval_millis", 5000)
	viper.SetDefault("mqtt.enable", false)
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.base_topic", "sonycam")
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
