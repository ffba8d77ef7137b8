package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/berfenger/sonycam2mqtt/internal/config"
	"github.com/berfenger/sonycam2mqtt/internal/core/port"
	"github.com/berfenger/sonycam2mqtt/internal/metrics"

	"github.com/asynkron/protoactor-go/actor"
	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"
)

type Server struct {
	port           uint
	httpLog        bool
	requestTimeout time.Duration
	rootContext    *actor.RootContext
	masterActor    *actor.PID
	controller     port.CameraController
	metrics        *metrics.Metrics
	logger         *zap.Logger
}

func NewServer(cfg config.Config, rootContext *actor.RootContext, masterActor *actor.PID,
	controller port.CameraController, m *metrics.Metrics, logger *zap.Logger) *http.Server {
	NewServer := &Server{
		port:           cfg.Port,
		httpLog:        cfg.HttpLog,
		requestTimeout: cfg.Device.QueueTimeout(),
		rootContext:    rootContext,
		masterActor:    masterActor,
		controller:     controller,
		metrics:        m,
		logger:         logger.With(zap.String("component", "http")),
	}

	// Declare Server config
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", NewServer.port),
		Handler:      NewServer.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return server
}
