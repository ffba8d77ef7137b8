package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/berfenger/sonycam2mqtt/internal/core/domain"
	"github.com/berfenger/sonycam2mqtt/internal/core/service"
	"github.com/berfenger/sonycam2mqtt/pkg/scalarweb"
	"github.com/berfenger/sonycam2mqtt/pkg/ssdp"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

type devicesResponse struct {
	Devices  []ssdp.Advertisement `json:"devices"`
	Selected string               `json:"selected,omitempty"`
}

type selectRequest struct {
	Id string `json:"id"`
}

type callRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	e.HideBanner = true
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	api := e.Group("/api")
	api.GET("/devices", s.ListDevicesHandler)
	api.POST("/devices/refresh", s.RefreshDevicesHandler)
	api.POST("/devices/select", s.SelectDeviceHandler)
	api.GET("/schema", s.SchemaHandler)
	api.GET("/state", s.StateHandler)
	api.POST("/call/:endpoint", s.CallHandler)

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) ListDevicesHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, s.devices(s.controller.ListDevices()))
}

func (s *Server) RefreshDevicesHandler(c echo.Context) error {
	devices, err := s.controller.RefreshDevices(c.Request().Context())
	if err != nil {
		s.logger.Warn("refresh failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, s.devices(devices))
}

func (s *Server) SelectDeviceHandler(c echo.Context) error {
	var req selectRequest
	if err := c.Bind(&req); err != nil || req.Id == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "body must be {\"id\": <device id>}"})
	}
	if err := s.controller.SelectDevice(c.Request().Context(), req.Id); err != nil {
		if errors.Is(err, domain.ErrDeviceNotFound) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
		}
		return c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error()})
	}
	// the new camera gets its own discovery documents
	if s.masterActor != nil {
		s.rootContext.Send(s.masterActor, domain.RefreshDiscoveryRequest{})
	}
	return c.JSON(http.StatusOK, s.devices(s.controller.ListDevices()))
}

func (s *Server) SchemaHandler(c echo.Context) error {
	schema, err := s.controller.GetSchema()
	if err != nil {
		return c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, schema)
}

func (s *Server) StateHandler(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), s.requestTimeout)
	defer cancel()
	state, err := s.controller.PollState(ctx)
	if err != nil {
		return c.JSON(statusOf(service.CallErrorOf(err).Kind), errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, state)
}

// CallHandler answers with the CallResult body whatever the outcome; the
// status code tells the error kind apart.
func (s *Server) CallHandler(c echo.Context) error {
	endpoint := c.Param("endpoint")
	var req callRequest
	if err := c.Bind(&req); err != nil || req.Method == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "body must be {\"method\": <name>, \"params\": <list|object|null>}"})
	}
	args, err := scalarweb.ParseArgs(req.Params)
	if err != nil {
		return c.JSON(http.StatusBadRequest, domain.CallResult{
			Endpoint: endpoint,
			Method:   req.Method,
			Error:    &domain.CallError{Kind: domain.CALL_ERROR_CONTRACT, Message: err.Error()},
		})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), s.requestTimeout)
	defer cancel()
	result := s.controller.Call(ctx, endpoint, req.Method, args)
	if result.Error != nil {
		return c.JSON(statusOf(result.Error.Kind), result)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) devices(devices []ssdp.Advertisement) devicesResponse {
	resp := devicesResponse{Devices: devices}
	if resp.Devices == nil {
		resp.Devices = []ssdp.Advertisement{}
	}
	if selected, ok := s.controller.SelectedDevice(); ok {
		resp.Selected = selected.ID
	}
	return resp
}

func statusOf(kind domain.CallErrorKind) int {
	switch kind {
	case domain.CALL_ERROR_CONTRACT:
		return http.StatusBadRequest
	case domain.CALL_ERROR_SESSION:
		return http.StatusConflict
	case domain.CALL_ERROR_UNREACHABLE:
		return http.StatusBadGateway
	case domain.CALL_ERROR_PROTOCOL:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
