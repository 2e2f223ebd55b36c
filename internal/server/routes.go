package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/mbarrena/pulsegate/internal/core/domain"

	"github.com/carlmjohnson/versioninfo"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

const actorRequestTimeout = 10 * time.Second

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)

	api := e.Group("/api", s.SessionAuth)
	api.POST("/command", s.CommandHandler)
	api.GET("/status", s.StatusHandler)
	api.POST("/gesture", s.GestureHandler)
	api.GET("/devices", s.DevicesHandler)

	return e
}

type errorResponse struct {
	Error string `json:"error"`
}

type commandRequest struct {
	DeviceId string `json:"deviceId"`
	Action   string `json:"action"`
	Duration uint32 `json:"duration"`
}

type commandResponse struct {
	Success  bool    `json:"success"`
	Ack      string  `json:"ack"`
	Duration *uint32 `json:"duration,omitempty"`
}

type statusResponse struct {
	Connected    bool   `json:"connected"`
	DeviceStatus string `json:"deviceStatus"`
}

type gestureRequest struct {
	DeviceId string `json:"deviceId"`
	Event    string `json:"event"`
}

type gestureResponse struct {
	State   string `json:"state"`
	LastAck string `json:"lastAck,omitempty"`
}

type deviceView struct {
	Id              string `json:"id"`
	Name            string `json:"name"`
	Type            string `json:"type"`
	PulseDurationMs uint32 `json:"pulseDurationMs,omitempty"`
	HasStatusTopic  bool   `json:"hasStatusTopic"`
	LastStatus      string `json:"lastStatus,omitempty"`
	LastCheckedAt   string `json:"lastCheckedAt,omitempty"`
}

type devicesResponse struct {
	Devices []deviceView `json:"devices"`
	Version string       `json:"version"`
}

func (s *Server) CommandHandler(c echo.Context) error {
	var req commandRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	if req.DeviceId == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Device ID is required"})
	}
	action, err := domain.ParseAction(req.Action)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid action"})
	}

	outcome, err := s.commands.Send(c.Request().Context(), userId(c), req.DeviceId, domain.Command{
		Action:         action,
		DurationMillis: req.Duration,
	})
	if err != nil {
		return s.errorJSON(c, err)
	}

	resp := commandResponse{Success: true, Ack: outcome.Ack}
	if action == domain.ActionQuick && req.Duration > 0 {
		resp.Duration = &req.Duration
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) StatusHandler(c echo.Context) error {
	deviceId := c.QueryParam("deviceId")
	if deviceId == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Device ID is required"})
	}

	outcome, err := s.status.Read(c.Request().Context(), userId(c), deviceId)
	if err != nil {
		return s.errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, statusResponse{
		Connected:    outcome.Connected,
		DeviceStatus: string(outcome.DeviceStatus),
	})
}

func (s *Server) GestureHandler(c echo.Context) error {
	var req gestureRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	if req.DeviceId == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Device ID is required"})
	}
	event, err := domain.ParsePointerEvent(req.Event)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid pointer event"})
	}

	res, err := s.rootContext.RequestFuture(s.masterActor, domain.PointerEventRequest{
		UserId:   userId(c),
		DeviceId: req.DeviceId,
		Event:    event,
	}, actorRequestTimeout).Result()
	if err != nil {
		return s.errorJSON(c, err)
	}
	state, ok := res.(domain.GestureStateResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
	}
	if state.HasResponseError() {
		return s.errorJSON(c, state.GetResponseError())
	}
	return c.JSON(http.StatusOK, gestureResponse{State: state.State, LastAck: state.LastAck})
}

func (s *Server) DevicesHandler(c echo.Context) error {
	devices := s.gate.DevicesFor(userId(c))

	statuses := map[string]domain.CachedDeviceStatus{}
	if res, err := s.rootContext.RequestFuture(s.masterActor, domain.DeviceStatusCacheRequest{}, 2*time.Second).Result(); err == nil {
		if cache, ok := res.(domain.DeviceStatusCacheResponse); ok {
			statuses = cache.Statuses
		}
	}

	views := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		view := deviceView{
			Id:              d.Id,
			Name:            d.Name,
			Type:            string(d.Type),
			PulseDurationMs: d.PulseDurationMillis,
			HasStatusTopic:  d.HasStatusTopic(),
		}
		if cached, ok := statuses[d.Id]; ok {
			view.LastStatus = string(cached.Status)
			view.LastCheckedAt = cached.CheckedAt.Format(time.RFC3339)
		}
		views = append(views, view)
	}
	return c.JSON(http.StatusOK, devicesResponse{Devices: views, Version: versioninfo.Short()})
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, actorRequestTimeout).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

// errorJSON maps the service error taxonomy onto HTTP statuses. Ack
// timeouts never reach here: they are successful outcomes.
func (s *Server) errorJSON(c echo.Context, err error) error {
	var configErr *domain.ConfigurationError
	var transportErr *domain.TransportError
	switch {
	case errors.Is(err, domain.ErrInvalidCommand):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrUnauthorized):
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
	case errors.Is(err, domain.ErrAccessDenied):
		return c.JSON(http.StatusForbidden, errorResponse{Error: "Access denied to this device"})
	case errors.Is(err, domain.ErrDeviceNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: "Device not found"})
	case errors.As(err, &configErr), errors.As(err, &transportErr):
		s.logger.Error("request failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
	default:
		s.logger.Error("request failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
	}
}
