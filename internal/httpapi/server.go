// Package httpapi exposes the chat core over HTTP.
package httpapi

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
)

const requestIDKey = "request_id"

// NewServer creates the echo server with every route registered.
func NewServer(h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: newRequestID,
		RequestIDHandler: func(c echo.Context, id string) {
			c.Set(requestIDKey, id)
		},
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:     true,
		LogMethod:     true,
		LogLatency:    true,
		LogError:      true,
		HandleError:   true,
		LogValuesFunc: logRequest,
	}))

	h.RegisterRoutes(e)
	return e
}

func newRequestID() string {
	return "req_" + uuid.New().String()[:8]
}

func logRequest(c echo.Context, v middleware.RequestLoggerValues) error {
	event := log.Info()
	if v.Error != nil {
		event = log.Warn().Err(v.Error)
	}
	event.
		Str("request_id", reqID(c)).
		Str("method", v.Method).
		Str("path", c.Path()).
		Int("status", v.Status).
		Dur("latency", v.Latency).
		Msg("HTTP request")
	return nil
}

func reqID(c echo.Context) string {
	id, _ := c.Get(requestIDKey).(string)
	return id
}
