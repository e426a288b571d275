// Package middleware holds the echo middleware stack the HTTP adapter wires
// in front of every route: request id propagation, structured access
// logging, and translation of handler errors into the response body.
package middleware

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

const requestIDHeader = "X-Request-Id"

// RequestID assigns a request id (from the inbound header, or a fresh UUID)
// and makes it available to handlers via echo.Context.Get("request_id").
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(requestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			c.Set("request_id", id)
			c.Response().Header().Set(requestIDHeader, id)
			return next(c)
		}
	}
}

// Logger emits one structured access-log line per request via zerolog,
// attaching the request id, method, path and status.
func Logger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			status := c.Response().Status
			event := log.Info()
			if err != nil {
				event = log.Error()
			}
			event.
				Str("request_id", fmt.Sprint(c.Get("request_id"))).
				Str("method", c.Request().Method).
				Str("path", c.Path()).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Msg("http request")
			return err
		}
	}
}

// ErrorWrapper normalizes handler errors into echo's JSON error body so
// infrastructure failures surface as 5xx while logical rejections (handled
// inline by each handler) stay 200 with the reason in the body.
func ErrorWrapper() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := next(c); err != nil {
				c.Echo().DefaultHTTPErrorHandler(err, c)
				return nil
			}
			return nil
		}
	}
}
