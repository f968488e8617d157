// Package middleware provides Echo middleware for logging, metrics and
// response hygiene.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
// Server errors log at error level, client errors at warn.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			level := slog.LevelInfo
			switch {
			case res.Status >= http.StatusInternalServerError:
				level = slog.LevelError
			case res.Status >= http.StatusBadRequest:
				level = slog.LevelWarn
			}

			logger.Log(req.Context(), level, "request",
				"method", req.Method,
				"uri", req.RequestURI,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", requestID(c),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			)

			return err
		}
	}
}
