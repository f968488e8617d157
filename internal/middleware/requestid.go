package middleware

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// RequestIDKey is the echo.Context key holding the request ID.
const RequestIDKey = "request_id"

// relayedKey marks a response whose headers come from the device.
const relayedKey = "devproxy.relayed"

// RequestID returns Echo's request ID middleware with the ID also stored on
// the context, so it survives a handler replacing the response headers.
func RequestID() echo.MiddlewareFunc {
	return echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		RequestIDHandler: func(c echo.Context, id string) {
			c.Set(RequestIDKey, id)
		},
	})
}

// MarkRelayed records that the response headers were copied from the device.
// SecurityHeaders leaves such responses alone.
func MarkRelayed(c echo.Context) {
	c.Set(relayedKey, true)
}

func isRelayed(c echo.Context) bool {
	relayed, _ := c.Get(relayedKey).(bool)
	return relayed
}

func requestID(c echo.Context) string {
	if id, ok := c.Get(RequestIDKey).(string); ok {
		return id
	}
	return c.Response().Header().Get(echo.HeaderXRequestID)
}
