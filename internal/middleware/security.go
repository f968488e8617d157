package middleware

import (
	"github.com/labstack/echo/v4"
)

// hopByHopHeaders are request headers that only apply to the inbound connection.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// defaultResponseHeaders are added to responses that do not already carry them.
var defaultResponseHeaders = map[string]string{
	"X-Content-Type-Options": "nosniff",
}

// SecurityHeaders returns an Echo middleware that strips hop-by-hop headers
// from requests and adds default security headers to the dev server's own
// responses. Responses relayed from the device are left untouched.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, h := range hopByHopHeaders {
				c.Request().Header.Del(h)
			}

			res := c.Response()
			res.Before(func() {
				if isRelayed(c) {
					return
				}
				for k, v := range defaultResponseHeaders {
					if res.Header().Get(k) == "" {
						res.Header().Set(k, v)
					}
				}
			})

			return next(c)
		}
	}
}
