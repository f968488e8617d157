package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// RateLimit returns a per-client-IP rate limiter allowing rps requests per
// second. Rejected requests get a plain-text 429 like every other response
// the dispatcher writes itself.
func RateLimit(rps float64) echo.MiddlewareFunc {
	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: echomw.NewRateLimiterMemoryStore(rate.Limit(rps)),
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			return c.String(http.StatusTooManyRequests, "Too Many Requests")
		},
	})
}
