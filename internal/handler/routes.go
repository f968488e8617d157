package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"spiffs-devproxy/internal/config"
	"spiffs-devproxy/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Everything
// outside config.ReservedPrefix goes to the dispatcher.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, dispatch *DispatchHandler, health *HealthHandler) {
	e.GET(config.ReservedPrefix+"/healthz", health.Healthz)
	e.GET(config.ReservedPrefix+"/status", health.Status)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	e.Any("/*", dispatch.Handle)
}
