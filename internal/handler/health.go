package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"spiffs-devproxy/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves the dev server's own health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status reports what is being served and where misses go.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":   "ok",
		"version":  string(h.version),
		"root":     h.cfg.Static.Root,
		"upstream": h.cfg.Upstream.Origin,
	})
}
