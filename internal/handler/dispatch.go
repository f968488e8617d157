package handler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/labstack/echo/v4"

	"spiffs-devproxy/internal/metrics"
	"spiffs-devproxy/internal/middleware"
	"spiffs-devproxy/internal/model"
	"spiffs-devproxy/internal/service"
	"spiffs-devproxy/internal/static"
)

// DispatchHandler serves a request from the local root when a file exists
// for it and forwards it to the device otherwise.
type DispatchHandler struct {
	resolver  *static.Resolver
	forwarder *service.Forwarder
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewDispatchHandler creates a DispatchHandler. The metrics parameter is
// optional; pass nil to disable dispatch metrics.
func NewDispatchHandler(r *static.Resolver, f *service.Forwarder, m *metrics.Metrics, logger *slog.Logger) *DispatchHandler {
	return &DispatchHandler{
		resolver:  r,
		forwarder: f,
		metrics:   m,
		logger:    logger.With("component", "dispatcher"),
	}
}

// Handle dispatches one request. Only GET and HEAD are ever served locally;
// every other method goes to the forwarder even when a local file exists.
func (h *DispatchHandler) Handle(c echo.Context) error {
	req := c.Request()

	if req.Method == http.MethodGet || req.Method == http.MethodHead {
		entry, err := h.resolver.Lookup(req.URL.Path)
		switch {
		case err == nil:
			h.count(metrics.TargetLocal)
			// Relative links in a directory's index resolve against the
			// directory only when the URL ends in a slash.
			if entry.DirIndex && !strings.HasSuffix(req.URL.Path, "/") {
				return c.Redirect(http.StatusMovedPermanently, dirRedirect(req.URL))
			}
			return h.serveFile(c, entry.Path)
		case errors.Is(err, static.ErrOutsideRoot):
			h.count(metrics.TargetRejected)
			h.logger.Warn("rejected path outside root", "path", req.URL.Path)
			return c.String(http.StatusNotFound, "Not Found")
		case !errors.Is(err, static.ErrNotFound):
			return fmt.Errorf("lookup %s: %w", req.URL.Path, err)
		}
	}

	return h.forward(c)
}

func (h *DispatchHandler) serveFile(c echo.Context, file string) error {
	f, err := os.Open(file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Removed between lookup and open.
			return c.String(http.StatusNotFound, "Not Found")
		}
		return fmt.Errorf("open %s: %w", file, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", file, err)
	}

	// ServeContent sets Content-Type from the extension and handles HEAD,
	// ranges and conditional requests.
	http.ServeContent(c.Response(), c.Request(), info.Name(), info.ModTime(), f)
	return nil
}

func (h *DispatchHandler) forward(c echo.Context) error {
	req := c.Request()

	// net/http moves Host out of the header map; put it back so the
	// whitelist sees it like any other header.
	header := req.Header.Clone()
	header.Set("Host", req.Host)

	resp, err := h.forwarder.Forward(&model.ProxyRequest{
		Ctx:    req.Context(),
		Method: req.Method,
		URI:    req.URL.RequestURI(),
		Header: header,
		Body:   req.Body,
	})
	if err != nil {
		return h.mapError(c, err)
	}
	h.count(metrics.TargetUpstream)

	// The device's headers replace anything middleware has set so far.
	middleware.MarkRelayed(c)
	out := c.Response().Header()
	for key := range out {
		delete(out, key)
	}
	for key, vals := range resp.Header {
		out[key] = append([]string(nil), vals...)
	}
	c.Response().WriteHeader(resp.StatusCode)

	// The body is already complete in memory; a write error here means the
	// client went away.
	if _, err := c.Response().Write(resp.Body); err != nil && !errors.Is(err, http.ErrBodyNotAllowed) {
		h.logger.Error("writing response body",
			"err", err,
			"path", req.URL.Path,
		)
	}
	return nil
}

func (h *DispatchHandler) mapError(c echo.Context, err error) error {
	if errors.Is(err, service.ErrMethodNotAllowed) {
		h.count(metrics.TargetRejected)
		return c.String(http.StatusMethodNotAllowed, "Method Not Allowed")
	}

	h.count(metrics.TargetUpstream)
	h.logger.Error("forward error",
		"err", err,
		"method", c.Request().Method,
		"path", c.Request().URL.Path,
	)
	return c.String(http.StatusInternalServerError, describe(err))
}

// dirRedirect returns the relative Location http.FileServer would use for a
// directory requested without its trailing slash. The query is kept.
func dirRedirect(u *url.URL) string {
	target := path.Base(u.Path) + "/"
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	return target
}

// describe turns a forwarding failure into the plain-text body sent to the client.
func describe(err error) string {
	reason := "upstream request failed"

	var netErr net.Error
	var dnsErr *net.DNSError
	var opErr *net.OpError
	switch {
	case errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()):
		reason = "upstream request timed out"
	case errors.Is(err, context.Canceled):
		reason = "request canceled"
	case errors.As(err, &dnsErr):
		reason = "upstream host unreachable"
	case errors.As(err, &opErr):
		reason = "upstream connection failed"
	}
	return fmt.Sprintf("Error forwarding to device: %s: %v", reason, err)
}

func (h *DispatchHandler) count(target string) {
	if h.metrics != nil {
		h.metrics.DispatchTotal.WithLabelValues(target).Inc()
	}
}
