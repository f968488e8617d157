// Package client provides the HTTP client used to talk to the upstream device.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"spiffs-devproxy/internal/config"
	"spiffs-devproxy/internal/metrics"
	"spiffs-devproxy/internal/model"
)

// UpstreamClient sends requests to the upstream device.
type UpstreamClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with a fixed per-exchange timeout.
// Every exchange uses a fresh connection. Responses are never decompressed or
// redirected so they can be relayed as received.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		DisableKeepAlives:  true,
		DisableCompression: true,
		DialContext: (&net.Dialer{
			Timeout: 10 * time.Second,
		}).DialContext,
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
	}
}

// Do executes an HTTP request against the upstream and buffers the whole
// response body. Nothing is returned unless the body was read completely.
func (c *UpstreamClient) Do(req *http.Request) (*model.ProxyResponse, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"path", req.URL.Path,
	)

	start := time.Now()
	method := metrics.NormalizeMethod(req.Method)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(method, start, "")
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.observe(method, start, "")
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	c.observe(method, start, strconv.Itoa(resp.StatusCode))

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// Send builds a request and executes it with Do. A "Host" entry in header
// becomes the request's Host. When header carries no User-Agent, none is sent.
func (c *UpstreamClient) Send(ctx context.Context, method, url string, header http.Header, body []byte) (*model.ProxyResponse, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}

	h := header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	if host := h.Get("Host"); host != "" {
		req.Host = host
	}
	h.Del("Host")
	// Content-Length is derived from the body by the transport.
	h.Del("Content-Length")
	if _, ok := h["User-Agent"]; !ok {
		// An empty value stops net/http from adding its own.
		h["User-Agent"] = []string{""}
	}
	req.Header = h

	return c.Do(req)
}

func (c *UpstreamClient) observe(method string, start time.Time, status string) {
	if c.metrics == nil {
		return
	}
	c.metrics.UpstreamDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if status != "" {
		c.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
	}
}
