// Package service implements forwarding of unmatched requests to the device.
package service

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"spiffs-devproxy/internal/client"
	"spiffs-devproxy/internal/config"
	"spiffs-devproxy/internal/model"
)

// ErrMethodNotAllowed is returned for methods other than GET and POST. The
// upstream is never contacted in that case.
var ErrMethodNotAllowed = errors.New("method not allowed")

// allowedHeaders is the whitelist applied to request headers before they are
// sent to the device. Matching is against these canonical names.
var allowedHeaders = []string{
	"Content-Type",
	"Content-Length",
	"Authorization",
	"User-Agent",
	"Accept",
	"Host",
}

// ForwardError reports a failed upstream exchange.
type ForwardError struct {
	Op  string
	URL string
	Err error
}

func (e *ForwardError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *ForwardError) Unwrap() error { return e.Err }

// Forwarder relays requests to the single configured upstream origin.
type Forwarder struct {
	client *client.UpstreamClient
	origin string
	logger *slog.Logger
}

// NewForwarder creates a Forwarder. cfg.Upstream.Origin must already be
// normalised by config.Load.
func NewForwarder(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		client: c,
		origin: strings.TrimSuffix(cfg.Upstream.Origin, "/"),
		logger: logger.With("component", "forwarder"),
	}
}

// Origin returns the upstream origin requests are forwarded to.
func (f *Forwarder) Origin() string {
	return f.origin
}

// Forward sends pr to the upstream and returns its fully buffered response
// with Transfer-Encoding removed. It returns ErrMethodNotAllowed for methods
// other than GET and POST, and a *ForwardError for any failure of the exchange.
func (f *Forwarder) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	target := f.buildUpstreamURL(pr.URI)

	var body []byte
	switch pr.Method {
	case http.MethodGet:
	case http.MethodPost:
		b, err := readBody(pr.Header, pr.Body)
		if err != nil {
			return nil, &ForwardError{Op: "read request body", URL: target, Err: err}
		}
		body = b
	default:
		return nil, ErrMethodNotAllowed
	}

	f.logger.Debug("forwarding request",
		"method", pr.Method,
		"uri", pr.URI,
		"body_bytes", len(body),
	)

	resp, err := f.client.Send(pr.Ctx, pr.Method, target, filterRequestHeaders(pr.Header), body)
	if err != nil {
		return nil, &ForwardError{Op: pr.Method, URL: target, Err: err}
	}

	resp.Header = filterResponseHeaders(resp.Header)
	return resp, nil
}

// buildUpstreamURL appends the original path and query, unmodified, to the origin.
func (f *Forwarder) buildUpstreamURL(uri string) string {
	if !strings.HasPrefix(uri, "/") {
		uri = "/" + uri
	}
	return f.origin + uri
}

// readBody reads exactly Content-Length bytes. A missing, unparsable or
// negative Content-Length means an empty body.
func readBody(header http.Header, r io.Reader) ([]byte, error) {
	n, err := strconv.ParseInt(header.Get("Content-Length"), 10, 64)
	if err != nil || n <= 0 || r == nil {
		return []byte{}, nil
	}
	buf, err := io.ReadAll(io.LimitReader(r, n))
	if err != nil {
		return nil, err
	}
	if int64(len(buf)) < n {
		return nil, fmt.Errorf("body has %d bytes, Content-Length says %d: %w", len(buf), n, io.ErrUnexpectedEOF)
	}
	return buf, nil
}

func filterRequestHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for _, key := range allowedHeaders {
		if vals, ok := src[key]; ok {
			dst[key] = append([]string(nil), vals...)
		}
	}
	return dst
}

func filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		if strings.EqualFold(key, "Transfer-Encoding") {
			continue
		}
		dst[key] = vals
	}
	return dst
}
