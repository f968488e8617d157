// Package model defines shared types for the dispatcher.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest represents an inbound request that will be forwarded to the device.
type ProxyRequest struct {
	Ctx    context.Context
	Method string
	// URI is the escaped path plus raw query exactly as received.
	URI    string
	Header http.Header
	Body   io.Reader
}

// ProxyResponse is a fully buffered upstream response.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}
