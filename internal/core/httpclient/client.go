// Package httpclient configures the HTTP client used to call the Overpass API.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// DefaultTimeout leaves room for slow server-side aggregation.
const DefaultTimeout = 360 * time.Second

// NewOutbound creates a new outbound http client; timeout <= 0 uses DefaultTimeout.
func NewOutbound(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          4,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
