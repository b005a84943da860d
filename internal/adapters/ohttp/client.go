// Package ohttp builds the outbound HTTP client used by API transports.
package ohttp

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultMaxIdleConns          = 20
	DefaultMaxIdleConnsPerHost   = 10
	DefaultIdleConnTimeout       = 90 * time.Second
	DefaultDialTimeout           = 10 * time.Second
	DefaultKeepAlive             = 30 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultResponseHeaderTimeout = 15 * time.Second
	DefaultRequestTimeout        = 30 * time.Second
)

type Config struct {
	Timeout time.Duration
	// Transport replaces the tuned default, mainly for tests.
	Transport http.RoundTripper
}

// Client is an *http.Client with pooled connections and OpenTelemetry
// client spans on every request.
type Client struct {
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	base := cfg.Transport
	if base == nil {
		base = newTransport()
	}

	return &Client{
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(base),
			Timeout:   cfg.Timeout,
		},
	}
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}

// StandardClient exposes the underlying client for SDKs that accept one.
func (c *Client) StandardClient() *http.Client {
	return c.httpClient
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        DefaultMaxIdleConns,
		MaxIdleConnsPerHost: DefaultMaxIdleConnsPerHost,
		IdleConnTimeout:     DefaultIdleConnTimeout,
		DialContext: (&net.Dialer{
			Timeout:   DefaultDialTimeout,
			KeepAlive: DefaultKeepAlive,
		}).DialContext,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		ForceAttemptHTTP2:     true,
		ResponseHeaderTimeout: DefaultResponseHeaderTimeout,
	}
}
