// Package httpclient builds the outbound HTTP client used to fetch upstream
// FLV/image streams for the proxy and recording subsystems.
//
// Streaming media clients have different needs from a typical JSON API
// client: connections are held open for hours, content-encoding must be
// disabled so relayed bytes match the upstream byte-for-byte, and the
// platform CDNs in front of these streams frequently misbehave on HTTP/2.
// This package builds exactly one such client shape; it does not retry,
// circuit-break, or decompress, since none of those apply to a raw byte
// relay or a sequential segment writer.
package httpclient

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// Default tuning values, grounded on the streaming client builder found in
// the source system's proxy layer.
const (
	// DefaultIdleConnsPerHost bounds the idle connection pool per upstream host.
	DefaultIdleConnsPerHost = 4
	// DefaultDialKeepAlive is the outbound TCP keep-alive probe interval.
	DefaultDialKeepAlive = 60 * time.Second
	// DefaultRequestTimeout bounds a single request end-to-end, including body read.
	DefaultRequestTimeout = 2 * time.Hour
	// DefaultDialTimeout bounds the initial TCP connect.
	DefaultDialTimeout = 15 * time.Second
)

// Config configures the streaming HTTP client.
type Config struct {
	// IdleConnsPerHost bounds the transport's idle connection pool per host.
	IdleConnsPerHost int
	// DialKeepAlive is the TCP keep-alive interval used by the dialer.
	DialKeepAlive time.Duration
	// DialTimeout bounds the initial TCP connect.
	DialTimeout time.Duration
	// RequestTimeout bounds the full request lifetime (connect, headers, and body).
	// Set generously: the relay and recording paths stream for long periods.
	RequestTimeout time.Duration
}

// DefaultConfig returns the tuning used when no override is supplied.
func DefaultConfig() Config {
	return Config{
		IdleConnsPerHost: DefaultIdleConnsPerHost,
		DialKeepAlive:    DefaultDialKeepAlive,
		DialTimeout:      DefaultDialTimeout,
		RequestTimeout:   DefaultRequestTimeout,
	}
}

// New builds an *http.Client tuned for long-lived, byte-exact streaming:
//   - no system/environment proxy (direct connection to the CDN)
//   - HTTP/1.1 only (TLSNextProto cleared so ALPN never negotiates h2)
//   - no transparent request/response compression (DisableCompression)
//   - idle connections never expire (IdleConnTimeout: 0) but are capped
//     per host so an abandoned session doesn't leak sockets
//   - a TCP keep-alive so idle upstream connections are detected as dead
//     promptly rather than hanging until the OS notices
func New(cfg Config) *http.Client {
	if cfg.IdleConnsPerHost <= 0 {
		cfg.IdleConnsPerHost = DefaultIdleConnsPerHost
	}
	if cfg.DialKeepAlive <= 0 {
		cfg.DialKeepAlive = DefaultDialKeepAlive
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: cfg.DialKeepAlive,
	}

	transport := &http.Transport{
		Proxy:               nil, // never honor HTTP_PROXY/HTTPS_PROXY for upstream CDN traffic
		DialContext:         dialer.DialContext,
		ForceAttemptHTTP2:   false,
		TLSNextProto:        map[string]func(string, *tls.Conn) http.RoundTripper{},
		DisableCompression:  true,
		IdleConnTimeout:     0,
		MaxIdleConnsPerHost: cfg.IdleConnsPerHost,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.RequestTimeout,
	}
}

// NewWithDefaults builds the client with DefaultConfig.
func NewWithDefaults() *http.Client {
	return New(DefaultConfig())
}
