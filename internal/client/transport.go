package client

import (
	"net/http"
	"time"
)

// CreateOptimizedTransport returns an http.Transport tuned for long-lived
// upstream connections. The proxy holds streaming responses open for the
// duration of a completion, so idle connections are kept around generously
// and response header timeouts stay off (time-to-first-token on large
// prompts can exceed a minute).
func CreateOptimizedTransport() *http.Transport {
	return &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		// Upstreams compress when asked; the proxy forwards bytes untouched,
		// so transparent decompression must stay off.
		DisableCompression: true,
	}
}
