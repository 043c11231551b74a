package client

import (
	"fmt"
	"net/http"
	"time"

	"github.com/echo-platform/echogate/internal/retry"

	httpclient "github.com/appleboy/go-httpclient"
)

// CreateUpstreamClient creates an HTTP client that authenticates every
// request to a provider API by injecting the credential into the given
// header. A zero timeout disables the client deadline, which is required
// for streaming completions.
func CreateUpstreamClient(
	secret, headerName string,
	timeout time.Duration,
) (*http.Client, error) {
	client, err := httpclient.NewAuthClient(
		httpclient.AuthModeSimple,
		secret,
		httpclient.WithHeaderName(headerName),
		httpclient.WithTimeout(timeout),
		httpclient.WithTransport(CreateOptimizedTransport()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth client: %w", err)
	}
	return client, nil
}

// CreateRetryClient wraps an authenticated upstream client with exponential
// backoff. Only used for idempotent calls (model listing); completion
// requests are never retried because the upstream may have already billed
// the attempt.
func CreateRetryClient(
	httpClient *http.Client,
	maxRetries int,
	retryDelay, maxRetryDelay time.Duration,
) *retry.Client {
	return retry.NewClient(
		retry.WithHTTPClient(httpClient),
		retry.WithMaxRetries(maxRetries),
		retry.WithInitialRetryDelay(retryDelay),
		retry.WithMaxRetryDelay(maxRetryDelay),
	)
}
