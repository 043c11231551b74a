package proxy

import (
	"fmt"
	"net/http"

	"github.com/echo-platform/echogate/internal/client"
	"github.com/echo-platform/echogate/internal/config"
	"github.com/echo-platform/echogate/internal/retry"
)

// Usage dialect constants
const (
	DialectOpenAI    = "openai"    // prompt/completion/total token counts
	DialectAnthropic = "anthropic" // input on message_start, output on message_delta
)

// Provider is a configured upstream completion API. The HTTP client carries
// the provider credential, so request code never sees the API key.
type Provider struct {
	Name    string
	BaseURL string
	Dialect string

	client  *http.Client
	retry   *retry.Client     // idempotent calls only (model listing)
	headers map[string]string // static headers added to every request
}

// NewOpenAIProvider builds the OpenAI upstream from config
func NewOpenAIProvider(cfg *config.Config) (*Provider, error) {
	httpClient, err := client.CreateUpstreamClient(
		"Bearer "+cfg.OpenAIAPIKey,
		"Authorization",
		cfg.ProxyTimeout,
	)
	if err != nil {
		return nil, fmt.Errorf("openai client: %w", err)
	}

	return &Provider{
		Name:    "openai",
		BaseURL: cfg.OpenAIBaseURL,
		Dialect: DialectOpenAI,
		client:  httpClient,
		retry:   newProviderRetry(httpClient, cfg),
	}, nil
}

func newProviderRetry(httpClient *http.Client, cfg *config.Config) *retry.Client {
	return client.CreateRetryClient(
		httpClient,
		cfg.ProxyMaxRetries,
		cfg.ProxyRetryDelay,
		cfg.ProxyMaxRetryDelay,
	)
}

// NewAnthropicProvider builds the Anthropic upstream from config
func NewAnthropicProvider(cfg *config.Config) (*Provider, error) {
	httpClient, err := client.CreateUpstreamClient(
		cfg.AnthropicAPIKey,
		"x-api-key",
		cfg.ProxyTimeout,
	)
	if err != nil {
		return nil, fmt.Errorf("anthropic client: %w", err)
	}

	return &Provider{
		Name:    "anthropic",
		BaseURL: cfg.AnthropicBaseURL,
		Dialect: DialectAnthropic,
		client:  httpClient,
		retry:   newProviderRetry(httpClient, cfg),
		headers: map[string]string{
			"anthropic-version": cfg.AnthropicVersion,
		},
	}, nil
}

// BuildProviders returns the providers that have a credential configured
func BuildProviders(cfg *config.Config) (map[string]*Provider, error) {
	providers := make(map[string]*Provider)

	if cfg.OpenAIAPIKey != "" {
		p, err := NewOpenAIProvider(cfg)
		if err != nil {
			return nil, err
		}
		providers[p.Name] = p
	}

	if cfg.AnthropicAPIKey != "" {
		p, err := NewAnthropicProvider(cfg)
		if err != nil {
			return nil, err
		}
		providers[p.Name] = p
	}

	return providers, nil
}
