package steamapi

import (
	"net/http"
	"time"
)

// Общие опции для клиентов внешних Steam-сервисов.
type clientConfig struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*clientConfig)

func WithHTTPClient(client *http.Client) Option {
	return func(c *clientConfig) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithBaseURL(baseURL string) Option {
	return func(c *clientConfig) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) {
		c.httpClient.Timeout = timeout
	}
}

func newConfig(baseURL string, opts ...Option) clientConfig {
	cfg := clientConfig{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
