package steamdb

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"steam-rec-bot/internal/domain"
	"steam-rec-bot/internal/infra/metrics"
)

// Client скачивает ранжированные ленты и каталог тегов SteamDB.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	userAgent  string
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if c.httpClient == nil {
			c.httpClient = &http.Client{}
		}
		c.httpClient.Timeout = timeout
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

const defaultBaseURL = "https://steamdb.info"

func New(opts ...Option) (*Client, error) {
	return NewWithBaseURL(defaultBaseURL, opts...)
}

// NewWithBaseURL используется в тестах для подмены адреса.
func NewWithBaseURL(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	client := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		userAgent:  "Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Допустимые размеры страницы SteamDB; всё остальное приводится к 1000.
var validPageSizes = map[int]bool{25: true, 50: true, 100: true, 250: true, 500: true, 1000: true}

func coercePageSize(size int) int {
	if validPageSizes[size] {
		return size
	}
	return 1000
}

func feedPath(kind domain.FeedKind) (string, url.Values, error) {
	query := url.Values{"cc": {"us"}}
	switch kind {
	case domain.FeedTrending:
		return "/stats/trendingfollowers/", query, nil
	case domain.FeedTopSelling:
		return "/stats/globaltopsellers/", query, nil
	case domain.FeedTopRated:
		query.Set("min_reviews", "500")
		return "/stats/gameratings/", query, nil
	case domain.FeedMostWishlisted:
		return "/stats/mostwished/", query, nil
	default:
		return "", nil, fmt.Errorf("неизвестная лента %q", kind)
	}
}

var _ domain.FeedSource = (*Client)(nil)

// Ranked скачивает страницу ленты и возвращает разобранные записи с
// проставленным ранговым полем этой ленты.
func (c *Client) Ranked(ctx context.Context, kind domain.FeedKind, pageSize int) ([]domain.Item, error) {
	path, query, err := feedPath(kind)
	if err != nil {
		return nil, err
	}

	body, err := c.fetch(ctx, path, query, "feed_"+string(kind))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	items, err := parseRankedPage(body, kind)
	if err != nil {
		return nil, fmt.Errorf("разбор ленты %s: %w", kind, err)
	}
	if size := coercePageSize(pageSize); len(items) > size {
		items = items[:size]
	}
	return items, nil
}

// TagCatalog скачивает полный каталог тегов SteamDB.
func (c *Client) TagCatalog(ctx context.Context) ([]domain.TagLabel, error) {
	body, err := c.fetch(ctx, "/tags/", nil, "tags")
	if err != nil {
		return nil, err
	}
	defer body.Close()

	labels, err := parseTagCatalog(body)
	if err != nil {
		return nil, fmt.Errorf("разбор каталога тегов: %w", err)
	}
	return labels, nil
}

func (c *Client) fetch(ctx context.Context, path string, query url.Values, target string) (io.ReadCloser, error) {
	resolved := *c.baseURL
	resolved.Path = strings.TrimSuffix(c.baseURL.Path, "/") + path
	if query != nil {
		resolved.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolved.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ObserveNetworkRequest("steamdb", "get", target, start, err)
	if err != nil {
		return nil, fmt.Errorf("запрос steamdb %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("steamdb %s: статус %d", path, resp.StatusCode)
	}
	return resp.Body, nil
}
