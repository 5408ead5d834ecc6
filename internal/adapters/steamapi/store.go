package steamapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"steam-rec-bot/internal/domain"
	"steam-rec-bot/internal/infra/metrics"
)

// StoreClient — запасной источник жанров из магазина Steam.
// Используется, когда SteamSpy не знает жанров приложения.
type StoreClient struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

var _ domain.GenreFallback = (*StoreClient)(nil)

const defaultStoreURL = "https://store.steampowered.com"

func NewStore(log zerolog.Logger, opts ...Option) *StoreClient {
	cfg := newConfig(defaultStoreURL, opts...)
	return &StoreClient{
		baseURL:    cfg.baseURL,
		httpClient: cfg.httpClient,
		log:        log,
	}
}

type storeAppData struct {
	Genres []struct {
		Description string `json:"description"`
	} `json:"genres"`
}

type storeAppEntry struct {
	Success bool          `json:"success"`
	Data    *storeAppData `json:"data"`
}

// Genres запрашивает жанры у магазина. Если appid там неизвестен,
// страница приложения может перенаправить на актуальный appid —
// тогда делается одна повторная попытка с ним.
func (c *StoreClient) Genres(ctx context.Context, appid int64) ([]string, error) {
	data, err := c.appDetails(ctx, appid)
	if err != nil {
		return nil, err
	}
	if data == nil {
		resolved, ok := c.resolveRedirect(ctx, appid)
		if !ok || resolved == appid {
			return nil, nil
		}
		c.log.Debug().Int64("appid", appid).Int64("resolved", resolved).
			Msg("store: appid перенаправлен")
		if data, err = c.appDetails(ctx, resolved); err != nil {
			return nil, err
		}
	}
	if data == nil {
		return nil, nil
	}

	genres := make([]string, 0, len(data.Genres))
	for _, g := range data.Genres {
		if g.Description != "" {
			genres = append(genres, g.Description)
		}
	}
	return genres, nil
}

func (c *StoreClient) appDetails(ctx context.Context, appid int64) (*storeAppData, error) {
	endpoint := fmt.Sprintf("%s/api/appdetails?appids=%d", c.baseURL, appid)

	var payload map[string]storeAppEntry
	fetch := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		metrics.ObserveNetworkRequest("steamstore", "appdetails", "api", start, err)
		if err != nil {
			return fmt.Errorf("запрос магазина: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("store api: статус %d", resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}
	if err := backoff.Retry(fetch, retryPolicy(ctx)); err != nil {
		return nil, err
	}

	entry, ok := payload[strconv.FormatInt(appid, 10)]
	if !ok || !entry.Success {
		return nil, nil
	}
	return entry.Data, nil
}

// resolveRedirect открывает страницу приложения и смотрит, куда магазин
// её перенаправил. Возвращает appid из итогового адреса.
func (c *StoreClient) resolveRedirect(ctx context.Context, appid int64) (int64, bool) {
	endpoint := fmt.Sprintf("%s/app/%d", c.baseURL, appid)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, false
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ObserveNetworkRequest("steamstore", "resolve_redirect", "app_page", start, err)
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, false
	}
	return appIDFromURL(resp.Request.URL.Path)
}

// appIDFromURL достаёт appid из пути вида «/app/220/Half-Life_2/».
func appIDFromURL(path string) (int64, bool) {
	const marker = "/app/"
	idx := strings.Index(path, marker)
	if idx < 0 {
		return 0, false
	}
	rest := path[idx+len(marker):]
	if cut := strings.IndexByte(rest, '/'); cut >= 0 {
		rest = rest[:cut]
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}
