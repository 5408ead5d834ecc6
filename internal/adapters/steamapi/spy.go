package steamapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"steam-rec-bot/internal/domain"
	"steam-rec-bot/internal/infra/metrics"
)

// SpyClient — источник деталей из SteamSpy API.
type SpyClient struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

var _ domain.DetailSource = (*SpyClient)(nil)

const defaultSpyURL = "https://steamspy.com/api.php"

// Пауза между страницами полного дампа: SteamSpy ограничивает
// запросы request=all одним в минуту.
const bootstrapPageDelay = 60 * time.Second

func NewSpy(log zerolog.Logger, opts ...Option) *SpyClient {
	cfg := newConfig(defaultSpyURL, opts...)
	return &SpyClient{
		baseURL:    cfg.baseURL,
		httpClient: cfg.httpClient,
		log:        log,
	}
}

type spyDetails struct {
	AppID int64           `json:"appid"`
	Name  string          `json:"name"`
	Genre string          `json:"genre"`
	Tags  json.RawMessage `json:"tags"`
}

// Details запрашивает жанры и теги по appid. Пустой ответ — не ошибка:
// SteamSpy просто не знает приложение.
func (c *SpyClient) Details(ctx context.Context, appid int64) (domain.ItemDetails, error) {
	query := url.Values{
		"request": {"appdetails"},
		"appid":   {strconv.FormatInt(appid, 10)},
	}

	var raw spyDetails
	if err := c.getJSON(ctx, query, "appdetails", &raw); err != nil {
		return domain.ItemDetails{}, err
	}

	details := domain.ItemDetails{
		AppID:  raw.AppID,
		Name:   raw.Name,
		Genres: splitGenres(raw.Genre),
		Tags:   tagNames(raw.Tags),
	}
	if details.AppID == 0 {
		details.AppID = appid
	}
	return details, nil
}

// BootstrapPage возвращает одну страницу полного дампа SteamSpy
// (request=all): пары appid/name без деталей.
func (c *SpyClient) BootstrapPage(ctx context.Context, page int) ([]domain.ItemDetails, error) {
	query := url.Values{
		"request": {"all"},
		"page":    {strconv.Itoa(page)},
	}

	var raw map[string]spyDetails
	if err := c.getJSON(ctx, query, "all", &raw); err != nil {
		return nil, err
	}

	out := make([]domain.ItemDetails, 0, len(raw))
	for _, item := range raw {
		if item.AppID == 0 {
			continue
		}
		out = append(out, domain.ItemDetails{AppID: item.AppID, Name: item.Name})
	}
	return out, nil
}

// BootstrapPages перебирает страницы дампа с обязательной паузой между
// запросами; останавливается на первой пустой странице.
func (c *SpyClient) BootstrapPages(ctx context.Context, start, end int) ([]domain.ItemDetails, error) {
	var out []domain.ItemDetails
	for page := start; page < end; page++ {
		if page > start {
			select {
			case <-ctx.Done():
				return out, ctx.Err()
			case <-time.After(bootstrapPageDelay):
			}
		}

		c.log.Info().Int("page", page).Int("end", end).Msg("steamspy: загрузка страницы дампа")
		items, err := c.BootstrapPage(ctx, page)
		if err != nil {
			return out, fmt.Errorf("страница %d: %w", page, err)
		}
		if len(items) == 0 {
			c.log.Info().Int("page", page).Msg("steamspy: пустая страница, останавливаемся")
			break
		}
		out = append(out, items...)
	}
	return out, nil
}

func (c *SpyClient) getJSON(ctx context.Context, query url.Values, operation string, out any) error {
	fetch := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		metrics.ObserveNetworkRequest("steamspy", operation, "api", start, err)
		if err != nil {
			return fmt.Errorf("запрос steamspy: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("steamspy: статус %d", resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}
	return backoff.Retry(fetch, retryPolicy(ctx))
}

// splitGenres режет строку вида «Action, Indie» на список без пустых элементов.
func splitGenres(genre string) []string {
	if genre == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(genre, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// tagNames достаёт имена тегов. SteamSpy отдаёт либо объект
// {"FPS": 1234, ...}, либо пустой массив — массив означает «тегов нет».
func tagNames(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]int
	if err := json.Unmarshal(raw, &m); err != nil || len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for name := range m {
		out = append(out, name)
	}
	return out
}

func retryPolicy(ctx context.Context) backoff.BackOffContext {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxElapsedTime = 30 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(policy, 3), ctx)
}
