package steamapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"steam-rec-bot/internal/domain"
	"steam-rec-bot/internal/infra/metrics"
)

// ErrNoAPIKey возвращается, когда ключ Steam Web API не настроен:
// без него библиотеку пользователя получить нельзя.
var ErrNoAPIKey = errors.New("steam api key не задан")

// LibraryClient читает библиотеку пользователя через Steam Web API.
type LibraryClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        zerolog.Logger
}

var _ domain.LibrarySource = (*LibraryClient)(nil)

const defaultSteamAPIURL = "https://api.steampowered.com"

func NewLibrary(apiKey string, log zerolog.Logger, opts ...Option) *LibraryClient {
	cfg := newConfig(defaultSteamAPIURL, opts...)
	return &LibraryClient{
		baseURL:    cfg.baseURL,
		apiKey:     apiKey,
		httpClient: cfg.httpClient,
		log:        log,
	}
}

type ownedGamesResponse struct {
	Response struct {
		GameCount int `json:"game_count"`
		Games     []struct {
			AppID           int64  `json:"appid"`
			Name            string `json:"name"`
			PlaytimeForever int    `json:"playtime_forever"`
			Playtime2Weeks  int    `json:"playtime_2weeks"`
			RTimeLastPlayed int64  `json:"rtime_last_played"`
		} `json:"games"`
	} `json:"response"`
}

// OwnedGames возвращает библиотеку по SteamID64. Пустой список означает
// пустую либо скрытую настройками приватности библиотеку.
func (c *LibraryClient) OwnedGames(ctx context.Context, steamID string) ([]domain.OwnedGame, error) {
	if c.apiKey == "" {
		return nil, ErrNoAPIKey
	}

	query := url.Values{
		"key":             {c.apiKey},
		"steamid":         {steamID},
		"include_appinfo": {"true"},
	}
	endpoint := c.baseURL + "/IPlayerService/GetOwnedGames/v0001/?" + query.Encode()

	var payload ownedGamesResponse
	fetch := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		metrics.ObserveNetworkRequest("steamapi", "get_owned_games", "api", start, err)
		if err != nil {
			return fmt.Errorf("запрос библиотеки: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("steam api: статус %d", resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}
	if err := backoff.Retry(fetch, retryPolicy(ctx)); err != nil {
		return nil, err
	}

	games := make([]domain.OwnedGame, 0, len(payload.Response.Games))
	for _, g := range payload.Response.Games {
		games = append(games, domain.OwnedGame{
			AppID:           g.AppID,
			Name:            g.Name,
			PlaytimeForever: g.PlaytimeForever,
			Playtime2Weeks:  g.Playtime2Weeks,
			LastPlayed:      g.RTimeLastPlayed,
		})
	}
	return games, nil
}
