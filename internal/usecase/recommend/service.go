package recommend

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"steam-rec-bot/internal/domain"
	"steam-rec-bot/internal/infra/metrics"
)

const (
	topGenres       = 5
	maxResults      = 10
	trendWindow     = 150
	libraryCacheTTL = 15 * time.Minute
)

// KnownEnsurer дозаполняет каталог незнакомыми appid. Запрос рекомендаций —
// сам по себе триггер обогащения для игр, которых синхронизация не видела.
type KnownEnsurer interface {
	EnsureKnown(ctx context.Context, appids []int64) error
}

// UserRecommendations — выдача одного пользователя.
type UserRecommendations struct {
	SteamID string
	Items   []domain.Recommendation
}

// Comparison — совмещённая выдача для пары аккаунтов: сперва общие
// кандидаты, затем остатки каждого пользователя.
type Comparison struct {
	Shared []domain.Recommendation
	Users  []UserRecommendations
}

// Service строит персональные рекомендации поверх каталога.
type Service struct {
	library domain.LibrarySource
	items   domain.ItemRepo
	known   KnownEnsurer
	cache   domain.Cache
	now     func() time.Time
	log     zerolog.Logger
}

// NewService создаёт движок рекомендаций. cache может быть nil.
func NewService(library domain.LibrarySource, items domain.ItemRepo, known KnownEnsurer, cache domain.Cache, log zerolog.Logger) *Service {
	return &Service{
		library: library,
		items:   items,
		known:   known,
		cache:   cache,
		now:     time.Now,
		log:     log,
	}
}

// Recommend возвращает до десяти неигранных кандидатов, отранжированных по
// совпадению с топ-жанрами пользователя.
func (s *Service) Recommend(ctx context.Context, steamID string) ([]domain.Recommendation, error) {
	metrics.IncRecommend(steamID)

	games, err := s.loadLibrary(ctx, steamID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	profile := BuildProfile(steamID, games, now)
	if len(profile.RecentInterests) == 0 {
		return nil, nil
	}

	if err := s.known.EnsureKnown(ctx, profile.PlayedAppIDs); err != nil {
		// Каталог остаётся пригодным и без дозаполнения.
		s.log.Warn().Err(err).Str("steam_id", steamID).Msg("recommend: дозаполнение каталога не удалось")
	}

	genres, err := s.genreProfile(ctx, profile)
	if err != nil {
		return nil, err
	}
	if len(genres) == 0 {
		return nil, nil
	}

	return s.candidates(ctx, profile, genres, now)
}

// Compare строит выдачу для двух аккаунтов и выделяет пересечение.
func (s *Service) Compare(ctx context.Context, steamA, steamB string) (Comparison, error) {
	recsA, err := s.Recommend(ctx, steamA)
	if err != nil {
		return Comparison{}, fmt.Errorf("рекомендации %s: %w", steamA, err)
	}
	recsB, err := s.Recommend(ctx, steamB)
	if err != nil {
		return Comparison{}, fmt.Errorf("рекомендации %s: %w", steamB, err)
	}

	inB := make(map[int64]struct{}, len(recsB))
	for _, rec := range recsB {
		inB[rec.AppID] = struct{}{}
	}

	var shared, onlyA []domain.Recommendation
	for _, rec := range recsA {
		if _, ok := inB[rec.AppID]; ok {
			shared = append(shared, rec)
		} else {
			onlyA = append(onlyA, rec)
		}
	}
	inShared := make(map[int64]struct{}, len(shared))
	for _, rec := range shared {
		inShared[rec.AppID] = struct{}{}
	}
	var onlyB []domain.Recommendation
	for _, rec := range recsB {
		if _, ok := inShared[rec.AppID]; !ok {
			onlyB = append(onlyB, rec)
		}
	}

	return Comparison{
		Shared: shared,
		Users: []UserRecommendations{
			{SteamID: steamA, Items: onlyA},
			{SteamID: steamB, Items: onlyB},
		},
	}, nil
}

// genreProfile — топ-5 жанров пользователя по среднему like_score его
// недавних интересов. Теги каталога в усреднение намеренно не входят,
// считаются только жанры.
func (s *Service) genreProfile(ctx context.Context, profile domain.UserProfile) ([]string, error) {
	interestIDs := make([]int64, 0, len(profile.RecentInterests))
	likeByID := make(map[int64]float64, len(profile.RecentInterests))
	for _, interest := range profile.RecentInterests {
		interestIDs = append(interestIDs, interest.AppID)
		likeByID[interest.AppID] = interest.LikeScore
	}

	items, err := s.items.GetItems(ctx, interestIDs)
	if err != nil {
		return nil, fmt.Errorf("чтение интересов из каталога: %w", err)
	}

	totals := make(map[string]float64)
	counts := make(map[string]int)
	for _, item := range items {
		like := likeByID[item.AppID]
		for _, genre := range uniqueStrings(item.Genres) {
			totals[genre] += like
			counts[genre]++
		}
	}

	type genreAvg struct {
		name string
		avg  float64
	}
	averages := make([]genreAvg, 0, len(totals))
	for genre, total := range totals {
		averages = append(averages, genreAvg{name: genre, avg: roundTo(total/float64(counts[genre]), 6)})
	}
	sort.Slice(averages, func(i, j int) bool {
		if averages[i].avg != averages[j].avg {
			return averages[i].avg > averages[j].avg
		}
		return averages[i].name < averages[j].name
	})

	limit := topGenres
	if len(averages) < limit {
		limit = len(averages)
	}
	top := make([]string, 0, limit)
	for _, ga := range averages[:limit] {
		top = append(top, ga.name)
	}
	return top, nil
}

// candidates фильтрует каталог и считает совпадение жанров.
// На стороне каталога в совпадении участвуют и жанры, и теги.
func (s *Service) candidates(ctx context.Context, profile domain.UserProfile, genres []string, now time.Time) ([]domain.Recommendation, error) {
	all, err := s.items.GetItems(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("чтение каталога: %w", err)
	}

	played := make(map[int64]struct{}, len(profile.PlayedAppIDs))
	for _, appid := range profile.PlayedAppIDs {
		played[appid] = struct{}{}
	}
	wanted := make(map[string]struct{}, len(genres))
	for _, genre := range genres {
		wanted[genre] = struct{}{}
	}

	var recs []domain.Recommendation
	for _, item := range all {
		if _, ok := played[item.AppID]; ok {
			continue
		}
		// Ранг 0 означает «сейчас не в тренде» и исключается всегда.
		if item.TrendingRank < 1 || item.TrendingRank > trendWindow {
			continue
		}
		if item.Release <= 0 || item.Release > now.Unix() {
			continue
		}

		match := 0
		for _, label := range uniqueStrings(append(append([]string{}, item.Genres...), item.Tags...)) {
			if _, ok := wanted[label]; ok {
				match++
			}
		}
		if match == 0 {
			continue
		}
		recs = append(recs, domain.Recommendation{AppID: item.AppID, Name: item.Name, MatchScore: match})
	}

	sort.SliceStable(recs, func(i, j int) bool { return recs[i].MatchScore > recs[j].MatchScore })
	if len(recs) > maxResults {
		recs = recs[:maxResults]
	}
	return recs, nil
}

// loadLibrary читает библиотеку пользователя, при наличии кэша — через него.
func (s *Service) loadLibrary(ctx context.Context, steamID string) ([]domain.OwnedGame, error) {
	key := "library:" + steamID
	if s.cache != nil {
		if raw, err := s.cache.Get(key); err == nil && len(raw) > 0 {
			var games []domain.OwnedGame
			if err := json.Unmarshal(raw, &games); err == nil {
				return games, nil
			}
		}
	}

	games, err := s.library.OwnedGames(ctx, steamID)
	if err != nil {
		return nil, fmt.Errorf("библиотека %s: %w", steamID, err)
	}

	if s.cache != nil {
		if raw, err := json.Marshal(games); err == nil {
			if err := s.cache.Set(key, raw, libraryCacheTTL); err != nil {
				s.log.Debug().Err(err).Msg("recommend: кэш библиотеки недоступен")
			}
		}
	}
	return games, nil
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
