package sync

import (
	"time"

	"steam-rec-bot/internal/domain"
)

// DefaultStaleWindow — окно, после которого частично категоризованная
// запись снова уходит на обогащение.
const DefaultStaleWindow = 30 * 24 * time.Hour

// IsFresh решает, можно ли пропустить обогащение записи.
// Полностью категоризованные записи свежи бессрочно; частично
// категоризованные — только внутри окна, чтобы периодически перепроверять,
// не появились ли данные у источника деталей.
func IsFresh(f domain.Freshness, now time.Time, window time.Duration) bool {
	if !f.RequestedDetails {
		return false
	}
	if f.HasTags && f.HasGenres {
		return true
	}
	return (f.HasTags || f.HasGenres) && now.Sub(f.LastUpdated) < window
}

// StaleIDs возвращает подмножество candidates, требующее обогащения:
// все неизвестные локально appid плюс известные, но не прошедшие IsFresh.
func StaleIDs(candidates []int64, known []domain.Freshness, now time.Time, window time.Duration) []int64 {
	fresh := make(map[int64]struct{}, len(known))
	for _, f := range known {
		if IsFresh(f, now, window) {
			fresh[f.AppID] = struct{}{}
		}
	}

	var stale []int64
	for _, appid := range candidates {
		if _, ok := fresh[appid]; !ok {
			stale = append(stale, appid)
		}
	}
	return stale
}
