package recommend

import (
	"math"
	"sort"
	"time"

	"steam-rec-bot/internal/domain"
)

const (
	// maxRecencyDays — горизонт линейного затухания давности игры.
	maxRecencyDays = 365
	// topInterests — сколько игр с верха списка считаются недавними интересами.
	topInterests = 15
)

// BuildProfile превращает сырую библиотеку в профиль предпочтений.
// Опорное время передаётся явно, чтобы расчёт был детерминированным.
// Профиль живёт ровно один запрос рекомендаций и нигде не сохраняется.
func BuildProfile(steamID string, games []domain.OwnedGame, now time.Time) domain.UserProfile {
	profile := domain.UserProfile{SteamID: steamID}

	for _, game := range games {
		profile.TotalPlaytime += game.PlaytimeForever
		profile.Last2WeeksPlaytime += game.Playtime2Weeks
	}

	scored := make([]domain.GameScore, 0, len(games))
	for _, game := range games {
		gs := domain.GameScore{OwnedGame: game}
		gs.PlaytimeRatio = roundTo(ratio(game.PlaytimeForever, profile.TotalPlaytime), 6)
		gs.Last2WeeksRatio = roundTo(ratio(game.Playtime2Weeks, profile.Last2WeeksPlaytime), 6)
		gs.RecencyScore = roundTo(recencyScore(game.LastPlayed, now), 3)
		// Короткое двухнедельное окно приглушено в десять раз относительно
		// доли за всё время, но всё ещё награждает недавнюю активность.
		gs.LikeScore = roundTo(gs.PlaytimeRatio*gs.RecencyScore+gs.Last2WeeksRatio/10, 5)
		scored = append(scored, gs)
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].LikeScore > scored[j].LikeScore })
	profile.Games = scored

	limit := topInterests
	if len(scored) < limit {
		limit = len(scored)
	}
	for _, gs := range scored[:limit] {
		profile.RecentInterests = append(profile.RecentInterests, domain.Interest{
			AppID:     gs.AppID,
			Name:      gs.Name,
			LikeScore: gs.LikeScore,
		})
	}
	for _, gs := range scored {
		profile.PlayedAppIDs = append(profile.PlayedAppIDs, gs.AppID)
	}

	return profile
}

// ratio — нормированная доля; нулевой знаменатель даёт 0, а не панику.
func ratio(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total)
}

// recencyScore — множитель 0.1..1: линейное затухание за год с полом 0.1,
// чтобы давние фавориты сохраняли ненулевой вес. 0 означает «не запускалась».
func recencyScore(lastPlayed int64, now time.Time) float64 {
	if lastPlayed == 0 {
		return 0.1
	}
	daysSince := now.Sub(time.Unix(lastPlayed, 0)).Hours() / 24
	return math.Max(0.1, 1-daysSince/maxRecencyDays)
}

func roundTo(v float64, digits int) float64 {
	p := math.Pow10(digits)
	return math.Round(v*p) / p
}
