package recommend

import (
	"testing"
	"time"

	"steam-rec-bot/internal/domain"
)

var refTime = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func TestBuildProfileRatios(t *testing.T) {
	games := []domain.OwnedGame{
		{AppID: 1, Name: "A", PlaytimeForever: 100},
		{AppID: 2, Name: "B", PlaytimeForever: 0},
	}
	profile := BuildProfile("76561198000000001", games, refTime)

	if profile.TotalPlaytime != 100 {
		t.Fatalf("ожидали суммарное время 100, получили %d", profile.TotalPlaytime)
	}
	byID := gamesByID(profile)
	if byID[1].PlaytimeRatio != 1.0 {
		t.Fatalf("ожидали долю 1.0, получили %v", byID[1].PlaytimeRatio)
	}
	if byID[2].PlaytimeRatio != 0.0 {
		t.Fatalf("ожидали долю 0.0, получили %v", byID[2].PlaytimeRatio)
	}
}

func TestBuildProfileZeroTotals(t *testing.T) {
	games := []domain.OwnedGame{{AppID: 1, Name: "A"}}
	profile := BuildProfile("x", games, refTime)
	gs := profile.Games[0]
	if gs.PlaytimeRatio != 0 || gs.Last2WeeksRatio != 0 {
		t.Fatalf("нулевые знаменатели должны давать 0: %+v", gs)
	}
}

func TestRecencyScore(t *testing.T) {
	cases := []struct {
		name       string
		lastPlayed int64
		want       float64
	}{
		{"никогда_не_играл", 0, 0.1},
		{"сыграно_сегодня", refTime.Unix(), 1.0},
		{"ровно_год_назад", refTime.Add(-365 * 24 * time.Hour).Unix(), 0.1},
		{"два_года_назад_пол", refTime.Add(-730 * 24 * time.Hour).Unix(), 0.1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := recencyScore(tc.lastPlayed, refTime)
			if got != tc.want {
				t.Fatalf("ожидали %v, получили %v", tc.want, got)
			}
		})
	}
}

func TestBuildProfileLikeScore(t *testing.T) {
	games := []domain.OwnedGame{
		{AppID: 1, Name: "A", PlaytimeForever: 80, Playtime2Weeks: 100, LastPlayed: refTime.Unix()},
		{AppID: 2, Name: "B", PlaytimeForever: 20, LastPlayed: 0},
	}
	profile := BuildProfile("x", games, refTime)
	byID := gamesByID(profile)

	// A: 0.8*1.0 + (1.0)/10 = 0.9
	if byID[1].LikeScore != 0.9 {
		t.Fatalf("ожидали like_score 0.9, получили %v", byID[1].LikeScore)
	}
	// B: 0.2*0.1 + 0 = 0.02
	if byID[2].LikeScore != 0.02 {
		t.Fatalf("ожидали like_score 0.02, получили %v", byID[2].LikeScore)
	}
	if profile.RecentInterests[0].AppID != 1 {
		t.Fatalf("интересы не отсортированы по like_score: %+v", profile.RecentInterests)
	}
}

func TestBuildProfileTopInterestsLimit(t *testing.T) {
	var games []domain.OwnedGame
	for i := 1; i <= 20; i++ {
		games = append(games, domain.OwnedGame{
			AppID:           int64(i),
			PlaytimeForever: i * 10,
			LastPlayed:      refTime.Unix(),
		})
	}
	profile := BuildProfile("x", games, refTime)
	if len(profile.RecentInterests) != 15 {
		t.Fatalf("ожидали 15 интересов, получили %d", len(profile.RecentInterests))
	}
	if len(profile.PlayedAppIDs) != 20 {
		t.Fatalf("played_appids должен содержать всю библиотеку: %d", len(profile.PlayedAppIDs))
	}
}

func TestBuildProfileSmallLibrary(t *testing.T) {
	games := []domain.OwnedGame{{AppID: 1, PlaytimeForever: 10}}
	profile := BuildProfile("x", games, refTime)
	if len(profile.RecentInterests) != 1 {
		t.Fatalf("маленькая библиотека: ожидали 1 интерес, получили %d", len(profile.RecentInterests))
	}
}

func gamesByID(profile domain.UserProfile) map[int64]domain.GameScore {
	out := make(map[int64]domain.GameScore, len(profile.Games))
	for _, gs := range profile.Games {
		out[gs.AppID] = gs
	}
	return out
}
