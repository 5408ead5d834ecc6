package sync

import (
	"testing"
	"time"

	"steam-rec-bot/internal/domain"
)

func TestIsFreshTruthTable(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	recent := now.Add(-24 * time.Hour)
	old := now.Add(-45 * 24 * time.Hour)

	cases := []struct {
		name      string
		freshness domain.Freshness
		fresh     bool
	}{
		{"полная_категоризация_бессрочно", domain.Freshness{HasTags: true, HasGenres: true, RequestedDetails: true, LastUpdated: old}, true},
		{"частичная_в_окне", domain.Freshness{HasTags: true, RequestedDetails: true, LastUpdated: recent}, true},
		{"частичная_вне_окна", domain.Freshness{HasTags: true, RequestedDetails: true, LastUpdated: old}, false},
		{"только_жанры_в_окне", domain.Freshness{HasGenres: true, RequestedDetails: true, LastUpdated: recent}, true},
		{"без_запроса_деталей", domain.Freshness{HasTags: true, HasGenres: true, LastUpdated: recent}, false},
		{"пустая_запись", domain.Freshness{LastUpdated: recent}, false},
		{"пустая_старая", domain.Freshness{LastUpdated: old}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsFresh(tc.freshness, now, DefaultStaleWindow); got != tc.fresh {
				t.Fatalf("ожидали fresh=%v, получили %v", tc.fresh, got)
			}
		})
	}
}

func TestStaleIDsIncludesUnknown(t *testing.T) {
	now := time.Now()
	known := []domain.Freshness{
		{AppID: 1, HasTags: true, HasGenres: true, RequestedDetails: true, LastUpdated: now},
	}
	stale := StaleIDs([]int64{1, 2, 3}, known, now, DefaultStaleWindow)
	if len(stale) != 2 {
		t.Fatalf("ожидали 2 устаревших, получили %v", stale)
	}
	if stale[0] != 2 || stale[1] != 3 {
		t.Fatalf("неизвестные appid не попали в очередь: %v", stale)
	}
}

func TestStaleIDsRequeuesPartial(t *testing.T) {
	now := time.Now()
	known := []domain.Freshness{
		{AppID: 5, HasTags: true, RequestedDetails: true, LastUpdated: now.Add(-31 * 24 * time.Hour)},
	}
	stale := StaleIDs([]int64{5}, known, now, DefaultStaleWindow)
	if len(stale) != 1 {
		t.Fatalf("частично категоризованная запись вне окна должна устареть: %v", stale)
	}
}
