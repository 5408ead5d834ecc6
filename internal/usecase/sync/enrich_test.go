package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"steam-rec-bot/internal/domain"
)

type stubDetails struct {
	byID  map[int64]domain.ItemDetails
	err   error
	calls []int64
}

func (s *stubDetails) Details(_ context.Context, appid int64) (domain.ItemDetails, error) {
	s.calls = append(s.calls, appid)
	if s.err != nil {
		return domain.ItemDetails{}, s.err
	}
	return s.byID[appid], nil
}

type stubFallback struct {
	genres map[int64][]string
	err    error
	calls  []int64
}

func (s *stubFallback) Genres(_ context.Context, appid int64) ([]string, error) {
	s.calls = append(s.calls, appid)
	if s.err != nil {
		return nil, s.err
	}
	return s.genres[appid], nil
}

func testEnricher(details domain.DetailSource, fallback domain.GenreFallback) *Enricher {
	return NewEnricher(details, fallback, time.Nanosecond, zerolog.Nop())
}

func TestEnrichOneRequestPerAppID(t *testing.T) {
	src := &stubDetails{byID: map[int64]domain.ItemDetails{
		1: {AppID: 1, Genres: []string{"Action"}, Tags: []string{"Indie"}},
		2: {AppID: 2, Genres: []string{"RPG"}, Tags: []string{"Coop"}},
	}}
	out := testEnricher(src, nil).Enrich(context.Background(), []int64{1, 2})
	if len(src.calls) != 2 {
		t.Fatalf("ожидали по одному запросу на appid, было %d", len(src.calls))
	}
	if len(out) != 2 {
		t.Fatalf("ожидали детали для двух appid, получили %d", len(out))
	}
}

func TestEnrichFallbackOnEmptyGenres(t *testing.T) {
	src := &stubDetails{byID: map[int64]domain.ItemDetails{
		9: {AppID: 9, Tags: []string{"Puzzle"}},
	}}
	fb := &stubFallback{genres: map[int64][]string{9: {"Casual"}}}

	out := testEnricher(src, fb).Enrich(context.Background(), []int64{9})
	if len(fb.calls) != 1 {
		t.Fatal("запасной источник не был вызван")
	}
	if got := out[9].Genres; len(got) != 1 || got[0] != "Casual" {
		t.Fatalf("жанры из запасного источника не применились: %v", got)
	}
}

func TestEnrichFallbackSkippedWhenGenresPresent(t *testing.T) {
	src := &stubDetails{byID: map[int64]domain.ItemDetails{
		9: {AppID: 9, Genres: []string{"Action"}},
	}}
	fb := &stubFallback{}
	testEnricher(src, fb).Enrich(context.Background(), []int64{9})
	if len(fb.calls) != 0 {
		t.Fatal("запасной источник вызван без необходимости")
	}
}

func TestEnrichExhaustedFallbackYieldsEmpty(t *testing.T) {
	src := &stubDetails{byID: map[int64]domain.ItemDetails{4: {AppID: 4}}}
	fb := &stubFallback{err: errors.New("нет данных")}

	out := testEnricher(src, fb).Enrich(context.Background(), []int64{4})
	det, ok := out[4]
	if !ok {
		t.Fatal("неудачное обогащение должно вернуть пустые детали, а не пропасть")
	}
	if len(det.Genres) != 0 {
		t.Fatalf("ожидали пустые жанры: %v", det.Genres)
	}
}

func TestEnrichSourceErrorDegrades(t *testing.T) {
	src := &stubDetails{err: errors.New("timeout")}
	out := testEnricher(src, nil).Enrich(context.Background(), []int64{7})
	det, ok := out[7]
	if !ok {
		t.Fatal("сбой источника должен деградировать до пустых деталей")
	}
	if det.AppID != 7 {
		t.Fatalf("appid потерян: %+v", det)
	}
}

func TestEnrichStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &stubDetails{byID: map[int64]domain.ItemDetails{}}
	out := NewEnricher(src, nil, time.Hour, zerolog.Nop()).Enrich(ctx, []int64{1, 2, 3})
	if len(out) != 0 {
		t.Fatalf("отменённый контекст должен прервать обогащение: %v", out)
	}
}
