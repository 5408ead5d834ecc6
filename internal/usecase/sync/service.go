package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"steam-rec-bot/internal/domain"
	"steam-rec-bot/internal/infra/metrics"
)

// State — этап прохода синхронизации. Переходы строго последовательны,
// проход всегда начинается с FetchingFeeds, частичного резюме нет.
type State string

const (
	StateIdle        State = "idle"
	StateFetching    State = "fetching_feeds"
	StateMerging     State = "merging"
	StateClearing    State = "clearing_ranks"
	StateClassifying State = "classifying_staleness"
	StateEnriching   State = "enriching"
	StatePersisting  State = "persisting"
)

// feedOrder задаёт приоритет источников при слиянии: первый в списке
// выигрывает каждое поле.
var feedOrder = []domain.FeedKind{
	domain.FeedTrending,
	domain.FeedTopSelling,
	domain.FeedTopRated,
	domain.FeedMostWishlisted,
}

// FeedResult — типизированный результат загрузки одной ленты.
// Сбой ленты деградирует её вклад до пустого, но не прерывает проход.
type FeedResult struct {
	Kind  domain.FeedKind
	Items []domain.Item
	Err   error
}

// ErrPassInProgress возвращается из Run, когда другой пишущий проход ещё
// не завершился: в каталог пишет строго один проход за раз.
var ErrPassInProgress = errors.New("sync: проход уже выполняется")

// Report — итог успешного прохода.
type Report struct {
	PassID        string
	NewIDs        int
	UpdatedIDs    int
	TagsRefreshed int
	Degraded      []string
	Took          time.Duration
}

// Service управляет одним проходом синхронизации каталога.
type Service struct {
	feeds    domain.FeedSource
	enricher *Enricher
	items    domain.ItemRepo
	tags     domain.TagRepo
	pageSize int
	window   time.Duration
	now      func() time.Time
	log      zerolog.Logger

	mu    sync.Mutex
	state State

	// runMu сериализует пишущие проходы: Run и EnsureKnown идут через
	// один оркестратор и не должны перекрываться в хранилище.
	runMu sync.Mutex
}

// NewService создаёт оркестратор синхронизации.
func NewService(feeds domain.FeedSource, enricher *Enricher, items domain.ItemRepo, tags domain.TagRepo, pageSize int, window time.Duration, log zerolog.Logger) *Service {
	if window <= 0 {
		window = DefaultStaleWindow
	}
	return &Service{
		feeds:    feeds,
		enricher: enricher,
		items:    items,
		tags:     tags,
		pageSize: pageSize,
		window:   window,
		now:      time.Now,
		log:      log,
		state:    StateIdle,
	}
}

// State возвращает текущий этап прохода.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Service) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run выполняет один полный проход: ленты → слияние → сброс рангов →
// классификация свежести → обогащение → запись. Проход идемпотентен:
// повторный запуск на неизменных лентах не меняет каталог.
func (s *Service) Run(ctx context.Context) (Report, error) {
	if !s.runMu.TryLock() {
		return Report{}, ErrPassInProgress
	}
	defer s.runMu.Unlock()

	start := s.now()
	report := Report{PassID: uuid.NewString()}
	s.log.Info().Str("pass", report.PassID).Msg("sync: проход начат")
	defer s.setState(StateIdle)
	defer func() {
		metrics.SyncPassSeconds.Observe(time.Since(start).Seconds())
	}()

	s.setState(StateFetching)
	results := s.fetchFeeds(ctx)
	tagCatalog, err := s.feeds.TagCatalog(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("sync: каталог тегов недоступен, пропускаем")
		report.Degraded = append(report.Degraded, "tags")
		tagCatalog = nil
	}

	s.setState(StateMerging)
	byKind := make(map[domain.FeedKind][]domain.Item, len(results))
	for _, res := range results {
		if res.Err != nil {
			report.Degraded = append(report.Degraded, string(res.Kind))
			continue
		}
		byKind[res.Kind] = res.Items
	}
	ordered := make([][]domain.Item, 0, len(feedOrder))
	for _, kind := range feedOrder {
		ordered = append(ordered, byKind[kind])
	}
	merged := Merge(ordered...)
	if len(merged) == 0 && len(tagCatalog) == 0 {
		return report, fmt.Errorf("sync: все источники недоступны")
	}

	s.setState(StateClearing)
	if err := s.items.ClearRankFlags(ctx); err != nil {
		return report, fmt.Errorf("сброс ранговых полей: %w", err)
	}

	s.setState(StateClassifying)
	known, err := s.items.Freshness(ctx)
	if err != nil {
		return report, fmt.Errorf("чтение метаданных свежести: %w", err)
	}
	candidates := make([]int64, 0, len(merged))
	for _, item := range merged {
		candidates = append(candidates, item.AppID)
	}
	stale := StaleIDs(candidates, known, s.now(), s.window)

	s.setState(StateEnriching)
	details := s.enricher.Enrich(ctx, stale)
	applyDetails(merged, details)

	s.setState(StatePersisting)
	if err := s.items.UpsertItems(ctx, merged); err != nil {
		return report, fmt.Errorf("запись каталога: %w", err)
	}
	if len(tagCatalog) > 0 {
		if err := s.tags.UpsertTagCatalog(ctx, tagCatalog); err != nil {
			return report, fmt.Errorf("запись каталога тегов: %w", err)
		}
	}

	report.NewIDs = len(stale)
	report.UpdatedIDs = len(merged) - len(stale)
	report.TagsRefreshed = len(tagCatalog)
	report.Took = time.Since(start)
	s.log.Info().
		Str("pass", report.PassID).
		Int("new", report.NewIDs).
		Int("updated", report.UpdatedIDs).
		Int("tags", report.TagsRefreshed).
		Strs("degraded", report.Degraded).
		Dur("took", report.Took).
		Msg("sync: проход завершён")
	return report, nil
}

// EnsureKnown обогащает и сохраняет appid, которых ещё нет в каталоге.
// Используется путём рекомендаций: запрос рекомендаций сам по себе —
// триггер устаревания для незнакомых игр.
func (s *Service) EnsureKnown(ctx context.Context, appids []int64) error {
	// Дожидаемся конца текущего прохода, а не отказываем: путь рекомендаций
	// короткий и может подождать своей очереди на запись.
	s.runMu.Lock()
	defer s.runMu.Unlock()

	known, err := s.items.Freshness(ctx)
	if err != nil {
		return fmt.Errorf("чтение метаданных свежести: %w", err)
	}
	exists := make(map[int64]struct{}, len(known))
	for _, f := range known {
		exists[f.AppID] = struct{}{}
	}

	var missing []int64
	seen := make(map[int64]struct{}, len(appids))
	for _, appid := range appids {
		if _, ok := exists[appid]; ok {
			continue
		}
		if _, ok := seen[appid]; ok {
			continue
		}
		seen[appid] = struct{}{}
		missing = append(missing, appid)
	}
	if len(missing) == 0 {
		return nil
	}

	s.log.Info().Int("missing", len(missing)).Msg("sync: обогащаем незнакомые appid")
	details := s.enricher.Enrich(ctx, missing)
	items := make([]domain.Item, 0, len(missing))
	for _, appid := range missing {
		det := details[appid]
		items = append(items, domain.Item{
			AppID:            appid,
			Name:             det.Name,
			RequestedDetails: true,
			Genres:           det.Genres,
			Tags:             det.Tags,
		})
	}
	if err := s.items.UpsertItems(ctx, items); err != nil {
		return fmt.Errorf("запись обогащённых записей: %w", err)
	}
	return nil
}

func (s *Service) fetchFeeds(ctx context.Context) []FeedResult {
	results := make([]FeedResult, 0, len(feedOrder))
	for _, kind := range feedOrder {
		items, err := s.feeds.Ranked(ctx, kind, s.pageSize)
		if err != nil {
			s.log.Warn().Err(err).Str("feed", string(kind)).Msg("sync: лента недоступна, вклад пустой")
			metrics.FeedFetchErrors.WithLabelValues(string(kind)).Inc()
			results = append(results, FeedResult{Kind: kind, Err: err})
			continue
		}
		results = append(results, FeedResult{Kind: kind, Items: items})
	}
	return results
}

// applyDetails вливает результаты обогащения в слитые записи.
// requested_details выставляется безусловно для каждого appid, по которому
// была попытка запроса: флаг означает «мы смотрели», а не «мы нашли».
func applyDetails(items []domain.Item, details map[int64]domain.ItemDetails) {
	for i := range items {
		det, ok := details[items[i].AppID]
		if !ok {
			continue
		}
		items[i].RequestedDetails = true
		if items[i].Name == "" {
			items[i].Name = det.Name
		}
		if len(det.Genres) > 0 {
			items[i].Genres = det.Genres
		}
		if len(det.Tags) > 0 {
			items[i].Tags = det.Tags
		}
	}
}
