package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"steam-rec-bot/internal/adapters/repo"
	"steam-rec-bot/internal/adapters/steamapi"
	"steam-rec-bot/internal/adapters/steamdb"
	"steam-rec-bot/internal/domain"
	"steam-rec-bot/internal/infra/config"
	"steam-rec-bot/internal/infra/db"
	"steam-rec-bot/internal/infra/log"
	"steam-rec-bot/internal/infra/metrics"
	catalogsync "steam-rec-bot/internal/usecase/sync"
)

// Одноразовый проход синхронизации для крона и ручных запусков.
// С флагом -bootstrap вместо прохода загружается дамп SteamSpy,
// чтобы наполнить пустой каталог известными appid.
func main() {
	bootstrap := flag.Bool("bootstrap", false, "загрузить дамп SteamSpy вместо обычного прохода")
	pages := flag.Int("pages", 1, "сколько страниц дампа загрузить (по 1000 приложений, 60с между страницами)")
	flag.Parse()

	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	store, closeStore, err := openStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось открыть каталог")
	}
	defer closeStore()

	spy := steamapi.NewSpy(logger)
	storeAPI := steamapi.NewStore(logger)
	enricher := catalogsync.NewEnricher(spy, storeAPI,
		time.Duration(cfg.Sync.DetailDelayMS)*time.Millisecond, logger)

	feeds, err := steamdb.New()
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось создать клиент SteamDB")
	}
	service := catalogsync.NewService(feeds, enricher, store, store,
		cfg.Sync.PageSize, time.Duration(cfg.Sync.StaleWindowDays)*24*time.Hour, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if *bootstrap {
		if err := runBootstrap(ctx, spy, service, *pages, logger); err != nil {
			logger.Fatal().Err(err).Msg("bootstrap не удался")
		}
		return
	}

	report, err := service.Run(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("проход синхронизации не удался")
	}
	logger.Info().
		Str("pass", report.PassID).
		Int("new", report.NewIDs).
		Int("updated", report.UpdatedIDs).
		Int("tags", report.TagsRefreshed).
		Strs("degraded", report.Degraded).
		Dur("took", report.Took).
		Msg("проход синхронизации завершён")
}

func runBootstrap(ctx context.Context, spy *steamapi.SpyClient, service *catalogsync.Service, pages int, logger zerolog.Logger) error {
	if pages < 1 {
		return fmt.Errorf("pages должен быть положительным")
	}

	items, err := spy.BootstrapPages(ctx, 0, pages)
	if len(items) == 0 && err != nil {
		return err
	}
	if err != nil {
		logger.Warn().Err(err).Int("loaded", len(items)).Msg("дамп загружен частично")
	}

	appids := make([]int64, 0, len(items))
	for _, item := range items {
		appids = append(appids, item.AppID)
	}
	logger.Info().Int("appids", len(appids)).Msg("дозаполняем каталог из дампа")
	return service.EnsureKnown(ctx, appids)
}

func openStore(cfg config.AppConfig) (catalogStore, func(), error) {
	switch cfg.DB.Driver {
	case "postgres":
		pool, err := db.Connect(cfg.DB.PGDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("подключение к postgres: %w", err)
		}
		store, err := repo.NewPostgres(pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	case "sqlite", "":
		store, err := repo.NewSQLite(cfg.DB.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("неизвестный драйвер БД %q", cfg.DB.Driver)
	}
}

type catalogStore interface {
	domain.ItemRepo
	domain.TagRepo
}
