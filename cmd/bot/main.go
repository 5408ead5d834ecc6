package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"steam-rec-bot/internal/adapters/bot"
	"steam-rec-bot/internal/adapters/repo"
	"steam-rec-bot/internal/adapters/steamapi"
	"steam-rec-bot/internal/adapters/steamdb"
	"steam-rec-bot/internal/domain"
	"steam-rec-bot/internal/infra/cache"
	"steam-rec-bot/internal/infra/config"
	"steam-rec-bot/internal/infra/db"
	infrahttp "steam-rec-bot/internal/infra/http"
	"steam-rec-bot/internal/infra/log"
	"steam-rec-bot/internal/infra/metrics"
	"steam-rec-bot/internal/usecase/recommend"
	catalogsync "steam-rec-bot/internal/usecase/sync"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	store, closeStore, err := openStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось открыть каталог")
	}
	defer closeStore()

	var appCache domain.Cache
	if cfg.RedisAddr != "" {
		appCache = cache.NewRedis(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
	}

	feeds, err := steamdb.New()
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось создать клиент SteamDB")
	}
	spy := steamapi.NewSpy(logger)
	storeAPI := steamapi.NewStore(logger)
	library := steamapi.NewLibrary(cfg.Steam.APIKey, logger)

	enricher := catalogsync.NewEnricher(spy, storeAPI,
		time.Duration(cfg.Sync.DetailDelayMS)*time.Millisecond, logger)
	syncService := catalogsync.NewService(feeds, enricher, store, store,
		cfg.Sync.PageSize, time.Duration(cfg.Sync.StaleWindowDays)*24*time.Hour, logger)
	recService := recommend.NewService(library, store, syncService, appCache, logger)

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось создать бота")
	}
	handler := bot.NewHandler(botAPI, logger, recService, syncService, appCache)

	server := infrahttp.NewServer(logger)
	server.Router.Post("/bot/webhook", func(w http.ResponseWriter, r *http.Request) {
		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		handler.HandleUpdate(r.Context(), update)
		w.WriteHeader(http.StatusOK)
	})
	server.Router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	go runSyncLoop(rootCtx, syncService, appCache, time.Duration(cfg.Sync.IntervalHours)*time.Hour, logger)

	go func() {
		if err := server.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("HTTP сервер остановлен")
			stop()
		}
	}()

	<-rootCtx.Done()
	logger.Info().Msg("остановка бота")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("не удалось корректно остановить HTTP сервер")
	}
}

// runSyncLoop выполняет проход сразу при старте и далее по расписанию.
// Блокировка в кэше не даёт нескольким репликам гонять проход одновременно.
func runSyncLoop(ctx context.Context, service *catalogsync.Service, appCache domain.Cache, interval time.Duration, logger zerolog.Logger) {
	runOnce := func() {
		pass := func() error {
			report, err := service.Run(ctx)
			if errors.Is(err, catalogsync.ErrPassInProgress) {
				logger.Info().Msg("sync: плановый проход пропущен, другой ещё идёт")
				return nil
			}
			if err != nil {
				return err
			}
			logger.Info().
				Str("pass", report.PassID).
				Int("new", report.NewIDs).
				Int("updated", report.UpdatedIDs).
				Dur("took", report.Took).
				Msg("sync: плановый проход завершён")
			return nil
		}
		var err error
		if appCache != nil {
			err = appCache.Once("sync:scheduled", interval/2, pass)
		} else {
			err = pass()
		}
		if err != nil {
			logger.Error().Err(err).Msg("sync: плановый проход не удался")
		}
	}

	runOnce()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce()
		}
	}
}

// openStore выбирает драйвер каталога по конфигу.
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

// catalogStore объединяет оба контракта хранилища.
type catalogStore interface {
	domain.ItemRepo
	domain.TagRepo
}
