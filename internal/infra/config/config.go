package config

import (
	"log"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"Europe/Amsterdam"`
	Port   int    `envconfig:"PORT" default:"8080"`

	Telegram struct {
		Token      string `envconfig:"TG_BOT_TOKEN"`
		WebhookURL string `envconfig:"TG_WEBHOOK_URL"`
	} `envconfig:""`

	Steam struct {
		APIKey string `envconfig:"STEAM_API_KEY"`
	} `envconfig:""`

	DB struct {
		// sqlite либо postgres.
		Driver     string `envconfig:"DB_DRIVER" default:"sqlite"`
		SQLitePath string `envconfig:"SQLITE_PATH" default:"data/catalog.db"`
		PGDSN      string `envconfig:"PG_DSN"`
	} `envconfig:""`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	Sync struct {
		PageSize        int `envconfig:"SYNC_PAGE_SIZE" default:"1000"`
		IntervalHours   int `envconfig:"SYNC_INTERVAL_HOURS" default:"24"`
		DetailDelayMS   int `envconfig:"DETAIL_DELAY_MS" default:"1100"`
		StaleWindowDays int `envconfig:"STALE_WINDOW_DAYS" default:"30"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
