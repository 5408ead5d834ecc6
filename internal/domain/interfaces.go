package domain

import (
	"context"
	"time"
)

// ItemRepo — транзакционный шлюз к каталогу. Единственный мутатор —
// оркестратор синхронизации; каждый вызов атомарен целиком.
type ItemRepo interface {
	// UpsertItems вставляет или обновляет записи по appid, включая словари
	// жанров/тегов и связи. Флаг requested_details сливается по липкому правилу.
	UpsertItems(ctx context.Context, items []Item) error
	// GetItems возвращает записи с развёрнутыми списками жанров и тегов.
	// nil означает «весь каталог».
	GetItems(ctx context.Context, appids []int64) ([]Item, error)
	// Freshness возвращает метаданные свежести по всем известным appid.
	Freshness(ctx context.Context) ([]Freshness, error)
	// ClearRankFlags сбрасывает ранговые поля во всём каталоге перед
	// полной синхронизацией. Поле last_updated при этом не трогается.
	ClearRankFlags(ctx context.Context) error
}

// TagRepo хранит каталог тегов SteamDB, обновляемый целиком каждый проход.
type TagRepo interface {
	UpsertTagCatalog(ctx context.Context, labels []TagLabel) error
}

// FeedSource отдаёт ранжированные ленты и каталог тегов.
type FeedSource interface {
	Ranked(ctx context.Context, kind FeedKind, pageSize int) ([]Item, error)
	TagCatalog(ctx context.Context) ([]TagLabel, error)
}

// DetailSource отдаёт жанры и теги по appid; пустой результат — не ошибка.
type DetailSource interface {
	Details(ctx context.Context, appid int64) (ItemDetails, error)
}

// GenreFallback — запасной источник жанров, когда основной их не знает.
type GenreFallback interface {
	Genres(ctx context.Context, appid int64) ([]string, error)
}

// LibrarySource отдаёт библиотеку игр пользователя по SteamID64.
type LibrarySource interface {
	OwnedGames(ctx context.Context, steamID string) ([]OwnedGame, error)
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}
