package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"steam-rec-bot/internal/domain"
	"steam-rec-bot/internal/infra/metrics"
)

// Postgres — альтернативный шлюз каталога для развёртываний с внешней БД.
// Контракт идентичен SQLite-драйверу, включая липкий requested_details.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.ItemRepo = (*Postgres)(nil)
var _ domain.TagRepo = (*Postgres)(nil)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS items (
	id BIGSERIAL PRIMARY KEY,
	appid BIGINT UNIQUE NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	discount INT NOT NULL DEFAULT 0,
	price INT NOT NULL DEFAULT 0,
	rating INT NOT NULL DEFAULT 0,
	release BIGINT NOT NULL DEFAULT 0,
	follows INT NOT NULL DEFAULT 0,
	is_trending INT NOT NULL DEFAULT 0,
	is_topselling INT NOT NULL DEFAULT 0,
	is_toprated INT NOT NULL DEFAULT 0,
	is_mostwishlisted INT NOT NULL DEFAULT 0,
	has_genres INT NOT NULL DEFAULT 0,
	has_tags INT NOT NULL DEFAULT 0,
	requested_details INT NOT NULL DEFAULT 0,
	last_updated BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS genres (
	id BIGSERIAL PRIMARY KEY,
	genre TEXT UNIQUE NOT NULL
);

CREATE TABLE IF NOT EXISTS tags (
	id BIGSERIAL PRIMARY KEY,
	tag TEXT UNIQUE NOT NULL
);

CREATE TABLE IF NOT EXISTS item_genres (
	items_appid BIGINT NOT NULL REFERENCES items(appid) ON DELETE CASCADE,
	genre_id BIGINT NOT NULL REFERENCES genres(id) ON DELETE CASCADE,
	PRIMARY KEY (items_appid, genre_id)
);

CREATE TABLE IF NOT EXISTS item_tags (
	items_appid BIGINT NOT NULL REFERENCES items(appid) ON DELETE CASCADE,
	tag_id BIGINT NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
	PRIMARY KEY (items_appid, tag_id)
);

CREATE TABLE IF NOT EXISTS tag_catalog (
	id BIGSERIAL PRIMARY KEY,
	tag_id BIGINT UNIQUE NOT NULL,
	tag TEXT NOT NULL,
	label_count INT NOT NULL DEFAULT 0
);
`

// NewPostgres создаёт адаптер и применяет схему.
func NewPostgres(pool *pgxpool.Pool) (*Postgres, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("применение схемы: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) connCtx(parent context.Context) (context.Context, context.CancelFunc) {
	if _, ok := parent.Deadline(); ok {
		return parent, func() {}
	}
	return context.WithTimeout(parent, 5*time.Minute)
}

// UpsertItems — транзакционный апсерт записей с липким requested_details.
func (p *Postgres) UpsertItems(ctx context.Context, items []domain.Item) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "items", start, err)
	if err != nil {
		return fmt.Errorf("начало транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().Unix()
	for _, item := range items {
		var stored int
		err := tx.QueryRow(ctx, `SELECT requested_details FROM items WHERE appid = $1`, item.AppID).Scan(&stored)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("чтение requested_details appid=%d: %w", item.AppID, err)
		}
		requested := domain.MergeRequestedDetails(stored == 1, item.RequestedDetails)

		_, err = tx.Exec(ctx, `
INSERT INTO items (appid, name, discount, price, rating, release, follows,
	is_trending, is_topselling, is_toprated, is_mostwishlisted, requested_details, last_updated)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (appid) DO UPDATE SET
	name = EXCLUDED.name,
	discount = EXCLUDED.discount,
	price = EXCLUDED.price,
	rating = EXCLUDED.rating,
	release = EXCLUDED.release,
	follows = EXCLUDED.follows,
	is_trending = EXCLUDED.is_trending,
	is_topselling = EXCLUDED.is_topselling,
	is_toprated = EXCLUDED.is_toprated,
	is_mostwishlisted = EXCLUDED.is_mostwishlisted,
	requested_details = EXCLUDED.requested_details,
	last_updated = EXCLUDED.last_updated
`, item.AppID, item.Name, item.Discount, item.Price, item.Rating, item.Release, item.Follows,
			item.TrendingRank, item.TopSellingRank, item.TopRatedRank, item.WishlistRank,
			boolToInt(requested), now)
		if err != nil {
			return fmt.Errorf("апсерт appid=%d: %w", item.AppID, err)
		}

		if err := linkLabelsPG(ctx, tx, item.AppID, item.Genres, "genres", "genre", "item_genres", "genre_id", "has_genres"); err != nil {
			return err
		}
		if err := linkLabelsPG(ctx, tx, item.AppID, item.Tags, "tags", "tag", "item_tags", "tag_id", "has_tags"); err != nil {
			return err
		}
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "items", start, err)
	if err != nil {
		return fmt.Errorf("фиксация транзакции: %w", err)
	}
	return nil
}

func linkLabelsPG(ctx context.Context, tx pgx.Tx, appid int64, labels []string, vocab, column, join, fk, flag string) error {
	if len(labels) == 0 {
		return nil
	}

	linked := false
	for _, label := range labels {
		if label == "" {
			continue
		}
		var labelID int64
		err := tx.QueryRow(ctx, fmt.Sprintf(`
INSERT INTO %s (%s) VALUES ($1)
ON CONFLICT (%s) DO UPDATE SET %s = EXCLUDED.%s
RETURNING id`, vocab, column, column, column, column), label).Scan(&labelID)
		if err != nil {
			return fmt.Errorf("словарь %s: %w", vocab, err)
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf(`
INSERT INTO %s (items_appid, %s) VALUES ($1, $2) ON CONFLICT DO NOTHING`, join, fk), appid, labelID); err != nil {
			return fmt.Errorf("связь %s: %w", join, err)
		}
		linked = true
	}

	if linked {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE items SET %s = 1 WHERE appid = $1`, flag), appid); err != nil {
			return fmt.Errorf("флаг %s: %w", flag, err)
		}
	}
	return nil
}

// GetItems возвращает записи с развёрнутыми жанрами и тегами; nil — весь каталог.
func (p *Postgres) GetItems(ctx context.Context, appids []int64) ([]domain.Item, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	const base = `
SELECT appid, name, discount, price, rating, release, follows,
	is_trending, is_topselling, is_toprated, is_mostwishlisted,
	has_genres, has_tags, requested_details, last_updated
FROM items`

	var (
		rows pgx.Rows
		err  error
	)
	start := time.Now()
	if appids == nil {
		rows, err = p.pool.Query(ctx, base+` ORDER BY appid`)
	} else {
		if len(appids) == 0 {
			return nil, nil
		}
		rows, err = p.pool.Query(ctx, base+` WHERE appid = ANY($1) ORDER BY appid`, appids)
	}
	metrics.ObserveNetworkRequest("postgres", "get_items", "items", start, err)
	if err != nil {
		return nil, fmt.Errorf("выборка каталога: %w", err)
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		var (
			item                          domain.Item
			hasGenres, hasTags, requested int
			updated                       int64
		)
		if err := rows.Scan(&item.AppID, &item.Name, &item.Discount, &item.Price, &item.Rating,
			&item.Release, &item.Follows,
			&item.TrendingRank, &item.TopSellingRank, &item.TopRatedRank, &item.WishlistRank,
			&hasGenres, &hasTags, &requested, &updated); err != nil {
			return nil, fmt.Errorf("чтение записи: %w", err)
		}
		item.HasGenres = hasGenres == 1
		item.HasTags = hasTags == 1
		item.RequestedDetails = requested == 1
		item.LastUpdated = time.Unix(updated, 0)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("обход каталога: %w", err)
	}

	for i := range items {
		if items[i].Genres, err = p.itemLabels(ctx, items[i].AppID, `
SELECT g.genre FROM item_genres j JOIN genres g ON j.genre_id = g.id WHERE j.items_appid = $1 ORDER BY g.genre`); err != nil {
			return nil, err
		}
		if items[i].Tags, err = p.itemLabels(ctx, items[i].AppID, `
SELECT t.tag FROM item_tags j JOIN tags t ON j.tag_id = t.id WHERE j.items_appid = $1 ORDER BY t.tag`); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (p *Postgres) itemLabels(ctx context.Context, appid int64, query string) ([]string, error) {
	rows, err := p.pool.Query(ctx, query, appid)
	if err != nil {
		return nil, fmt.Errorf("метки appid=%d: %w", appid, err)
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, fmt.Errorf("чтение метки: %w", err)
		}
		labels = append(labels, label)
	}
	return labels, rows.Err()
}

// Freshness возвращает метаданные свежести по всем известным appid.
func (p *Postgres) Freshness(ctx context.Context) ([]domain.Freshness, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx,
		`SELECT appid, has_tags, has_genres, requested_details, last_updated FROM items`)
	metrics.ObserveNetworkRequest("postgres", "freshness", "items", start, err)
	if err != nil {
		return nil, fmt.Errorf("выборка свежести: %w", err)
	}
	defer rows.Close()

	var out []domain.Freshness
	for rows.Next() {
		var (
			f                             domain.Freshness
			hasTags, hasGenres, requested int
			updated                       int64
		)
		if err := rows.Scan(&f.AppID, &hasTags, &hasGenres, &requested, &updated); err != nil {
			return nil, fmt.Errorf("чтение свежести: %w", err)
		}
		f.HasTags = hasTags == 1
		f.HasGenres = hasGenres == 1
		f.RequestedDetails = requested == 1
		f.LastUpdated = time.Unix(updated, 0)
		out = append(out, f)
	}
	return out, rows.Err()
}

// ClearRankFlags обнуляет ранговые поля, не трогая last_updated.
func (p *Postgres) ClearRankFlags(ctx context.Context) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx,
		`UPDATE items SET is_trending = 0, is_topselling = 0, is_toprated = 0`)
	metrics.ObserveNetworkRequest("postgres", "clear_rank_flags", "items", start, err)
	if err != nil {
		return fmt.Errorf("сброс ранговых полей: %w", err)
	}
	return nil
}

// UpsertTagCatalog обновляет каталог тегов целиком по внешнему tag_id.
func (p *Postgres) UpsertTagCatalog(ctx context.Context, labels []domain.TagLabel) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("начало транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, label := range labels {
		if _, err := tx.Exec(ctx, `
INSERT INTO tag_catalog (tag_id, tag, label_count) VALUES ($1, $2, $3)
ON CONFLICT (tag_id) DO UPDATE SET tag = EXCLUDED.tag, label_count = EXCLUDED.label_count
`, label.TagID, label.Name, label.LabelCount); err != nil {
			return fmt.Errorf("апсерт тега %d: %w", label.TagID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("фиксация транзакции: %w", err)
	}
	return nil
}
