package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"steam-rec-bot/internal/domain"
)

// SQLite реализует шлюз каталога поверх локального файла.
// Это драйвер по умолчанию: каталог обслуживается одним процессом,
// встраиваемой БД достаточно.
type SQLite struct {
	db *sql.DB
}

var _ domain.ItemRepo = (*SQLite)(nil)
var _ domain.TagRepo = (*SQLite)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS items (
	id INTEGER PRIMARY KEY,
	appid INTEGER UNIQUE NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	discount INTEGER NOT NULL DEFAULT 0,
	price INTEGER NOT NULL DEFAULT 0,
	rating INTEGER NOT NULL DEFAULT 0,
	"release" INTEGER NOT NULL DEFAULT 0,
	follows INTEGER NOT NULL DEFAULT 0,
	is_trending INTEGER NOT NULL DEFAULT 0,
	is_topselling INTEGER NOT NULL DEFAULT 0,
	is_toprated INTEGER NOT NULL DEFAULT 0,
	is_mostwishlisted INTEGER NOT NULL DEFAULT 0,
	has_genres INTEGER NOT NULL DEFAULT 0,
	has_tags INTEGER NOT NULL DEFAULT 0,
	requested_details INTEGER NOT NULL DEFAULT 0,
	last_updated INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS genres (
	id INTEGER PRIMARY KEY,
	genre TEXT UNIQUE NOT NULL
);

CREATE TABLE IF NOT EXISTS tags (
	id INTEGER PRIMARY KEY,
	tag TEXT UNIQUE NOT NULL
);

CREATE TABLE IF NOT EXISTS item_genres (
	items_appid INTEGER NOT NULL,
	genre_id INTEGER NOT NULL,
	PRIMARY KEY (items_appid, genre_id),
	FOREIGN KEY (items_appid) REFERENCES items(appid) ON DELETE CASCADE,
	FOREIGN KEY (genre_id) REFERENCES genres(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS item_tags (
	items_appid INTEGER NOT NULL,
	tag_id INTEGER NOT NULL,
	PRIMARY KEY (items_appid, tag_id),
	FOREIGN KEY (items_appid) REFERENCES items(appid) ON DELETE CASCADE,
	FOREIGN KEY (tag_id) REFERENCES tags(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS tag_catalog (
	id INTEGER PRIMARY KEY,
	tag_id INTEGER UNIQUE NOT NULL,
	tag TEXT NOT NULL,
	label_count INTEGER NOT NULL DEFAULT 0
);
`

// NewSQLite открывает (при необходимости создавая) файл каталога и
// применяет схему.
func NewSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("каталог для БД: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("открытие sqlite: %w", err)
	}
	// Один писатель, поэтому и один коннект: так WAL и блокировки предсказуемы.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("применение схемы: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close закрывает соединение с БД.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// UpsertItems вставляет или обновляет записи одной транзакцией.
// Сохранённый requested_details читается до записи, и единица никогда
// не затирается нулём входящей записи.
func (s *SQLite) UpsertItems(ctx context.Context, items []domain.Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("начало транзакции: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for _, item := range items {
		var stored int
		err := tx.QueryRowContext(ctx, `SELECT requested_details FROM items WHERE appid = ?`, item.AppID).Scan(&stored)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("чтение requested_details appid=%d: %w", item.AppID, err)
		}
		requested := domain.MergeRequestedDetails(stored == 1, item.RequestedDetails)

		_, err = tx.ExecContext(ctx, `
INSERT INTO items (appid, name, discount, price, rating, "release", follows,
	is_trending, is_topselling, is_toprated, is_mostwishlisted, requested_details, last_updated)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(appid) DO UPDATE SET
	name = excluded.name,
	discount = excluded.discount,
	price = excluded.price,
	rating = excluded.rating,
	"release" = excluded."release",
	follows = excluded.follows,
	is_trending = excluded.is_trending,
	is_topselling = excluded.is_topselling,
	is_toprated = excluded.is_toprated,
	is_mostwishlisted = excluded.is_mostwishlisted,
	requested_details = excluded.requested_details,
	last_updated = excluded.last_updated
`, item.AppID, item.Name, item.Discount, item.Price, item.Rating, item.Release, item.Follows,
			item.TrendingRank, item.TopSellingRank, item.TopRatedRank, item.WishlistRank,
			boolToInt(requested), now)
		if err != nil {
			return fmt.Errorf("апсерт appid=%d: %w", item.AppID, err)
		}

		if err := s.linkLabels(ctx, tx, item.AppID, item.Genres, "genres", "genre", "item_genres", "genre_id", "has_genres"); err != nil {
			return err
		}
		if err := s.linkLabels(ctx, tx, item.AppID, item.Tags, "tags", "tag", "item_tags", "tag_id", "has_tags"); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("фиксация транзакции: %w", err)
	}
	return nil
}

// linkLabels вставляет недостающие словарные записи и связи; при хотя бы
// одной успешной связи поднимает производный флаг has_*.
func (s *SQLite) linkLabels(ctx context.Context, tx *sql.Tx, appid int64, labels []string, vocab, column, join, fk, flag string) error {
	if len(labels) == 0 {
		return nil
	}

	linked := false
	for _, label := range labels {
		if label == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT OR IGNORE INTO %s (%s) VALUES (?)`, vocab, column), label); err != nil {
			return fmt.Errorf("словарь %s: %w", vocab, err)
		}
		var labelID int64
		if err := tx.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT id FROM %s WHERE %s = ?`, vocab, column), label).Scan(&labelID); err != nil {
			return fmt.Errorf("id метки %q: %w", label, err)
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT OR IGNORE INTO %s (items_appid, %s) VALUES (?, ?)`, join, fk), appid, labelID); err != nil {
			return fmt.Errorf("связь %s: %w", join, err)
		}
		linked = true
	}

	if linked {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`UPDATE items SET %s = 1 WHERE appid = ?`, flag), appid); err != nil {
			return fmt.Errorf("флаг %s: %w", flag, err)
		}
	}
	return nil
}

// GetItems возвращает записи с развёрнутыми жанрами и тегами; nil — весь каталог.
func (s *SQLite) GetItems(ctx context.Context, appids []int64) ([]domain.Item, error) {
	const base = `
SELECT appid, name, discount, price, rating, "release", follows,
	is_trending, is_topselling, is_toprated, is_mostwishlisted,
	has_genres, has_tags, requested_details, last_updated
FROM items`

	var (
		rows *sql.Rows
		err  error
	)
	if appids == nil {
		rows, err = s.db.QueryContext(ctx, base+` ORDER BY appid`)
	} else {
		if len(appids) == 0 {
			return nil, nil
		}
		query := base + ` WHERE appid IN (` + placeholders(len(appids)) + `) ORDER BY appid`
		args := make([]any, len(appids))
		for i, appid := range appids {
			args[i] = appid
		}
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("выборка каталога: %w", err)
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("обход каталога: %w", err)
	}

	for i := range items {
		if items[i].Genres, err = s.itemLabels(ctx, items[i].AppID, `
SELECT g.genre FROM item_genres j JOIN genres g ON j.genre_id = g.id WHERE j.items_appid = ? ORDER BY g.genre`); err != nil {
			return nil, err
		}
		if items[i].Tags, err = s.itemLabels(ctx, items[i].AppID, `
SELECT t.tag FROM item_tags j JOIN tags t ON j.tag_id = t.id WHERE j.items_appid = ? ORDER BY t.tag`); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (s *SQLite) itemLabels(ctx context.Context, appid int64, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, appid)
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
func (s *SQLite) Freshness(ctx context.Context) ([]domain.Freshness, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT appid, has_tags, has_genres, requested_details, last_updated FROM items`)
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

// ClearRankFlags обнуляет ранговые поля перед полной синхронизацией,
// не трогая last_updated: сброс не должен влиять на окно свежести.
func (s *SQLite) ClearRankFlags(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE items SET is_trending = 0, is_topselling = 0, is_toprated = 0`)
	if err != nil {
		return fmt.Errorf("сброс ранговых полей: %w", err)
	}
	return nil
}

// UpsertTagCatalog обновляет каталог тегов целиком по внешнему tag_id.
func (s *SQLite) UpsertTagCatalog(ctx context.Context, labels []domain.TagLabel) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("начало транзакции: %w", err)
	}
	defer tx.Rollback()

	for _, label := range labels {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO tag_catalog (tag_id, tag, label_count) VALUES (?, ?, ?)
ON CONFLICT(tag_id) DO UPDATE SET tag = excluded.tag, label_count = excluded.label_count
`, label.TagID, label.Name, label.LabelCount); err != nil {
			return fmt.Errorf("апсерт тега %d: %w", label.TagID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("фиксация транзакции: %w", err)
	}
	return nil
}

func scanItem(rows *sql.Rows) (domain.Item, error) {
	var (
		item                          domain.Item
		hasGenres, hasTags, requested int
		updated                       int64
	)
	err := rows.Scan(&item.AppID, &item.Name, &item.Discount, &item.Price, &item.Rating,
		&item.Release, &item.Follows,
		&item.TrendingRank, &item.TopSellingRank, &item.TopRatedRank, &item.WishlistRank,
		&hasGenres, &hasTags, &requested, &updated)
	if err != nil {
		return domain.Item{}, fmt.Errorf("чтение записи: %w", err)
	}
	item.HasGenres = hasGenres == 1
	item.HasTags = hasTags == 1
	item.RequestedDetails = requested == 1
	item.LastUpdated = time.Unix(updated, 0)
	return item, nil
}

func placeholders(n int) string {
	out := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
