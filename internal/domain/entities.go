package domain

import "time"

// FeedKind обозначает тип ранжированной ленты SteamDB.
type FeedKind string

const (
	FeedTrending       FeedKind = "trending"
	FeedTopSelling     FeedKind = "topselling"
	FeedTopRated       FeedKind = "toprated"
	FeedMostWishlisted FeedKind = "mostwishlisted"
)

// Item — каноническая запись каталога, ключ — appid.
// Ранговые поля хранят вес позиции из ленты; 0 означает "не в ленте".
type Item struct {
	AppID            int64
	Name             string
	Discount         int
	Price            int
	Rating           int
	Release          int64 // unix, 0 — дата неизвестна
	Follows          int
	TrendingRank     int
	TopSellingRank   int
	TopRatedRank     int
	WishlistRank     int
	HasGenres        bool
	HasTags          bool
	RequestedDetails bool
	LastUpdated      time.Time
	Genres           []string
	Tags             []string
}

// TagLabel — запись каталога тегов SteamDB.
type TagLabel struct {
	TagID      int64
	Name       string
	LabelCount int
}

// Freshness — метаданные свежести записи для политики устаревания.
type Freshness struct {
	AppID            int64
	HasTags          bool
	HasGenres        bool
	RequestedDetails bool
	LastUpdated      time.Time
}

// ItemDetails — результат запроса деталей по appid.
type ItemDetails struct {
	AppID  int64
	Name   string
	Genres []string
	Tags   []string
}

// OwnedGame — сырая запись игры из библиотеки пользователя.
type OwnedGame struct {
	AppID           int64
	Name            string
	PlaytimeForever int   // минуты за всё время
	Playtime2Weeks  int   // минуты за последние две недели
	LastPlayed      int64 // unix, 0 — никогда не запускалась
}

// GameScore — игра с нормализованными сигналами предпочтений.
type GameScore struct {
	OwnedGame
	PlaytimeRatio   float64
	Last2WeeksRatio float64
	RecencyScore    float64
	LikeScore       float64
}

// Interest — элемент списка недавних интересов пользователя.
type Interest struct {
	AppID     int64
	Name      string
	LikeScore float64
}

// UserProfile строится заново на каждый запрос рекомендаций и не сохраняется.
type UserProfile struct {
	SteamID            string
	TotalPlaytime      int
	Last2WeeksPlaytime int
	Games              []GameScore
	RecentInterests    []Interest
	PlayedAppIDs       []int64
}

// Recommendation — кандидат, прошедший фильтры, с числом совпавших жанров.
type Recommendation struct {
	AppID      int64
	Name       string
	MatchScore int
}

// MergeRequestedDetails реализует «липкое» правило флага requested_details:
// единожды выставленная единица не сбрасывается последующими апсертами.
func MergeRequestedDetails(stored, incoming bool) bool {
	return stored || incoming
}
