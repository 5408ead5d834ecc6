package sync

import "steam-rec-bot/internal/domain"

// Merge сводит несколько лент в один набор записей без дублей по appid.
// Первый источник, встретивший appid, задаёт значения полей; последующие
// источники лишь заполняют отсутствующие (нулевые) поля и никогда не
// перетирают уже присутствующие.
func Merge(feeds ...[]domain.Item) []domain.Item {
	acc := make(map[int64]*domain.Item)
	var order []int64

	for _, feed := range feeds {
		for _, item := range feed {
			cur, ok := acc[item.AppID]
			if !ok {
				copied := item
				acc[item.AppID] = &copied
				order = append(order, item.AppID)
				continue
			}
			fillMissing(cur, item)
		}
	}

	merged := make([]domain.Item, 0, len(order))
	for _, appid := range order {
		merged = append(merged, *acc[appid])
	}
	return merged
}

func fillMissing(dst *domain.Item, src domain.Item) {
	if dst.Name == "" {
		dst.Name = src.Name
	}
	if dst.Discount == 0 {
		dst.Discount = src.Discount
	}
	if dst.Price == 0 {
		dst.Price = src.Price
	}
	if dst.Rating == 0 {
		dst.Rating = src.Rating
	}
	if dst.Release == 0 {
		dst.Release = src.Release
	}
	if dst.Follows == 0 {
		dst.Follows = src.Follows
	}
	if dst.TrendingRank == 0 {
		dst.TrendingRank = src.TrendingRank
	}
	if dst.TopSellingRank == 0 {
		dst.TopSellingRank = src.TopSellingRank
	}
	if dst.TopRatedRank == 0 {
		dst.TopRatedRank = src.TopRatedRank
	}
	if dst.WishlistRank == 0 {
		dst.WishlistRank = src.WishlistRank
	}
	if !dst.HasGenres {
		dst.HasGenres = src.HasGenres
	}
	if !dst.HasTags {
		dst.HasTags = src.HasTags
	}
	dst.RequestedDetails = domain.MergeRequestedDetails(dst.RequestedDetails, src.RequestedDetails)
	if len(dst.Genres) == 0 {
		dst.Genres = src.Genres
	}
	if len(dst.Tags) == 0 {
		dst.Tags = src.Tags
	}
}
