package steamdb

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"steam-rec-bot/internal/domain"
)

// Разбор HTML-таблиц SteamDB. Строка приложения выглядит так:
//
//	<tr class="app" data-appid="440">
//	  <td data-sort="3">3.</td>   — позиция в ленте
//	  <td>…img…</td>
//	  <td><a href="/app/440/">Team Fortress 2</a></td>
//	  <td data-sort="0">…</td>    — скидка
//	  <td data-sort="999">…</td>  — цена в центах
//	  <td data-sort="93.4">…</td> — рейтинг
//	  <td data-sort="1191888000">…</td> — дата релиза (unix)
//	  <td data-sort="650000">…</td>     — подписчики
//	</tr>

func parseRankedPage(r io.Reader, kind domain.FeedKind) ([]domain.Item, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var items []domain.Item
	for _, row := range findAll(root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "tr" && hasClass(n, "app")
	}) {
		item, ok := parseAppRow(row, kind)
		if !ok {
			continue
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("нет строк приложений в ответе")
	}
	return items, nil
}

func parseAppRow(row *html.Node, kind domain.FeedKind) (domain.Item, bool) {
	appid, err := strconv.ParseInt(attr(row, "data-appid"), 10, 64)
	if err != nil || appid == 0 {
		return domain.Item{}, false
	}
	item := domain.Item{AppID: appid}

	col := 0
	for cell := row.FirstChild; cell != nil; cell = cell.NextSibling {
		if cell.Type != html.ElementNode || cell.Data != "td" {
			continue
		}
		sort := attr(cell, "data-sort")
		switch col {
		case 0:
			setRank(&item, kind, parseInt(sort))
		case 2:
			if a := findFirst(cell, func(n *html.Node) bool {
				return n.Type == html.ElementNode && n.Data == "a"
			}); a != nil {
				item.Name = strings.TrimSpace(text(a))
			}
		case 3:
			item.Discount = parseInt(sort)
		case 4:
			// Цена бывает «Free» или регионально недоступна; тогда -1.
			if price, err := strconv.Atoi(sort); err == nil {
				item.Price = price
			} else {
				item.Price = -1
			}
		case 5:
			if rating, err := strconv.ParseFloat(sort, 64); err == nil {
				item.Rating = int(math.Round(rating))
			}
		case 6:
			item.Release = int64(parseInt(sort))
		case 7:
			item.Follows = parseInt(sort)
		}
		col++
	}
	return item, true
}

func setRank(item *domain.Item, kind domain.FeedKind, rank int) {
	switch kind {
	case domain.FeedTrending:
		item.TrendingRank = rank
	case domain.FeedTopSelling:
		item.TopSellingRank = rank
	case domain.FeedTopRated:
		item.TopRatedRank = rank
	case domain.FeedMostWishlisted:
		item.WishlistRank = rank
	}
}

// parseTagCatalog разбирает страницу /tags/: каждый тег — div.label с
// ссылкой вида /tag/<id>/ и счётчиком span.label-count.
func parseTagCatalog(r io.Reader) ([]domain.TagLabel, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var labels []domain.TagLabel
	for _, div := range findAll(root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "div" && hasClass(n, "label")
	}) {
		a := findFirst(div, func(n *html.Node) bool {
			return n.Type == html.ElementNode && n.Data == "a"
		})
		if a == nil {
			continue
		}

		tagID, ok := tagIDFromHref(attr(a, "href"))
		if !ok {
			continue
		}

		name := text(a)
		count := 0
		if span := findFirst(a, func(n *html.Node) bool {
			return n.Type == html.ElementNode && n.Data == "span" && hasClass(n, "label-count")
		}); span != nil {
			countText := text(span)
			count = parseInt(strings.ReplaceAll(countText, ",", ""))
			name = strings.Replace(name, countText, "", 1)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		labels = append(labels, domain.TagLabel{TagID: tagID, Name: name, LabelCount: count})
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("нет тегов в ответе")
	}
	return labels, nil
}

// tagIDFromHref достаёт id из ссылки вида «/tag/4166/?min_reviews=500».
func tagIDFromHref(href string) (int64, bool) {
	parts := strings.Split(strings.TrimPrefix(href, "/"), "/")
	if len(parts) < 2 || parts[0] != "tag" {
		return 0, false
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, field := range strings.Fields(attr(n, "class")) {
		if field == class {
			return true
		}
	}
	return false
}

func findAll(root *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if match(n) {
			out = append(out, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func findFirst(root *html.Node, match func(*html.Node) bool) *html.Node {
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if match(c) {
			return c
		}
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func parseInt(s string) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return v
}
