package steamapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/rs/zerolog"

	"steam-rec-bot/internal/domain"
)

func TestSpyDetails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("request") != "appdetails" || r.URL.Query().Get("appid") != "440" {
			t.Errorf("неожиданный запрос: %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"appid":440,"name":"Team Fortress 2","genre":"Action, Free to Play","tags":{"FPS":5000,"Multiplayer":4000}}`))
	}))
	defer srv.Close()

	client := NewSpy(zerolog.Nop(), WithBaseURL(srv.URL))
	details, err := client.Details(context.Background(), 440)
	if err != nil {
		t.Fatalf("ошибка запроса деталей: %v", err)
	}
	if details.AppID != 440 || details.Name != "Team Fortress 2" {
		t.Errorf("детали разобраны неверно: %+v", details)
	}
	if len(details.Genres) != 2 || details.Genres[0] != "Action" || details.Genres[1] != "Free to Play" {
		t.Errorf("жанры разобраны неверно: %v", details.Genres)
	}
	sort.Strings(details.Tags)
	if len(details.Tags) != 2 || details.Tags[0] != "FPS" || details.Tags[1] != "Multiplayer" {
		t.Errorf("теги разобраны неверно: %v", details.Tags)
	}
}

func TestSpyDetailsEmptyTagsArray(t *testing.T) {
	// SteamSpy отдаёт пустой массив вместо объекта, когда тегов нет.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"appid":10,"name":"Old Game","genre":"","tags":[]}`))
	}))
	defer srv.Close()

	client := NewSpy(zerolog.Nop(), WithBaseURL(srv.URL))
	details, err := client.Details(context.Background(), 10)
	if err != nil {
		t.Fatalf("ошибка запроса деталей: %v", err)
	}
	if len(details.Genres) != 0 || len(details.Tags) != 0 {
		t.Errorf("ожидались пустые списки: %+v", details)
	}
}

func TestSpyBootstrapPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("request") != "all" || r.URL.Query().Get("page") != "0" {
			t.Errorf("неожиданный запрос: %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"440":{"appid":440,"name":"Team Fortress 2"},"570":{"appid":570,"name":"Dota 2"}}`))
	}))
	defer srv.Close()

	client := NewSpy(zerolog.Nop(), WithBaseURL(srv.URL))
	items, err := client.BootstrapPage(context.Background(), 0)
	if err != nil {
		t.Fatalf("ошибка загрузки страницы: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("ожидались две записи, получено %d", len(items))
	}
}

func TestStoreGenres(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"220":{"success":true,"data":{"genres":[{"id":"1","description":"Action"},{"id":"23","description":"Indie"}]}}}`))
	}))
	defer srv.Close()

	client := NewStore(zerolog.Nop(), WithBaseURL(srv.URL))
	genres, err := client.Genres(context.Background(), 220)
	if err != nil {
		t.Fatalf("ошибка запроса жанров: %v", err)
	}
	if len(genres) != 2 || genres[0] != "Action" || genres[1] != "Indie" {
		t.Errorf("жанры разобраны неверно: %v", genres)
	}
}

func TestStoreGenresRedirectRetry(t *testing.T) {
	// Старый appid неизвестен API, но страница приложения перенаправляет
	// на актуальный — жанры берутся повторным запросом с новым appid.
	mux := http.NewServeMux()
	mux.HandleFunc("/api/appdetails", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("appids") {
		case "100":
			w.Write([]byte(`{"100":{"success":false}}`))
		case "220":
			w.Write([]byte(`{"220":{"success":true,"data":{"genres":[{"description":"Action"}]}}}`))
		default:
			t.Errorf("неожиданный appid: %s", r.URL.RawQuery)
		}
	})
	mux.HandleFunc("/app/100", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/app/220/Half-Life_2/", http.StatusFound)
	})
	mux.HandleFunc("/app/220/Half-Life_2/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html></html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewStore(zerolog.Nop(), WithBaseURL(srv.URL))
	genres, err := client.Genres(context.Background(), 100)
	if err != nil {
		t.Fatalf("ошибка запроса жанров: %v", err)
	}
	if len(genres) != 1 || genres[0] != "Action" {
		t.Errorf("ожидался жанр по перенаправленному appid: %v", genres)
	}
}

func TestStoreGenresUnknownApp(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/appdetails", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"999":{"success":false}}`))
	})
	mux.HandleFunc("/app/999", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html></html>")) // без перенаправления
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewStore(zerolog.Nop(), WithBaseURL(srv.URL))
	genres, err := client.Genres(context.Background(), 999)
	if err != nil {
		t.Fatalf("неизвестное приложение не должно быть ошибкой: %v", err)
	}
	if genres != nil {
		t.Errorf("ожидался пустой результат: %v", genres)
	}
}

func TestLibraryOwnedGames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "test-key" || r.URL.Query().Get("steamid") != "76561198000000000" {
			t.Errorf("неожиданный запрос: %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"response":{"game_count":1,"games":[
			{"appid":440,"name":"Team Fortress 2","playtime_forever":1200,"playtime_2weeks":90,"rtime_last_played":1700000000}
		]}}`))
	}))
	defer srv.Close()

	client := NewLibrary("test-key", zerolog.Nop(), WithBaseURL(srv.URL))
	games, err := client.OwnedGames(context.Background(), "76561198000000000")
	if err != nil {
		t.Fatalf("ошибка запроса библиотеки: %v", err)
	}
	if len(games) != 1 {
		t.Fatalf("ожидалась одна игра, получено %d", len(games))
	}
	want := domain.OwnedGame{AppID: 440, Name: "Team Fortress 2", PlaytimeForever: 1200, Playtime2Weeks: 90, LastPlayed: 1700000000}
	if games[0] != want {
		t.Errorf("игра разобрана неверно: %+v", games[0])
	}
}

func TestLibraryNoAPIKey(t *testing.T) {
	client := NewLibrary("", zerolog.Nop())
	if _, err := client.OwnedGames(context.Background(), "1"); err != ErrNoAPIKey {
		t.Fatalf("ожидалась ошибка отсутствия ключа, получено: %v", err)
	}
}

func TestAppIDFromURL(t *testing.T) {
	cases := []struct {
		path string
		want int64
		ok   bool
	}{
		{"/app/220/Half-Life_2/", 220, true},
		{"/app/440", 440, true},
		{"/", 0, false},
		{"/app/abc/", 0, false},
	}
	for _, tc := range cases {
		got, ok := appIDFromURL(tc.path)
		if got != tc.want || ok != tc.ok {
			t.Errorf("appIDFromURL(%q) = %d,%v; ожидалось %d,%v", tc.path, got, ok, tc.want, tc.ok)
		}
	}
}
