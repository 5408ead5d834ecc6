package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"steam-rec-bot/internal/domain"
	"steam-rec-bot/internal/usecase/recommend"
	catalogsync "steam-rec-bot/internal/usecase/sync"
)

type stubSender struct {
	mu   sync.Mutex
	sent []string
}

func (s *stubSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		s.sent = append(s.sent, msg.Text)
	}
	return tgbotapi.Message{}, nil
}

func (s *stubSender) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

type stubRecommender struct {
	recs    []domain.Recommendation
	cmp     recommend.Comparison
	lastID  string
	lastCmp [2]string
	err     error
}

func (s *stubRecommender) Recommend(_ context.Context, steamID string) ([]domain.Recommendation, error) {
	s.lastID = steamID
	return s.recs, s.err
}

func (s *stubRecommender) Compare(_ context.Context, a, b string) (recommend.Comparison, error) {
	s.lastCmp = [2]string{a, b}
	return s.cmp, s.err
}

type stubSyncer struct {
	mu     sync.Mutex
	report catalogsync.Report
	state  catalogsync.State
	err    error
	runs   int
	ran    chan struct{}
}

func (s *stubSyncer) Run(context.Context) (catalogsync.Report, error) {
	s.mu.Lock()
	s.runs++
	s.mu.Unlock()
	if s.ran != nil {
		s.ran <- struct{}{}
	}
	return s.report, s.err
}

func (s *stubSyncer) runCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

func (s *stubSyncer) State() catalogsync.State {
	if s.state == "" {
		return catalogsync.StateIdle
	}
	return s.state
}

// stubCache повторяет контракт domain.Cache по части Once без Redis.
type stubCache struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newStubCache() *stubCache {
	return &stubCache{held: make(map[string]struct{})}
}

func (c *stubCache) Once(key string, _ time.Duration, fn func() error) error {
	c.mu.Lock()
	if _, busy := c.held[key]; busy {
		c.mu.Unlock()
		return nil
	}
	c.held[key] = struct{}{}
	c.mu.Unlock()

	if err := fn(); err != nil {
		c.mu.Lock()
		delete(c.held, key)
		c.mu.Unlock()
		return err
	}
	return nil
}

func (c *stubCache) Set(string, []byte, time.Duration) error { return nil }

func (c *stubCache) Get(string) ([]byte, error) { return nil, errors.New("нет значения") }

func update(text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Text: text,
		Chat: &tgbotapi.Chat{ID: 42},
	}}
}

func TestHandleRecommend(t *testing.T) {
	sender := &stubSender{}
	recs := &stubRecommender{recs: []domain.Recommendation{
		{AppID: 1, Name: "Hades II", MatchScore: 3},
		{AppID: 2, Name: "Factorio", MatchScore: 1},
	}}
	h := NewHandler(sender, zerolog.Nop(), recs, &stubSyncer{}, nil)

	h.HandleUpdate(context.Background(), update("/recommend 76561198000000000"))

	if recs.lastID != "76561198000000000" {
		t.Fatalf("SteamID не дошёл до движка: %q", recs.lastID)
	}
	sent := sender.texts()
	if len(sent) != 1 {
		t.Fatalf("ожидалось одно сообщение, получено %d", len(sent))
	}
	if !strings.Contains(sent[0], "Hades II") || !strings.Contains(sent[0], "совпадений по жанрам: 3") {
		t.Errorf("ответ не содержит рекомендаций: %q", sent[0])
	}
}

func TestHandleRecommendInvalidID(t *testing.T) {
	sender := &stubSender{}
	recs := &stubRecommender{}
	h := NewHandler(sender, zerolog.Nop(), recs, &stubSyncer{}, nil)

	for _, bad := range []string{"", "abc", "1234", "7656119800000000a"} {
		h.HandleUpdate(context.Background(), update("/recommend "+bad))
	}
	if recs.lastID != "" {
		t.Errorf("движок не должен вызываться для некорректного ID: %q", recs.lastID)
	}
	for _, text := range sender.texts() {
		if !strings.Contains(text, "SteamID64") {
			t.Errorf("ожидалась подсказка о формате: %q", text)
		}
	}
}

func TestHandleRecommendEmpty(t *testing.T) {
	sender := &stubSender{}
	h := NewHandler(sender, zerolog.Nop(), &stubRecommender{}, &stubSyncer{}, nil)

	h.HandleUpdate(context.Background(), update("/recommend 76561198000000000"))

	sent := sender.texts()
	if len(sent) != 1 || !strings.Contains(sent[0], "не нашлось") {
		t.Errorf("ожидался ответ про пустую подборку: %v", sent)
	}
}

func TestHandleCompare(t *testing.T) {
	sender := &stubSender{}
	recs := &stubRecommender{cmp: recommend.Comparison{
		Shared: []domain.Recommendation{{AppID: 1, Name: "Valheim", MatchScore: 2}},
		Users: []recommend.UserRecommendations{
			{SteamID: "76561198000000001", Items: []domain.Recommendation{{AppID: 2, Name: "Rimworld", MatchScore: 1}}},
			{SteamID: "76561198000000002"},
		},
	}}
	h := NewHandler(sender, zerolog.Nop(), recs, &stubSyncer{}, nil)

	h.HandleUpdate(context.Background(), update("/compare 76561198000000001 76561198000000002"))

	if recs.lastCmp != [2]string{"76561198000000001", "76561198000000002"} {
		t.Fatalf("идентификаторы не дошли до движка: %v", recs.lastCmp)
	}
	sent := sender.texts()
	if len(sent) != 1 {
		t.Fatalf("ожидалось одно сообщение, получено %d", len(sent))
	}
	if !strings.Contains(sent[0], "Общие рекомендации") || !strings.Contains(sent[0], "Valheim") {
		t.Errorf("ответ не содержит общих рекомендаций: %q", sent[0])
	}
	if !strings.Contains(sent[0], "Rimworld") {
		t.Errorf("ответ не содержит личных рекомендаций: %q", sent[0])
	}
	if strings.Contains(sent[0], "76561198000000002:") {
		t.Errorf("пользователь без рекомендаций не должен попадать в ответ: %q", sent[0])
	}
}

func TestHandleSync(t *testing.T) {
	sender := &stubSender{}
	syncer := &stubSyncer{
		report: catalogsync.Report{NewIDs: 5, UpdatedIDs: 10, TagsRefreshed: 400, Took: 3 * time.Second},
		ran:    make(chan struct{}),
	}
	h := NewHandler(sender, zerolog.Nop(), &stubRecommender{}, syncer, nil)

	h.HandleUpdate(context.Background(), update("/sync"))

	select {
	case <-syncer.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("проход синхронизации не был запущен")
	}

	// Отчёт отправляется из горутины, даём ей завершиться.
	deadline := time.Now().Add(2 * time.Second)
	for {
		sent := sender.texts()
		if len(sent) >= 2 {
			// Подтверждение и отчёт отправляются из разных горутин,
			// порядок не гарантирован.
			var confirmed, reported bool
			for _, text := range sent {
				if strings.Contains(text, "запущена") {
					confirmed = true
				}
				if strings.Contains(text, "Новых приложений: 5") {
					reported = true
				}
			}
			if !confirmed || !reported {
				t.Errorf("ожидались подтверждение и отчёт: %v", sent)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("отчёт так и не пришёл: %v", sender.texts())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandleStatus(t *testing.T) {
	sender := &stubSender{}
	h := NewHandler(sender, zerolog.Nop(), &stubRecommender{}, &stubSyncer{state: catalogsync.StateEnriching}, nil)

	h.HandleUpdate(context.Background(), update("/status"))

	sent := sender.texts()
	if len(sent) != 1 || !strings.Contains(sent[0], string(catalogsync.StateEnriching)) {
		t.Errorf("ожидался этап синхронизации в ответе: %v", sent)
	}
}

func TestHandleUnknownCommand(t *testing.T) {
	sender := &stubSender{}
	h := NewHandler(sender, zerolog.Nop(), &stubRecommender{}, &stubSyncer{}, nil)

	h.HandleUpdate(context.Background(), update("/unknown"))

	sent := sender.texts()
	if len(sent) != 1 || !strings.Contains(sent[0], "/help") {
		t.Errorf("ожидалась подсказка про /help: %v", sent)
	}
}

func TestHandleSyncRetryAfterFailure(t *testing.T) {
	sender := &stubSender{}
	syncer := &stubSyncer{err: errors.New("ленты недоступны"), ran: make(chan struct{}, 32)}
	h := NewHandler(sender, zerolog.Nop(), &stubRecommender{}, syncer, newStubCache())

	h.HandleUpdate(context.Background(), update("/sync"))
	select {
	case <-syncer.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("первый проход не был запущен")
	}

	// Ключ блокировки снимается после провала прохода, поэтому повторный
	// /sync запускает новый проход, не дожидаясь истечения TTL.
	deadline := time.Now().Add(2 * time.Second)
	for {
		h.HandleUpdate(context.Background(), update("/sync"))
		select {
		case <-syncer.ran:
			return
		case <-time.After(20 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			t.Fatal("повторный проход после ошибки так и не запустился")
		}
	}
}

func TestHandleSyncSkipsWhenLockHeld(t *testing.T) {
	sender := &stubSender{}
	syncer := &stubSyncer{}
	cache := newStubCache()
	cache.held["sync:manual"] = struct{}{}
	h := NewHandler(sender, zerolog.Nop(), &stubRecommender{}, syncer, cache)

	h.HandleUpdate(context.Background(), update("/sync"))

	time.Sleep(50 * time.Millisecond)
	if got := syncer.runCount(); got != 0 {
		t.Fatalf("при занятой блокировке проход не должен запускаться, запусков: %d", got)
	}
	sent := sender.texts()
	if len(sent) != 1 || !strings.Contains(sent[0], "уже идёт") {
		t.Errorf("ожидался ответ про уже идущую синхронизацию: %v", sent)
	}
}
