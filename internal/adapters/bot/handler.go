package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"steam-rec-bot/internal/adapters/telegram"
	"steam-rec-bot/internal/domain"
	"steam-rec-bot/internal/infra/metrics"
	"steam-rec-bot/internal/usecase/recommend"
	catalogsync "steam-rec-bot/internal/usecase/sync"
)

// Интервал, в течение которого повторные /sync игнорируются.
const syncLockTTL = 30 * time.Minute

// Recommender — часть движка рекомендаций, нужная боту.
type Recommender interface {
	Recommend(ctx context.Context, steamID string) ([]domain.Recommendation, error)
	Compare(ctx context.Context, steamA, steamB string) (recommend.Comparison, error)
}

// Syncer запускает проход синхронизации каталога по запросу.
type Syncer interface {
	Run(ctx context.Context) (catalogsync.Report, error)
	State() catalogsync.State
}

// Sender — минимальный интерфейс Telegram API, чтобы тесты могли
// подменять отправку сообщений.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Handler обслуживает вебхук бота.
type Handler struct {
	bot   Sender
	log   zerolog.Logger
	recs  Recommender
	sync  Syncer
	cache domain.Cache
}

// NewHandler создаёт обработчик. cache может быть nil — тогда /sync
// не защищён от параллельных запусков.
func NewHandler(bot Sender, log zerolog.Logger, recs Recommender, sync Syncer, cache domain.Cache) *Handler {
	return &Handler{
		bot:   bot,
		log:   log,
		recs:  recs,
		sync:  sync,
		cache: cache,
	}
}

// HandleUpdate обрабатывает входящий апдейт.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message == nil {
		return
	}
	h.handleMessage(ctx, upd.Message)
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	switch {
	case strings.HasPrefix(text, "/start"):
		h.reply(msg.Chat.ID, buildStartMessage())
	case strings.HasPrefix(text, "/help"):
		h.reply(msg.Chat.ID, buildHelpMessage())
	case strings.HasPrefix(text, "/recommend"):
		payload := strings.TrimSpace(strings.TrimPrefix(text, "/recommend"))
		h.handleRecommend(ctx, msg.Chat.ID, payload)
	case strings.HasPrefix(text, "/compare"):
		payload := strings.TrimSpace(strings.TrimPrefix(text, "/compare"))
		h.handleCompare(ctx, msg.Chat.ID, payload)
	case strings.HasPrefix(text, "/sync"):
		h.handleSync(msg.Chat.ID)
	case strings.HasPrefix(text, "/status"):
		h.handleStatus(msg.Chat.ID)
	default:
		h.reply(msg.Chat.ID, "Неизвестная команда. Используйте /help")
	}
}

func (h *Handler) handleRecommend(ctx context.Context, chatID int64, payload string) {
	steamID, ok := parseSteamID(payload)
	if !ok {
		h.reply(chatID, "Укажите SteamID64, например: /recommend 76561198000000000")
		return
	}

	recs, err := h.recs.Recommend(ctx, steamID)
	if err != nil {
		h.log.Error().Err(err).Str("steam_id", steamID).Msg("bot: не удалось построить рекомендации")
		h.reply(chatID, "Не удалось построить рекомендации. Попробуйте позже")
		return
	}
	if len(recs) == 0 {
		h.reply(chatID, "Подходящих новинок не нашлось. Профиль может быть приватным или без недавней активности")
		return
	}
	h.reply(chatID, formatRecommendations(fmt.Sprintf("🎮 Рекомендации для %s:", steamID), recs))
}

func (h *Handler) handleCompare(ctx context.Context, chatID int64, payload string) {
	fields := strings.Fields(payload)
	if len(fields) != 2 {
		h.reply(chatID, "Укажите два SteamID64: /compare <id1> <id2>")
		return
	}
	steamA, okA := parseSteamID(fields[0])
	steamB, okB := parseSteamID(fields[1])
	if !okA || !okB {
		h.reply(chatID, "SteamID64 — это 17 цифр, например 76561198000000000")
		return
	}

	cmp, err := h.recs.Compare(ctx, steamA, steamB)
	if err != nil {
		h.log.Error().Err(err).Str("steam_a", steamA).Str("steam_b", steamB).
			Msg("bot: не удалось сравнить аккаунты")
		h.reply(chatID, "Не удалось сравнить аккаунты. Попробуйте позже")
		return
	}

	var b strings.Builder
	if len(cmp.Shared) > 0 {
		b.WriteString(formatRecommendations("🤝 Общие рекомендации:", cmp.Shared))
	} else {
		b.WriteString("Общих рекомендаций не нашлось.")
	}
	for _, user := range cmp.Users {
		if len(user.Items) == 0 {
			continue
		}
		b.WriteString("\n\n")
		b.WriteString(formatRecommendations(fmt.Sprintf("🎮 Только для %s:", user.SteamID), user.Items))
	}
	h.reply(chatID, b.String())
}

func (h *Handler) handleSync(chatID int64) {
	pass := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
		defer cancel()

		report, err := h.sync.Run(ctx)
		if errors.Is(err, catalogsync.ErrPassInProgress) {
			h.reply(chatID, "Синхронизация уже идёт, дождитесь отчёта по текущему проходу")
			return err
		}
		if err != nil {
			h.log.Error().Err(err).Msg("bot: проход синхронизации не удался")
			h.reply(chatID, "Синхронизация завершилась ошибкой. Подробности в журнале")
			return err
		}
		h.reply(chatID, formatReport(report))
		return nil
	}

	// Проход длинный, апдейт вебхука его ждать не должен. Блокировка
	// берётся внутри горутины и живёт на время прохода: при ошибке Once
	// снимает ключ, так что повторный /sync возможен сразу.
	go func() {
		if h.cache == nil {
			_ = pass()
			return
		}
		if err := h.cache.Once("sync:manual", syncLockTTL, pass); err != nil {
			h.log.Warn().Err(err).Msg("bot: ручной проход не состоялся")
		}
	}()

	// Once молча пропускает fn, если блокировка уже занята, поэтому ответ
	// формулируется на оба случая.
	h.reply(chatID, "Синхронизация каталога запущена (или уже идёт). Пришлём отчёт по завершении")
}

func (h *Handler) handleStatus(chatID int64) {
	state := h.sync.State()
	if state == catalogsync.StateIdle {
		h.reply(chatID, "Синхронизация не выполняется")
		return
	}
	h.reply(chatID, fmt.Sprintf("Синхронизация выполняется, этап: %s", state))
}

// parseSteamID принимает только SteamID64: 17 цифр.
func parseSteamID(input string) (string, bool) {
	input = strings.TrimSpace(input)
	if len(input) != 17 {
		return "", false
	}
	if _, err := strconv.ParseUint(input, 10, 64); err != nil {
		return "", false
	}
	return input, true
}

func formatRecommendations(title string, recs []domain.Recommendation) string {
	var b strings.Builder
	b.WriteString(title)
	for i, rec := range recs {
		b.WriteString(fmt.Sprintf("\n%d. %s — совпадений по жанрам: %d", i+1, rec.Name, rec.MatchScore))
	}
	return b.String()
}

func formatReport(report catalogsync.Report) string {
	lines := []string{
		"✅ Синхронизация завершена.",
		fmt.Sprintf("Новых приложений: %d", report.NewIDs),
		fmt.Sprintf("Обновлено: %d", report.UpdatedIDs),
		fmt.Sprintf("Тегов в каталоге: %d", report.TagsRefreshed),
		fmt.Sprintf("Заняло: %s", report.Took.Round(time.Second)),
	}
	if len(report.Degraded) > 0 {
		lines = append(lines, fmt.Sprintf("⚠️ Недоступные ленты: %s", strings.Join(report.Degraded, ", ")))
	}
	return strings.Join(lines, "\n")
}

func (h *Handler) reply(chatID int64, text string) {
	for _, part := range telegram.SplitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		start := time.Now()
		_, err := h.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
		if err != nil {
			metrics.BotSendErrors.Inc()
			h.log.Error().Err(err).Msg("bot: не удалось отправить сообщение")
			return
		}
	}
}

func buildStartMessage() string {
	lines := []string{
		"👋 Это бот рекомендаций игр Steam.",
		"",
		"Как пользоваться:",
		"1. 🎮 /recommend 76561198000000000 — персональные рекомендации по вашей библиотеке.",
		"2. 🤝 /compare <id1> <id2> — во что поиграть вдвоём.",
		"3. 🔄 /sync — обновить каталог игр вручную.",
		"",
		"SteamID64 можно найти в настройках профиля Steam или на steamid.io.",
		"Профиль должен быть публичным, иначе библиотека недоступна.",
	}
	return strings.Join(lines, "\n")
}

func buildHelpMessage() string {
	lines := []string{
		"📖 Команды:",
		"",
		"• /recommend <SteamID64> — до десяти игр из свежих чартов, совпадающих с вашими любимыми жанрами.",
		"• /compare <SteamID64> <SteamID64> — общие рекомендации для двух аккаунтов и остатки каждого.",
		"• /sync — запустить проход синхронизации каталога.",
		"• /status — на каком этапе текущая синхронизация.",
		"",
		"Рекомендации строятся по игровой активности: у пустой библиотеки подборка тоже будет пустой.",
	}
	return strings.Join(lines, "\n")
}
