package sync

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"steam-rec-bot/internal/domain"
	"steam-rec-bot/internal/infra/metrics"
)

// Enricher запрашивает детали по одному appid за раз с принудительной паузой
// между запросами. Пауза — требование корректности (лимит опроса источника),
// поэтому запросы строго последовательны.
type Enricher struct {
	details  domain.DetailSource
	fallback domain.GenreFallback
	limiter  *rate.Limiter
	log      zerolog.Logger
}

// NewEnricher создаёт обогатитель с минимальным интервалом delay между запросами.
func NewEnricher(details domain.DetailSource, fallback domain.GenreFallback, delay time.Duration, log zerolog.Logger) *Enricher {
	if delay <= 0 {
		delay = time.Second
	}
	return &Enricher{
		details:  details,
		fallback: fallback,
		limiter:  rate.NewLimiter(rate.Every(delay), 1),
		log:      log,
	}
}

// Enrich выполняет ровно один запрос деталей на каждый appid.
// Любой сбой деградирует до пустого результата: запись всё равно попадёт в
// выдачу с requested_details=1, потому что попытка была сделана.
func (e *Enricher) Enrich(ctx context.Context, appids []int64) map[int64]domain.ItemDetails {
	out := make(map[int64]domain.ItemDetails, len(appids))
	for i, appid := range appids {
		if err := e.limiter.Wait(ctx); err != nil {
			e.log.Warn().Err(err).Int("remaining", len(appids)-i).Msg("enrich: прерван досрочно")
			return out
		}

		details, err := e.details.Details(ctx, appid)
		if err != nil {
			e.log.Warn().Err(err).Int64("appid", appid).Msg("enrich: детали недоступны")
			metrics.EnrichRequestsTotal.WithLabelValues("error").Inc()
			out[appid] = domain.ItemDetails{AppID: appid}
			continue
		}
		if details.AppID == 0 {
			details.AppID = appid
		}

		if len(details.Genres) == 0 && e.fallback != nil {
			metrics.EnrichFallbackTotal.Inc()
			genres, err := e.fallback.Genres(ctx, appid)
			if err != nil {
				e.log.Debug().Err(err).Int64("appid", appid).Msg("enrich: запасной источник жанров не помог")
			} else {
				details.Genres = genres
			}
		}

		status := "incomplete"
		if len(details.Genres) > 0 && len(details.Tags) > 0 {
			status = "success"
		}
		metrics.EnrichRequestsTotal.WithLabelValues(status).Inc()
		out[appid] = details
	}
	return out
}
