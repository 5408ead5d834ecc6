package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	SyncPassSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sync_pass_seconds",
		Help:    "Длительность полного прохода синхронизации",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
	})
	FeedFetchErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_fetch_errors_total",
		Help: "Ошибки загрузки ранжированных лент",
	}, []string{"feed"})
	EnrichRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrich_requests_total",
		Help: "Запросы деталей по appid",
	}, []string{"status"})
	EnrichFallbackTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "enrich_fallback_total",
		Help: "Срабатывания запасной цепочки жанров",
	})
	RecommendRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recommend_requests_total",
		Help: "Общее количество запросов рекомендаций",
	})
	RecommendRequestsByUser = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recommend_requests_by_user_total",
		Help: "Запросы рекомендаций по пользователям",
	}, []string{"steam_id"})
	BotSendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_send_errors_total",
		Help: "Ошибки отправки сообщений ботом",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: prometheus.DefBuckets,
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		SyncPassSeconds,
		FeedFetchErrors,
		EnrichRequestsTotal,
		EnrichFallbackTotal,
		RecommendRequestsTotal,
		RecommendRequestsByUser,
		BotSendErrors,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// IncRecommend увеличивает счётчики запросов рекомендаций.
func IncRecommend(steamID string) {
	RecommendRequestsTotal.Inc()
	RecommendRequestsByUser.WithLabelValues(steamID).Inc()
}
