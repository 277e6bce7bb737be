// Package metrics содержит метрики Prometheus сервиса уведомлений.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// NotificationsCreatedTotal считает созданные уведомления по типу события.
var NotificationsCreatedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notifications_created_total",
		Help: "Total number of notifications created by fan-out",
	},
	[]string{"type"},
)

// DeliveryAttemptsTotal считает попытки доставки по каналу и исходу.
var DeliveryAttemptsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notification_delivery_attempts_total",
		Help: "Total number of channel delivery attempts",
	},
	[]string{"channel", "result"},
)

var ChannelSendDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "notification_channel_send_duration_seconds",
		Help:    "Duration of channel sends in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"channel"},
)

var NotificationsFailedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notifications_failed_total",
		Help: "Total number of notifications that reached the failed state",
	},
	[]string{"type"},
)

var DispatchPassDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "dispatch_pass_duration_seconds",
		Help:    "Duration of one dispatch loop pass",
		Buckets: prometheus.DefBuckets,
	},
)

// WebhooksTotal считает вебхуки платёжных провайдеров по результату обработки.
var WebhooksTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "payment_webhooks_total",
		Help: "Total number of payment webhooks by outcome",
	},
	[]string{"outcome"},
)

var FavoriteScanErrorsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "favorite_scan_errors_total",
		Help: "Total number of per-subscription errors during favorite scans",
	},
)

var HTTPRateLimitRejectionsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "http_rate_limit_rejections_total",
		Help: "Total number of HTTP requests rejected due to rate limiting",
	},
)

// Register регистрирует все метрики сервиса в реестре.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		NotificationsCreatedTotal,
		DeliveryAttemptsTotal,
		ChannelSendDuration,
		NotificationsFailedTotal,
		DispatchPassDuration,
		WebhooksTotal,
		FavoriteScanErrorsTotal,
		HTTPRateLimitRejectionsTotal,
	)
}
