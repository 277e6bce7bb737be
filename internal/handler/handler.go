// Package handler содержит HTTP-обработчики сервиса уведомлений.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-notifier/internal/middleware"
	"github.com/mmeshcher/marketplace-notifier/internal/model"
	"github.com/mmeshcher/marketplace-notifier/internal/service"
)

// WebhookProcessor обрабатывает обратные вызовы платёжных провайдеров.
type WebhookProcessor interface {
	HandleCallback(ctx context.Context, raw []byte, signature string) (service.CallbackResult, error)
}

// InboxService определяет операции ленты уведомлений получателя.
type InboxService interface {
	List(ctx context.Context, recipient string, page, limit int, unreadOnly bool) (*service.InboxPage, error)
	UnreadCount(ctx context.Context, recipient string) (int, error)
	MarkRead(ctx context.Context, recipient, id string) (*model.Notification, error)
	MarkAllRead(ctx context.Context, recipient string) (int64, error)
	Archive(ctx context.Context, recipient, id string) error
	Delete(ctx context.Context, recipient, id string) error
}

// EventIntake принимает доменные события от витрины и админки.
type EventIntake interface {
	PublishOrderEvent(ctx context.Context, orderID string, typ model.NotificationType) ([]*model.Notification, error)
	PublishSupportReply(ctx context.Context, r model.SupportReply) ([]*model.Notification, error)
	PublishAdminAlert(ctx context.Context, text string) ([]*model.Notification, error)
}

// HealthChecker проверяет доступность хранилища.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Handler реализует HTTP-обработчики сервиса уведомлений.
type Handler struct {
	webhooks       WebhookProcessor
	inbox          InboxService
	events         EventIntake
	health         HealthChecker
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	internalSecret string
	webhookLimiter *middleware.RateLimiter
}

// Options собирает зависимости обработчика.
type Options struct {
	Webhooks       WebhookProcessor
	Inbox          InboxService
	Events         EventIntake
	Health         HealthChecker
	Logger         *zap.Logger
	Auth           *middleware.AuthMiddleware
	InternalSecret string
	WebhookLimiter *middleware.RateLimiter
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Handler{
		webhooks:       opts.Webhooks,
		inbox:          opts.Inbox,
		events:         opts.Events,
		health:         opts.Health,
		logger:         logger,
		authMiddleware: opts.Auth,
		internalSecret: opts.InternalSecret,
		webhookLimiter: opts.WebhookLimiter,
	}
}

// Healthz отвечает 200, если хранилище доступно.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := h.health.Ping(ctx); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeError(w http.ResponseWriter, status int) {
	writeJSON(w, status, errorResponse{Success: false, Error: http.StatusText(status)})
}
