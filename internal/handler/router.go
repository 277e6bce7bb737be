package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/mmeshcher/marketplace-notifier/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса уведомлений.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if h.webhookLimiter != nil {
			r.Use(h.webhookLimiter.Middleware)
		}
		r.Post("/webhooks/payment", h.PaymentWebhook)
	})

	r.Route("/api/notifications", func(r chi.Router) {
		r.Use(custommiddleware.GzipMiddleware)
		r.Use(h.authMiddleware.Middleware)

		r.Get("/", h.ListNotifications)
		r.Get("/unread-count", h.UnreadCount)
		r.Patch("/read-all", h.MarkAllRead)
		r.Patch("/{id}/read", h.MarkRead)
		r.Patch("/{id}/archive", h.Archive)
		r.Delete("/{id}", h.Delete)
	})

	r.Route("/internal/events", func(r chi.Router) {
		r.Use(custommiddleware.GzipMiddleware)
		r.Use(custommiddleware.RequireSignature(h.internalSecret))

		r.Post("/order", h.OrderEvent)
		r.Post("/support-reply", h.SupportReply)
		r.Post("/admin-alert", h.AdminAlert)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
