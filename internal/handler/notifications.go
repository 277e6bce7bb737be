package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-notifier/internal/middleware"
	"github.com/mmeshcher/marketplace-notifier/internal/model"
	"github.com/mmeshcher/marketplace-notifier/internal/repository"
)

type notificationResponse struct {
	ID               string                   `json:"id"`
	Type             model.NotificationType   `json:"type"`
	Title            model.LocalizedText      `json:"title"`
	Message          model.LocalizedText      `json:"message"`
	Priority         model.Priority           `json:"priority"`
	Channels         []model.Channel          `json:"channels"`
	RelatedData      model.RelatedData        `json:"relatedData"`
	Status           model.NotificationStatus `json:"status"`
	IsRead           bool                     `json:"isRead"`
	IsArchived       bool                     `json:"isArchived"`
	SentAt           string                   `json:"sentAt,omitempty"`
	DeliveredAt      string                   `json:"deliveredAt,omitempty"`
	ReadAt           string                   `json:"readAt,omitempty"`
	ExpiresAt        string                   `json:"expiresAt"`
	CreatedAt        string                   `json:"createdAt"`
	DeliveryAttempts []model.DeliveryAttempt  `json:"deliveryAttempts"`
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toResponse(n *model.Notification) notificationResponse {
	attempts := n.DeliveryAttempts
	if attempts == nil {
		attempts = []model.DeliveryAttempt{}
	}

	return notificationResponse{
		ID:               n.ID,
		Type:             n.Type,
		Title:            n.Title,
		Message:          n.Message,
		Priority:         n.Priority,
		Channels:         n.Channels,
		RelatedData:      n.RelatedData,
		Status:           n.Status,
		IsRead:           n.IsRead,
		IsArchived:       n.IsArchived,
		SentAt:           formatTime(n.SentAt),
		DeliveredAt:      formatTime(n.DeliveredAt),
		ReadAt:           formatTime(n.ReadAt),
		ExpiresAt:        formatTime(&n.ExpiresAt),
		CreatedAt:        formatTime(&n.CreatedAt),
		DeliveryAttempts: attempts,
	}
}

type listResponse struct {
	Items []notificationResponse `json:"items"`
	Total int                    `json:"total"`
	Page  int                    `json:"page"`
	Limit int                    `json:"limit"`
}

// ListNotifications возвращает страницу ленты текущего пользователя.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	page, err := intParam(q.Get("page"))
	if err != nil {
		writeError(w, http.StatusBadRequest)
		return
	}
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest)
		return
	}
	unreadOnly := false
	if v := q.Get("unreadOnly"); v != "" {
		if unreadOnly, err = strconv.ParseBool(v); err != nil {
			writeError(w, http.StatusBadRequest)
			return
		}
	}

	res, err := h.inbox.List(r.Context(), userID, page, limit, unreadOnly)
	if err != nil {
		h.logger.Error("list notifications error", zap.Error(err), zap.String("user_id", userID))
		writeError(w, http.StatusInternalServerError)
		return
	}

	items := make([]notificationResponse, 0, len(res.Items))
	for _, n := range res.Items {
		items = append(items, toResponse(n))
	}

	writeJSON(w, http.StatusOK, listResponse{Items: items, Total: res.Total, Page: res.Page, Limit: res.Limit})
}

type unreadCountResponse struct {
	Count int `json:"count"`
}

// UnreadCount возвращает число непрочитанных уведомлений текущего пользователя.
func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized)
		return
	}

	cnt, err := h.inbox.UnreadCount(r.Context(), userID)
	if err != nil {
		h.logger.Error("unread count error", zap.Error(err), zap.String("user_id", userID))
		writeError(w, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, unreadCountResponse{Count: cnt})
}

// MarkRead отмечает уведомление прочитанным.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized)
		return
	}

	n, err := h.inbox.MarkRead(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.inboxError(w, err, "mark read error", userID)
		return
	}

	writeJSON(w, http.StatusOK, toResponse(n))
}

type markAllResponse struct {
	Updated int64 `json:"updated"`
}

// MarkAllRead отмечает прочитанными все доставленные уведомления текущего пользователя.
func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized)
		return
	}

	updated, err := h.inbox.MarkAllRead(r.Context(), userID)
	if err != nil {
		h.logger.Error("mark all read error", zap.Error(err), zap.String("user_id", userID))
		writeError(w, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, markAllResponse{Updated: updated})
}

// Archive скрывает уведомление из ленты.
func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized)
		return
	}

	if err := h.inbox.Archive(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		h.inboxError(w, err, "archive error", userID)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Delete удаляет уведомление.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized)
		return
	}

	if err := h.inbox.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		h.inboxError(w, err, "delete error", userID)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) inboxError(w http.ResponseWriter, err error, msg, userID string) {
	switch {
	case errors.Is(err, repository.ErrNotificationNotFound):
		writeError(w, http.StatusNotFound)
	case errors.Is(err, model.ErrInvalidTransition):
		writeError(w, http.StatusConflict)
	default:
		h.logger.Error(msg, zap.Error(err), zap.String("user_id", userID))
		writeError(w, http.StatusInternalServerError)
	}
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
