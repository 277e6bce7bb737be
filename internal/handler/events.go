package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-notifier/internal/model"
	"github.com/mmeshcher/marketplace-notifier/internal/repository"
	"github.com/mmeshcher/marketplace-notifier/internal/service"
)

type orderEventRequest struct {
	OrderID   string                 `json:"orderId"`
	EventType model.NotificationType `json:"eventType"`
}

type supportReplyRequest struct {
	MessageID    string `json:"messageId"`
	AuthorUserID string `json:"authorUserId"`
	Subject      string `json:"subject"`
	Reply        string `json:"reply"`
}

type adminAlertRequest struct {
	Text string `json:"text"`
}

type publishResponse struct {
	Success       bool `json:"success"`
	Notifications int  `json:"notifications"`
}

// OrderEvent публикует событие жизненного цикла заказа.
func (h *Handler) OrderEvent(w http.ResponseWriter, r *http.Request) {
	var req orderEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest)
		return
	}

	batch, err := h.events.PublishOrderEvent(r.Context(), req.OrderID, req.EventType)
	h.published(w, batch, err, "order event error", zap.String("order_id", req.OrderID))
}

// SupportReply публикует ответ поддержки автору обращения.
func (h *Handler) SupportReply(w http.ResponseWriter, r *http.Request) {
	var req supportReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest)
		return
	}

	batch, err := h.events.PublishSupportReply(r.Context(), model.SupportReply{
		MessageID:    req.MessageID,
		AuthorUserID: req.AuthorUserID,
		Subject:      req.Subject,
		Reply:        req.Reply,
	})
	h.published(w, batch, err, "support reply error", zap.String("message_id", req.MessageID))
}

// AdminAlert рассылает срочное оповещение администраторам.
func (h *Handler) AdminAlert(w http.ResponseWriter, r *http.Request) {
	var req adminAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest)
		return
	}

	batch, err := h.events.PublishAdminAlert(r.Context(), req.Text)
	h.published(w, batch, err, "admin alert error")
}

func (h *Handler) published(w http.ResponseWriter, batch []*model.Notification, err error, msg string, fields ...zap.Field) {
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidPayload), errors.Is(err, service.ErrUnknownEvent):
			writeError(w, http.StatusBadRequest)
		case errors.Is(err, repository.ErrOrderNotFound):
			writeError(w, http.StatusNotFound)
		default:
			h.logger.Error(msg, append(fields, zap.Error(err))...)
			writeError(w, http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusAccepted, publishResponse{Success: true, Notifications: len(batch)})
}
