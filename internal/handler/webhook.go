package handler

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-notifier/internal/middleware"
	"github.com/mmeshcher/marketplace-notifier/internal/repository"
	"github.com/mmeshcher/marketplace-notifier/internal/service"
)

const maxWebhookBodySize = 64 << 10

type webhookResponse struct {
	Success bool   `json:"success"`
	Outcome string `json:"outcome,omitempty"`
}

// PaymentWebhook принимает обратный вызов платёжного провайдера.
// Любой обработанный вызов, включая дубликаты и неизвестные статусы, подтверждается 200.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest)
		return
	}

	res, err := h.webhooks.HandleCallback(r.Context(), body, r.Header.Get(middleware.SignatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidPayload):
			writeError(w, http.StatusBadRequest)
		case errors.Is(err, service.ErrUnauthorized):
			writeError(w, http.StatusUnauthorized)
		case errors.Is(err, repository.ErrPaymentNotFound), errors.Is(err, repository.ErrOrderNotFound):
			writeError(w, http.StatusNotFound)
		default:
			h.logger.Error("payment webhook error", zap.Error(err))
			writeError(w, http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{Success: true, Outcome: string(res.Outcome)})
}
