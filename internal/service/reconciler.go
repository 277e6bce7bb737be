package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-notifier/internal/cache"
	"github.com/mmeshcher/marketplace-notifier/internal/metrics"
	"github.com/mmeshcher/marketplace-notifier/internal/model"
	"github.com/mmeshcher/marketplace-notifier/internal/validation"
)

// PaymentCallback: тело обратного вызова платёжного провайдера.
type PaymentCallback struct {
	PaymentID     string      `json:"paymentId"`
	Status        string      `json:"status"`
	TransactionID string      `json:"transactionId"`
	Amount        json.Number `json:"amount"`
	Method        string      `json:"method"`
	Signature     string      `json:"signature"`
	Timestamp     json.Number `json:"timestamp"`
	Provider      string      `json:"provider,omitempty"`
	Error         string      `json:"error,omitempty"`
	ErrorCode     string      `json:"errorCode,omitempty"`
	RefundAmount  json.Number `json:"refundAmount,omitempty"`
	RefundReason  string      `json:"refundReason,omitempty"`
}

// CanonicalString возвращает строку, над которой провайдер считает подпись.
func (c PaymentCallback) CanonicalString() (string, error) {
	return validation.CanonicalString(c.PaymentID, c.Status, c.TransactionID, c.Amount.String(), c.Method, c.Timestamp.String())
}

// Action: внутреннее действие над платежом, соответствующее статусу провайдера.
type Action string

const (
	ActionNone       Action = ""
	ActionSettle     Action = "settle"
	ActionFail       Action = "fail"
	ActionProcessing Action = "mark_processing"
	ActionRefund     Action = "refund"
	ActionCancel     Action = "cancel"
)

// MapProviderStatus сопоставляет статус провайдера внутреннему действию.
func MapProviderStatus(status string) Action {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "completed", "success":
		return ActionSettle
	case "failed", "declined":
		return ActionFail
	case "pending", "processing":
		return ActionProcessing
	case "refunded":
		return ActionRefund
	case "cancelled", "canceled":
		return ActionCancel
	default:
		return ActionNone
	}
}

// Outcome описывает итог обработки вебхука. Любой итог подтверждается провайдеру.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// CallbackResult: результат обработки вебхука.
type CallbackResult struct {
	Outcome       Outcome
	Action        Action
	PaymentStatus model.PaymentStatus
	Notifications int
}

// Reconciler применяет обратные вызовы платёжных провайдеров к платежам и заказам.
type Reconciler struct {
	payments  PaymentStore
	publisher Publisher
	replay    cache.ReplayGuard
	secret    []byte
	tolerance time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewReconciler создаёт обработчик вебхуков. replay может быть nil.
func NewReconciler(payments PaymentStore, publisher Publisher, replay cache.ReplayGuard, secret string, tolerance time.Duration, logger *zap.Logger) *Reconciler {
	if replay == nil {
		replay = cache.NopReplayGuard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		payments:  payments,
		publisher: publisher,
		replay:    replay,
		secret:    []byte(secret),
		tolerance: tolerance,
		logger:    logger,
		now:       time.Now,
	}
}

// HandleCallback проверяет подпись вебхука, применяет переход платежа вместе с заказом
// и запускает рассылку. signature берётся из заголовка; если он пуст, используется поле тела.
func (r *Reconciler) HandleCallback(ctx context.Context, raw []byte, signature string) (CallbackResult, error) {
	res, err := r.handle(ctx, raw, signature)
	switch {
	case err == nil:
		metrics.WebhooksTotal.WithLabelValues(string(res.Outcome)).Inc()
	case errors.Is(err, ErrUnauthorized):
		metrics.WebhooksTotal.WithLabelValues("unauthorized").Inc()
	default:
		metrics.WebhooksTotal.WithLabelValues("error").Inc()
	}
	return res, err
}

func (r *Reconciler) handle(ctx context.Context, raw []byte, signature string) (CallbackResult, error) {
	var cb PaymentCallback
	if err := json.Unmarshal(raw, &cb); err != nil {
		return CallbackResult{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	if err := r.authenticate(cb, signature); err != nil {
		r.logger.Warn("rejected payment webhook", zap.String("payment_id", cb.PaymentID), zap.Error(err))
		return CallbackResult{}, err
	}

	if !validation.IsValidIdentifier(cb.PaymentID) || cb.Status == "" {
		return CallbackResult{}, fmt.Errorf("%w: paymentId and status are required", ErrInvalidPayload)
	}

	log := r.logger.With(zap.String("payment_id", cb.PaymentID), zap.String("provider_status", cb.Status))

	seen, err := r.replay.Seen(ctx, raw)
	if err != nil {
		log.Warn("replay guard unavailable", zap.Error(err))
	}
	if seen {
		log.Info("replayed webhook acknowledged")
		return CallbackResult{Outcome: OutcomeDuplicate}, nil
	}

	action := MapProviderStatus(cb.Status)
	if action == ActionNone {
		log.Warn("unknown provider status, acknowledging without changes")
		return CallbackResult{Outcome: OutcomeIgnored}, nil
	}

	update, err := providerUpdate(cb, raw)
	if err != nil {
		return CallbackResult{}, err
	}

	var payment model.Payment
	var order model.Order
	now := r.now()

	err = r.payments.UpdatePaymentWithOrder(ctx, cb.PaymentID, func(p *model.Payment, o *model.Order) error {
		if err := applyAction(action, p, o, update, now); err != nil {
			return err
		}
		if cb.Amount != "" {
			if amt, err := decimal.NewFromString(cb.Amount.String()); err == nil && !amt.Equal(p.Amount) {
				log.Warn("callback amount differs from payment amount",
					zap.String("callback_amount", amt.String()),
					zap.String("payment_amount", p.Amount.String()),
				)
			}
		}
		payment, order = *p, *o
		return nil
	})

	switch {
	case errors.Is(err, model.ErrAlreadyApplied):
		log.Info("payment already in requested state")
		r.remember(ctx, raw, log)
		return CallbackResult{Outcome: OutcomeDuplicate, Action: action}, nil
	case errors.Is(err, model.ErrInvalidTransition):
		log.Warn("stale or out-of-order payment callback ignored", zap.Error(err))
		return CallbackResult{Outcome: OutcomeIgnored, Action: action}, nil
	case err != nil:
		return CallbackResult{}, err
	}

	log.Info("payment transition applied",
		zap.String("action", string(action)),
		zap.String("status", string(payment.Status)),
		zap.String("order_id", order.ID),
	)

	res := CallbackResult{Outcome: OutcomeApplied, Action: action, PaymentStatus: payment.Status}

	if typ, ok := paymentEvent(action); ok {
		fanCtx := context.WithoutCancel(ctx)
		batch, err := r.publisher.Publish(fanCtx, Event{Type: typ, Order: &order, Payment: &payment})
		if err != nil {
			log.Error("payment notification fan-out failed", zap.String("type", string(typ)), zap.Error(err))
		}
		res.Notifications = len(batch)
	}

	r.remember(ctx, raw, log)
	return res, nil
}

func (r *Reconciler) authenticate(cb PaymentCallback, signature string) error {
	if signature == "" {
		signature = cb.Signature
	}
	msg, err := cb.CanonicalString()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if !validation.VerifySignature(r.secret, []byte(msg), signature) {
		return fmt.Errorf("%w: signature mismatch", ErrUnauthorized)
	}

	if r.tolerance > 0 {
		ts, ok := validation.ParseUnixTimestamp(cb.Timestamp.String())
		if !ok {
			return fmt.Errorf("%w: missing or malformed timestamp", ErrUnauthorized)
		}
		if !validation.WithinTolerance(ts, r.now(), r.tolerance) {
			return fmt.Errorf("%w: timestamp outside tolerance", ErrUnauthorized)
		}
	}

	return nil
}

func (r *Reconciler) remember(ctx context.Context, raw []byte, log *zap.Logger) {
	if err := r.replay.Remember(context.WithoutCancel(ctx), raw); err != nil {
		log.Warn("failed to remember webhook", zap.Error(err))
	}
}

func providerUpdate(cb PaymentCallback, raw []byte) (model.ProviderUpdate, error) {
	u := model.ProviderUpdate{
		Provider:      cb.Provider,
		TransactionID: cb.TransactionID,
		ErrorCode:     cb.ErrorCode,
		ErrorMessage:  cb.Error,
		RefundReason:  cb.RefundReason,
		RawPayload:    string(raw),
	}

	if cb.RefundAmount != "" {
		amt, err := decimal.NewFromString(cb.RefundAmount.String())
		if err != nil {
			return u, fmt.Errorf("%w: refundAmount: %v", ErrInvalidPayload, err)
		}
		u.RefundAmount = &amt
	}

	return u, nil
}

// applyAction выполняет переход платежа и каскадно обновляет заказ.
func applyAction(action Action, p *model.Payment, o *model.Order, u model.ProviderUpdate, now time.Time) error {
	switch action {
	case ActionSettle:
		if err := p.Settle(u, now); err != nil {
			return err
		}
		if o.Status == model.OrderStatusPending {
			o.Status = model.OrderStatusConfirmed
		}
		o.PaymentStatus = model.OrderPaymentPaid
	case ActionFail:
		if err := p.Fail(u, now); err != nil {
			return err
		}
		o.PaymentStatus = model.OrderPaymentFailed
	case ActionProcessing:
		if err := p.MarkProcessing(u, now); err != nil {
			return err
		}
		o.PaymentStatus = model.OrderPaymentProcessing
	case ActionRefund:
		if err := p.ApplyRefund(u, now); err != nil {
			return err
		}
		o.Status = model.OrderStatusRefunded
		o.PaymentStatus = model.OrderPaymentRefunded
	case ActionCancel:
		if err := p.Cancel(u, now); err != nil {
			return err
		}
		o.PaymentStatus = model.OrderPaymentFailed
	default:
		return fmt.Errorf("%w: unsupported action %q", model.ErrInvalidTransition, action)
	}
	return nil
}

func paymentEvent(a Action) (model.NotificationType, bool) {
	switch a {
	case ActionSettle:
		return model.TypePaymentReceived, true
	case ActionFail, ActionCancel:
		return model.TypePaymentFailed, true
	case ActionRefund:
		return model.TypePaymentRefunded, true
	default:
		return "", false
	}
}
