package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmeshcher/marketplace-notifier/internal/model"
	"github.com/mmeshcher/marketplace-notifier/internal/validation"
)

var orderEvents = map[model.NotificationType]bool{
	model.TypeOrderCreated:   true,
	model.TypeOrderConfirmed: true,
	model.TypeOrderShipped:   true,
	model.TypeOrderDelivered: true,
	model.TypeOrderCancelled: true,
}

// Events принимает доменные события витрины и админки и передаёт их в рассылку.
type Events struct {
	orders    PaymentStore
	publisher Publisher
}

// NewEvents создаёт приём доменных событий.
func NewEvents(orders PaymentStore, publisher Publisher) *Events {
	return &Events{orders: orders, publisher: publisher}
}

// PublishOrderEvent загружает заказ и рассылает событие его жизненного цикла.
func (e *Events) PublishOrderEvent(ctx context.Context, orderID string, typ model.NotificationType) ([]*model.Notification, error) {
	if !orderEvents[typ] {
		return nil, fmt.Errorf("%w: %q is not an order event", ErrInvalidPayload, typ)
	}
	if !validation.IsValidIdentifier(orderID) {
		return nil, fmt.Errorf("%w: invalid orderId", ErrInvalidPayload)
	}

	order, err := e.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	return e.publisher.Publish(ctx, Event{Type: typ, Order: order})
}

// PublishSupportReply рассылает ответ поддержки автору обращения.
func (e *Events) PublishSupportReply(ctx context.Context, r model.SupportReply) ([]*model.Notification, error) {
	if strings.TrimSpace(r.Reply) == "" || strings.TrimSpace(r.AuthorUserID) == "" {
		return nil, fmt.Errorf("%w: authorUserId and reply are required", ErrInvalidPayload)
	}

	return e.publisher.Publish(ctx, Event{Type: model.TypeCustomerSupportReply, Support: &r})
}

// PublishAdminAlert рассылает срочное оповещение всем активным администраторам.
func (e *Events) PublishAdminAlert(ctx context.Context, text string) ([]*model.Notification, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: alert text is required", ErrInvalidPayload)
	}

	return e.publisher.Publish(ctx, Event{Type: model.TypeAdminAlert, AlertText: text})
}
