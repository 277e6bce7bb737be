// Package channel содержит отправители уведомлений по каналам доставки.
package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmeshcher/marketplace-notifier/internal/model"
)

// ErrChannelNotConfigured возвращается, если для канала не зарегистрирован отправитель.
var ErrChannelNotConfigured = errors.New("channel not configured")

// Sender отправляет уведомление по одному каналу. Вызов должен быть безопасен для повторов.
type Sender interface {
	Send(ctx context.Context, n *model.Notification, ch model.Channel) error
}

// Registry сопоставляет каналы их отправителям.
type Registry struct {
	senders map[model.Channel]Sender
}

// NewRegistry создаёт пустой реестр каналов.
func NewRegistry() *Registry {
	return &Registry{senders: make(map[model.Channel]Sender)}
}

// Register назначает отправителя каналу.
func (r *Registry) Register(ch model.Channel, s Sender) {
	r.senders[ch] = s
}

// Configured сообщает, зарегистрирован ли отправитель канала.
func (r *Registry) Configured(ch model.Channel) bool {
	_, ok := r.senders[ch]
	return ok
}

// Send передаёт уведомление отправителю канала.
func (r *Registry) Send(ctx context.Context, n *model.Notification, ch model.Channel) error {
	s, ok := r.senders[ch]
	if !ok {
		return fmt.Errorf("%w: %s", ErrChannelNotConfigured, ch)
	}
	return s.Send(ctx, n, ch)
}

// InApp доставляет уведомление в ленту получателя. Сам сохранённый документ и есть доставка,
// поэтому отправка всегда успешна.
type InApp struct{}

// Send реализует Sender.
func (InApp) Send(ctx context.Context, _ *model.Notification, _ model.Channel) error {
	return ctx.Err()
}
