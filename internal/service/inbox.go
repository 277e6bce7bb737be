package service

import (
	"context"
	"time"

	"github.com/mmeshcher/marketplace-notifier/internal/model"
	"github.com/mmeshcher/marketplace-notifier/internal/repository"
)

// InboxPage: страница ленты уведомлений.
type InboxPage struct {
	Items []*model.Notification
	Total int
	Page  int
	Limit int
}

// Inbox обслуживает ленту уведомлений получателя. Все операции ограничены его собственными уведомлениями.
type Inbox struct {
	store NotificationStore
	now   func() time.Time
}

// NewInbox создаёт сервис ленты.
func NewInbox(store NotificationStore) *Inbox {
	return &Inbox{store: store, now: time.Now}
}

// List возвращает страницу ленты.
func (i *Inbox) List(ctx context.Context, recipient string, page, limit int, unreadOnly bool) (*InboxPage, error) {
	f := repository.NotificationFilter{
		Recipient:  recipient,
		UnreadOnly: unreadOnly,
		Page:       page,
		PageSize:   limit,
	}
	f.Normalize()

	items, total, err := i.store.ListNotifications(ctx, f, i.now())
	if err != nil {
		return nil, err
	}

	return &InboxPage{Items: items, Total: total, Page: f.Page, Limit: f.PageSize}, nil
}

// UnreadCount возвращает число непрочитанных уведомлений.
func (i *Inbox) UnreadCount(ctx context.Context, recipient string) (int, error) {
	return i.store.CountUnread(ctx, recipient, i.now())
}

// MarkRead отмечает уведомление прочитанным. Повторное чтение и чтение недоставленного уведомления
// ничего не меняют; ещё не отправленное уведомление прочитать нельзя.
func (i *Inbox) MarkRead(ctx context.Context, recipient, id string) (*model.Notification, error) {
	n, err := i.owned(ctx, recipient, id)
	if err != nil {
		return nil, err
	}

	before := n.Status
	if err := n.MarkRead(i.now()); err != nil {
		return nil, err
	}
	if n.Status == before {
		return n, nil
	}

	if err := i.store.SaveReadState(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// MarkAllRead отмечает прочитанными все отправленные уведомления получателя.
func (i *Inbox) MarkAllRead(ctx context.Context, recipient string) (int64, error) {
	return i.store.MarkAllRead(ctx, recipient, i.now())
}

// Archive скрывает уведомление из ленты.
func (i *Inbox) Archive(ctx context.Context, recipient, id string) error {
	return i.store.ArchiveNotification(ctx, id, recipient, i.now())
}

// Delete удаляет уведомление.
func (i *Inbox) Delete(ctx context.Context, recipient, id string) error {
	return i.store.DeleteNotification(ctx, id, recipient)
}

func (i *Inbox) owned(ctx context.Context, recipient, id string) (*model.Notification, error) {
	n, err := i.store.GetNotification(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.Recipient != recipient {
		return nil, repository.ErrNotificationNotFound
	}
	return n, nil
}
