// Package service реализует бизнес-логику сервиса уведомлений: формирование рассылок,
// цикл отправки, обработку платёжных вебхуков и проверку избранного.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/mmeshcher/marketplace-notifier/internal/model"
	"github.com/mmeshcher/marketplace-notifier/internal/repository"
)

var (
	// ErrUnauthorized возвращается при неверной подписи запроса.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidPayload возвращается при некорректном теле запроса.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrUnknownEvent возвращается для типа события без правил рассылки.
	ErrUnknownEvent = errors.New("unknown event type")
)

// NotificationStore описывает хранилище уведомлений.
type NotificationStore interface {
	InsertNotifications(ctx context.Context, ns []*model.Notification) error
	GetNotification(ctx context.Context, id string) (*model.Notification, error)
	ClaimNotifications(ctx context.Context, q repository.ClaimQuery) ([]*model.Notification, error)
	RenewClaim(ctx context.Context, id, token string, until time.Time) (bool, error)
	SaveDispatchResult(ctx context.Context, n *model.Notification, appended []model.DeliveryAttempt, token string) error
	ReleaseClaim(ctx context.Context, id, token string) error
	ListNotifications(ctx context.Context, f repository.NotificationFilter, now time.Time) ([]*model.Notification, int, error)
	CountUnread(ctx context.Context, recipient string, now time.Time) (int, error)
	SaveReadState(ctx context.Context, n *model.Notification) error
	MarkAllRead(ctx context.Context, recipient string, now time.Time) (int64, error)
	ArchiveNotification(ctx context.Context, id, recipient string, now time.Time) error
	DeleteNotification(ctx context.Context, id, recipient string) error
	HasRecentNotification(ctx context.Context, q repository.DedupQuery) (bool, error)
}

// UserStore описывает справочник пользователей.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
	ListActiveAdmins(ctx context.Context) ([]*model.User, error)
}

// PaymentStore описывает хранилище платежей и заказов.
type PaymentStore interface {
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	UpdatePaymentWithOrder(ctx context.Context, paymentID string, fn func(*model.Payment, *model.Order) error) error
}

// FavoriteStore описывает доступ к подпискам на избранные товары.
type FavoriteStore interface {
	ListFavoriteWatches(ctx context.Context, afterID string, limit int) ([]model.FavoriteWatch, error)
	MarkOutOfStock(ctx context.Context, subscriptionID string, since time.Time) error
	ClearOutOfStock(ctx context.Context, subscriptionID string) error
}

// Repository объединяет все хранилища, которые нужны сервису.
type Repository interface {
	NotificationStore
	UserStore
	PaymentStore
	FavoriteStore
	Ping(ctx context.Context) error
	Close() error
}

// Publisher принимает доменное событие и создаёт по нему уведомления.
type Publisher interface {
	Publish(ctx context.Context, ev Event) ([]*model.Notification, error)
}
