package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MaxFailedAttempts: число неудачных попыток по одному каналу, после которого уведомление считается недоставленным.
const MaxFailedAttempts = 3

// DefaultTTL: срок жизни уведомления, если ExpiresAt не задан явно.
const DefaultTTL = 30 * 24 * time.Hour

// NotificationType описывает доменное событие, породившее уведомление.
type NotificationType string

const (
	TypeOrderCreated         NotificationType = "order_created"
	TypeOrderConfirmed       NotificationType = "order_confirmed"
	TypeOrderShipped         NotificationType = "order_shipped"
	TypeOrderDelivered       NotificationType = "order_delivered"
	TypeOrderCancelled       NotificationType = "order_cancelled"
	TypePaymentReceived      NotificationType = "payment_received"
	TypePaymentFailed        NotificationType = "payment_failed"
	TypePaymentRefunded      NotificationType = "payment_refunded"
	TypeSellerNewReview      NotificationType = "seller_new_review"
	TypeAdminAlert           NotificationType = "admin_alert"
	TypeCustomerSupportReply NotificationType = "customer_support_reply"
	TypeFavoritePriceDrop    NotificationType = "favorite_price_drop"
	TypeFavoriteBackInStock  NotificationType = "favorite_back_in_stock"
)

// Priority описывает срочность уведомления.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank возвращает числовой вес приоритета для сортировки очереди отправки.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// Channel описывает канал доставки уведомления.
type Channel string

const (
	ChannelInApp   Channel = "in_app"
	ChannelEmail   Channel = "email"
	ChannelSMS     Channel = "sms"
	ChannelChatBot Channel = "chat_bot"
	ChannelPush    Channel = "push"
)

// Channels перечисляет все известные каналы.
var Channels = []Channel{ChannelInApp, ChannelEmail, ChannelSMS, ChannelChatBot, ChannelPush}

// NotificationStatus описывает этап жизненного цикла уведомления.
type NotificationStatus string

const (
	NotificationPending   NotificationStatus = "pending"
	NotificationSent      NotificationStatus = "sent"
	NotificationDelivered NotificationStatus = "delivered"
	NotificationRead      NotificationStatus = "read"
	NotificationFailed    NotificationStatus = "failed"
)

// Terminal сообщает, является ли статус конечным.
func (s NotificationStatus) Terminal() bool {
	return s == NotificationRead || s == NotificationFailed
}

// DeliveryAttempt описывает одну попытку доставки по каналу.
type DeliveryAttempt struct {
	AttemptNumber int       `json:"attemptNumber"`
	Timestamp     time.Time `json:"timestamp"`
	Channel       Channel   `json:"channel"`
	Success       bool      `json:"success"`
	Error         string    `json:"error,omitempty"`
}

// RelatedData содержит справочные ссылки на связанные сущности.
type RelatedData struct {
	OrderID        string `json:"orderId,omitempty"`
	PaymentID      string `json:"paymentId,omitempty"`
	ProductID      string `json:"productId,omitempty"`
	UserID         string `json:"userId,omitempty"`
	SubscriptionID string `json:"subscriptionId,omitempty"`
}

// Notification: единица доставки, адресованная одному получателю.
type Notification struct {
	ID               string
	Recipient        string
	Type             NotificationType
	Title            LocalizedText
	Message          LocalizedText
	Priority         Priority
	Channels         []Channel
	RelatedData      RelatedData
	Status           NotificationStatus
	ScheduledAt      *time.Time
	SentAt           *time.Time
	DeliveredAt      *time.Time
	ReadAt           *time.Time
	DeliveryAttempts []DeliveryAttempt
	IsRead           bool
	IsArchived       bool
	ExpiresAt        time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewNotification создаёт уведомление в статусе pending.
func NewNotification(recipient string, typ NotificationType, title, message LocalizedText, priority Priority, channels []Channel, related RelatedData, now time.Time) (*Notification, error) {
	n := &Notification{
		ID:          uuid.NewString(),
		Recipient:   recipient,
		Type:        typ,
		Title:       title,
		Message:     message,
		Priority:    priority,
		Channels:    append([]Channel(nil), channels...),
		RelatedData: related,
		Status:      NotificationPending,
		ExpiresAt:   now.Add(DefaultTTL),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := n.Validate(); err != nil {
		return nil, err
	}

	return n, nil
}

// Validate проверяет обязательные поля уведомления.
func (n *Notification) Validate() error {
	if n.Recipient == "" {
		return fmt.Errorf("notification %s: empty recipient", n.Type)
	}
	if !n.Title.Complete() || !n.Message.Complete() {
		return fmt.Errorf("notification %s: title and message required in all locales", n.Type)
	}
	if len(n.Channels) == 0 {
		return fmt.Errorf("notification %s: no channels", n.Type)
	}
	return nil
}

// EligibleForDispatch сообщает, можно ли впервые отправлять уведомление в момент now.
func (n *Notification) EligibleForDispatch(now time.Time) bool {
	if n.Status != NotificationPending {
		return false
	}
	if n.ScheduledAt != nil && now.Before(*n.ScheduledAt) {
		return false
	}
	return now.Before(n.ExpiresAt)
}

// RetryDue сообщает, пора ли повторить доставку по оставшимся каналам.
// Повтор допускается не раньше backoff после последней попытки.
func (n *Notification) RetryDue(now time.Time, backoff time.Duration) bool {
	if n.Status != NotificationPending && n.Status != NotificationSent {
		return false
	}
	if n.ScheduledAt != nil && now.Before(*n.ScheduledAt) {
		return false
	}
	if !now.Before(n.ExpiresAt) || len(n.PendingChannels()) == 0 {
		return false
	}
	last := n.LastAttemptAt()
	return last == nil || !now.Before(last.Add(backoff))
}

// DeferUntil откладывает следующую попытку доставки до t. Срок только сдвигается вперёд.
func (n *Notification) DeferUntil(t time.Time) {
	if n.ScheduledAt != nil && !t.After(*n.ScheduledAt) {
		return
	}
	n.ScheduledAt = &t
}

// LastAttemptAt возвращает время последней попытки доставки.
func (n *Notification) LastAttemptAt() *time.Time {
	if len(n.DeliveryAttempts) == 0 {
		return nil
	}
	ts := n.DeliveryAttempts[len(n.DeliveryAttempts)-1].Timestamp
	return &ts
}

// FailedAttempts возвращает число неудачных попыток по каналу.
func (n *Notification) FailedAttempts(ch Channel) int {
	cnt := 0
	for _, a := range n.DeliveryAttempts {
		if a.Channel == ch && !a.Success {
			cnt++
		}
	}
	return cnt
}

func (n *Notification) channelSent(ch Channel) bool {
	for _, a := range n.DeliveryAttempts {
		if a.Channel == ch && a.Success {
			return true
		}
	}
	return false
}

// PendingChannels возвращает каналы, по которым доставку ещё стоит пытаться выполнить.
func (n *Notification) PendingChannels() []Channel {
	if n.Status.Terminal() {
		return nil
	}

	var res []Channel
	for _, ch := range n.Channels {
		if n.channelSent(ch) || n.FailedAttempts(ch) >= MaxFailedAttempts {
			continue
		}
		res = append(res, ch)
	}
	return res
}

// AllChannelsSent сообщает, приняли ли уведомление диспетчеры всех каналов.
func (n *Notification) AllChannelsSent() bool {
	for _, ch := range n.Channels {
		if !n.channelSent(ch) {
			return false
		}
	}
	return true
}

func (n *Notification) appendAttempt(ch Channel, success bool, errMsg string, now time.Time) {
	n.DeliveryAttempts = append(n.DeliveryAttempts, DeliveryAttempt{
		AttemptNumber: len(n.DeliveryAttempts) + 1,
		Timestamp:     now,
		Channel:       ch,
		Success:       success,
		Error:         errMsg,
	})
	n.UpdatedAt = now
}

// MarkSent фиксирует успешную отправку по каналу.
func (n *Notification) MarkSent(ch Channel, now time.Time) {
	n.appendAttempt(ch, true, "", now)
	if n.Status != NotificationPending {
		return
	}
	n.Status = NotificationSent
	n.SentAt = &now
}

// MarkFailed фиксирует неудачную попытку по каналу и переводит уведомление в failed
// после MaxFailedAttempts неудач по этому каналу.
func (n *Notification) MarkFailed(ch Channel, errMsg string, now time.Time) {
	n.appendAttempt(ch, false, errMsg, now)
	if n.Status.Terminal() {
		return
	}
	if n.FailedAttempts(ch) >= MaxFailedAttempts {
		n.Status = NotificationFailed
	}
}

// MarkDelivered переводит отправленное уведомление в delivered.
func (n *Notification) MarkDelivered(now time.Time) error {
	switch n.Status {
	case NotificationSent:
		n.Status = NotificationDelivered
		n.DeliveredAt = &now
		n.UpdatedAt = now
		return nil
	case NotificationPending:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, n.Status, NotificationDelivered)
	default:
		return nil
	}
}

// MarkRead отмечает уведомление прочитанным. Получатель может прочитать его и до подтверждения доставки.
func (n *Notification) MarkRead(now time.Time) error {
	switch n.Status {
	case NotificationSent, NotificationDelivered:
		n.Status = NotificationRead
		n.IsRead = true
		n.ReadAt = &now
		n.UpdatedAt = now
		return nil
	case NotificationPending:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, n.Status, NotificationRead)
	default:
		return nil
	}
}

// Archive скрывает уведомление из ленты получателя. Статус не меняется.
func (n *Notification) Archive(now time.Time) {
	n.IsArchived = true
	n.UpdatedAt = now
}
