package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-notifier/internal/metrics"
	"github.com/mmeshcher/marketplace-notifier/internal/model"
	"github.com/mmeshcher/marketplace-notifier/internal/repository"
	"github.com/mmeshcher/marketplace-notifier/internal/templates"
)

const defaultCurrency = "UZS"

// Event: доменное событие, по которому формируется рассылка.
// Заполняются только поля, относящиеся к типу события.
type Event struct {
	Type      model.NotificationType
	Order     *model.Order
	Payment   *model.Payment
	Support   *model.SupportReply
	Watch     *model.FavoriteWatch
	AlertText string
}

var eventAudiences = map[model.NotificationType][]templates.Audience{
	model.TypeOrderCreated:         {templates.AudienceCustomer, templates.AudienceSeller, templates.AudienceAdmin},
	model.TypeOrderConfirmed:       {templates.AudienceCustomer},
	model.TypeOrderShipped:         {templates.AudienceCustomer},
	model.TypeOrderDelivered:       {templates.AudienceCustomer},
	model.TypeOrderCancelled:       {templates.AudienceCustomer, templates.AudienceSeller},
	model.TypePaymentReceived:      {templates.AudienceCustomer, templates.AudienceSeller, templates.AudienceAdmin},
	model.TypePaymentFailed:        {templates.AudienceCustomer, templates.AudienceAdmin},
	model.TypePaymentRefunded:      {templates.AudienceCustomer, templates.AudienceSeller, templates.AudienceAdmin},
	model.TypeCustomerSupportReply: {templates.AudienceSupportAuthor},
	model.TypeFavoritePriceDrop:    {templates.AudienceSubscriber},
	model.TypeFavoriteBackInStock:  {templates.AudienceSubscriber},
	model.TypeAdminAlert:           {templates.AudienceAdmin},
}

var eventPriority = map[model.NotificationType]model.Priority{
	model.TypePaymentFailed:       model.PriorityUrgent,
	model.TypeAdminAlert:          model.PriorityUrgent,
	model.TypeOrderCancelled:      model.PriorityHigh,
	model.TypePaymentRefunded:     model.PriorityHigh,
	model.TypeFavoritePriceDrop:   model.PriorityLow,
	model.TypeFavoriteBackInStock: model.PriorityLow,
}

// EventAudiences возвращает правила рассылки: какие получатели положены каждому типу события.
// Используется для проверки реестра шаблонов при старте.
func EventAudiences() map[model.NotificationType][]templates.Audience {
	res := make(map[model.NotificationType][]templates.Audience, len(eventAudiences))
	for k, v := range eventAudiences {
		res[k] = append([]templates.Audience(nil), v...)
	}
	return res
}

// PriorityFor возвращает приоритет уведомлений для типа события.
func PriorityFor(t model.NotificationType) model.Priority {
	if p, ok := eventPriority[t]; ok {
		return p
	}
	return model.PriorityNormal
}

// ChannelsFor возвращает каналы доставки по умолчанию для роли получателя.
func ChannelsFor(a templates.Audience) []model.Channel {
	switch a {
	case templates.AudienceAdmin, templates.AudienceSeller:
		return []model.Channel{model.ChannelInApp, model.ChannelEmail, model.ChannelChatBot}
	default:
		return []model.Channel{model.ChannelInApp, model.ChannelEmail}
	}
}

type recipient struct {
	userID   string
	audience templates.Audience
}

// Composer превращает доменное событие в набор адресных уведомлений.
type Composer struct {
	store     NotificationStore
	users     UserStore
	templates *templates.Registry
	strict    bool
	kick      func()
	logger    *zap.Logger
	now       func() time.Time
}

// NewComposer создаёт компоновщик рассылок. В строгом режиме отсутствие шаблона: ошибка,
// иначе используется универсальный шаблон. kick вызывается после сохранения пачки.
func NewComposer(store NotificationStore, users UserStore, reg *templates.Registry, strict bool, kick func(), logger *zap.Logger) *Composer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if kick == nil {
		kick = func() {}
	}
	return &Composer{
		store:     store,
		users:     users,
		templates: reg,
		strict:    strict,
		kick:      kick,
		logger:    logger,
		now:       time.Now,
	}
}

// Publish формирует уведомления для всех получателей события и сохраняет их одной пачкой.
func (c *Composer) Publish(ctx context.Context, ev Event) ([]*model.Notification, error) {
	audiences, ok := eventAudiences[ev.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, ev.Type)
	}

	recipients, err := c.resolve(ctx, ev, audiences)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		c.logger.Debug("no recipients for event", zap.String("type", string(ev.Type)))
		return nil, nil
	}

	data := templateData(ev)
	related := relatedData(ev)
	priority := PriorityFor(ev.Type)
	now := c.now()

	batch := make([]*model.Notification, 0, len(recipients))
	for _, rcp := range recipients {
		title, message, err := c.render(templates.Key{Type: ev.Type, Audience: rcp.audience}, data)
		if err != nil {
			return nil, err
		}

		n, err := model.NewNotification(rcp.userID, ev.Type, title, message, priority, ChannelsFor(rcp.audience), related, now)
		if err != nil {
			return nil, err
		}
		batch = append(batch, n)
	}

	if err := c.store.InsertNotifications(ctx, batch); err != nil {
		c.logger.Error("failed to persist notification batch",
			zap.String("type", string(ev.Type)),
			zap.Int("size", len(batch)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("persist notifications: %w", err)
	}

	metrics.NotificationsCreatedTotal.WithLabelValues(string(ev.Type)).Add(float64(len(batch)))
	c.kick()

	return batch, nil
}

func (c *Composer) render(key templates.Key, data templates.Data) (model.LocalizedText, model.LocalizedText, error) {
	title, message, err := c.templates.Render(key, data)
	if err == nil {
		return title, message, nil
	}
	if c.strict || !errors.Is(err, templates.ErrTemplateMissing) {
		return title, message, err
	}

	c.logger.Error("template missing, using fallback", zap.String("template", key.String()), zap.Error(err))
	return c.templates.RenderFallback(key, data)
}

func (c *Composer) resolve(ctx context.Context, ev Event, audiences []templates.Audience) ([]recipient, error) {
	var res []recipient

	for _, aud := range audiences {
		switch aud {
		case templates.AudienceCustomer:
			if id := customerID(ev); id != "" {
				res = append(res, recipient{userID: id, audience: aud})
			}
		case templates.AudienceSeller:
			if ev.Order != nil && ev.Order.SellerID != "" {
				res = append(res, recipient{userID: ev.Order.SellerID, audience: aud})
			}
		case templates.AudienceAdmin:
			admins, err := c.users.ListActiveAdmins(ctx)
			if err != nil {
				return nil, fmt.Errorf("list admins: %w", err)
			}
			for _, a := range admins {
				res = append(res, recipient{userID: a.ID, audience: aud})
			}
		case templates.AudienceSubscriber:
			if ev.Watch != nil && ev.Watch.UserID != "" {
				res = append(res, recipient{userID: ev.Watch.UserID, audience: aud})
			}
		case templates.AudienceSupportAuthor:
			if ev.Support == nil || ev.Support.AuthorUserID == "" {
				continue
			}
			u, err := c.users.GetUser(ctx, ev.Support.AuthorUserID)
			if errors.Is(err, repository.ErrUserNotFound) {
				c.logger.Info("support reply author is not a registered user", zap.String("message_id", ev.Support.MessageID))
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("get support author: %w", err)
			}
			res = append(res, recipient{userID: u.ID, audience: aud})
		}
	}

	return res, nil
}

func customerID(ev Event) string {
	if ev.Order != nil && ev.Order.CustomerID != "" {
		return ev.Order.CustomerID
	}
	if ev.Payment != nil {
		return ev.Payment.UserID
	}
	return ""
}

func templateData(ev Event) templates.Data {
	d := templates.Data{
		Currency:  defaultCurrency,
		AlertText: ev.AlertText,
	}

	if o := ev.Order; o != nil {
		d.OrderNumber = o.OrderNumber
		d.Amount = o.TotalAmount.String()
		if o.Currency != "" {
			d.Currency = o.Currency
		}
	}

	if p := ev.Payment; p != nil {
		d.Amount = p.Amount.String()
		d.RefundAmount = p.Amount.String()
		if p.Currency != "" {
			d.Currency = p.Currency
		}
		d.PaymentMethod = string(p.Method)
		d.ErrorMessage = p.TransactionInfo.LastErrorMessage
		if d.ErrorMessage == "" {
			d.ErrorMessage = string(p.Status)
		}
		if p.Refund != nil {
			d.RefundAmount = p.Refund.Amount.String()
		}
	}

	if s := ev.Support; s != nil {
		d.Subject = s.Subject
		d.Reply = s.Reply
	}

	if w := ev.Watch; w != nil {
		d.ProductName = w.ProductName
		d.OldPrice = w.PriceWhenAdded.String()
		d.NewPrice = w.CurrentPrice.String()
	}

	return d
}

func relatedData(ev Event) model.RelatedData {
	var r model.RelatedData

	if ev.Order != nil {
		r.OrderID = ev.Order.ID
	}
	if ev.Payment != nil {
		r.PaymentID = ev.Payment.ID
		if r.OrderID == "" {
			r.OrderID = ev.Payment.OrderID
		}
	}
	if ev.Support != nil {
		r.UserID = ev.Support.AuthorUserID
	}
	if ev.Watch != nil {
		r.ProductID = ev.Watch.ProductID
		r.SubscriptionID = ev.Watch.SubscriptionID
		r.UserID = ev.Watch.UserID
	}

	return r
}
