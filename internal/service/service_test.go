package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/marketplace-notifier/internal/model"
	"github.com/mmeshcher/marketplace-notifier/internal/repository"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type memStore struct {
	mu sync.Mutex

	notifications map[string]*model.Notification
	claims        map[string]claim
	users         map[string]*model.User
	payments      map[string]*model.Payment
	orders        map[string]*model.Order
	watches       []model.FavoriteWatch
	outOfStock    map[string]time.Time

	insertErr       error
	dedupErrFor     string
	paymentUpdates  int
	dispatchSaves   int
	appendedOnSaves int
}

func newMemStore() *memStore {
	return &memStore{
		notifications: make(map[string]*model.Notification),
		claims:        make(map[string]claim),
		users:         make(map[string]*model.User),
		payments:      make(map[string]*model.Payment),
		orders:        make(map[string]*model.Order),
		outOfStock:    make(map[string]time.Time),
	}
}

type claim struct {
	token string
	until time.Time
}

func cloneNotification(n *model.Notification) *model.Notification {
	c := *n
	c.Channels = append([]model.Channel(nil), n.Channels...)
	c.DeliveryAttempts = append([]model.DeliveryAttempt(nil), n.DeliveryAttempts...)
	return &c
}

func (s *memStore) addUser(id string, role model.Role, active bool) {
	s.users[id] = &model.User{ID: id, Name: id, Role: role, IsActive: active, Locale: model.LocaleRU}
}

func (s *memStore) addOrderWithPayment(orderID, paymentID, customer, seller string, amount int64) {
	s.orders[orderID] = &model.Order{
		ID:            orderID,
		OrderNumber:   "ORD-" + orderID,
		CustomerID:    customer,
		SellerID:      seller,
		Status:        model.OrderStatusPending,
		PaymentStatus: model.OrderPaymentPending,
		TotalAmount:   decimal.NewFromInt(amount),
		Currency:      "UZS",
	}
	s.payments[paymentID] = &model.Payment{
		ID:          paymentID,
		OrderID:     orderID,
		UserID:      customer,
		Amount:      decimal.NewFromInt(amount),
		Currency:    "UZS",
		Method:      model.MethodClick,
		Status:      model.PaymentPending,
		ExternalIDs: map[string]string{},
		CreatedAt:   baseTime,
		UpdatedAt:   baseTime,
	}
}

func (s *memStore) all() []*model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := make([]*model.Notification, 0, len(s.notifications))
	for _, n := range s.notifications {
		res = append(res, cloneNotification(n))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Recipient < res[j].Recipient })
	return res
}

func (s *memStore) payment(id string) model.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.payments[id]
}

func (s *memStore) order(id string) model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.orders[id]
}

func (s *memStore) Ping(context.Context) error { return nil }

func (s *memStore) Close() error { return nil }

func (s *memStore) InsertNotifications(_ context.Context, ns []*model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.insertErr != nil {
		return s.insertErr
	}
	for _, n := range ns {
		s.notifications[n.ID] = cloneNotification(n)
	}
	return nil
}

func (s *memStore) GetNotification(_ context.Context, id string) (*model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return nil, repository.ErrNotificationNotFound
	}
	return cloneNotification(n), nil
}

func (s *memStore) ClaimNotifications(_ context.Context, q repository.ClaimQuery) ([]*model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []*model.Notification
	for _, n := range s.notifications {
		if n.Status != model.NotificationPending && n.Status != model.NotificationSent {
			continue
		}
		if n.ScheduledAt != nil && n.ScheduledAt.After(q.Now) {
			continue
		}
		if !n.ExpiresAt.After(q.Now) {
			continue
		}
		if c, ok := s.claims[n.ID]; ok && !c.until.Before(q.Now) {
			continue
		}
		if last := n.LastAttemptAt(); last != nil && last.After(q.RetryBefore) {
			continue
		}
		res = append(res, n)
	}

	sort.Slice(res, func(i, j int) bool {
		if res[i].Priority.Rank() != res[j].Priority.Rank() {
			return res[i].Priority.Rank() > res[j].Priority.Rank()
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	if len(res) > q.Limit {
		res = res[:q.Limit]
	}

	out := make([]*model.Notification, 0, len(res))
	for _, n := range res {
		s.claims[n.ID] = claim{token: q.Token, until: q.LeaseUntil}
		out = append(out, cloneNotification(n))
	}
	return out, nil
}

func (s *memStore) RenewClaim(_ context.Context, id, token string, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.claims[id]
	if _, exists := s.notifications[id]; !exists || !ok || c.token != token {
		return false, nil
	}
	s.claims[id] = claim{token: token, until: until}
	return true, nil
}

func (s *memStore) SaveDispatchResult(_ context.Context, n *model.Notification, appended []model.DeliveryAttempt, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.notifications[n.ID]
	if !ok {
		return repository.ErrNotificationNotFound
	}
	if c, ok := s.claims[n.ID]; !ok || c.token != token {
		return repository.ErrClaimLost
	}

	if stored.Status != model.NotificationRead && stored.Status != model.NotificationFailed {
		stored.Status = n.Status
	}
	if stored.SentAt == nil {
		stored.SentAt = n.SentAt
	}
	if stored.DeliveredAt == nil {
		stored.DeliveredAt = n.DeliveredAt
	}
	stored.DeliveryAttempts = append(stored.DeliveryAttempts, appended...)
	stored.ScheduledAt = n.ScheduledAt
	stored.UpdatedAt = n.UpdatedAt

	delete(s.claims, n.ID)
	s.dispatchSaves++
	s.appendedOnSaves += len(appended)
	return nil
}

func (s *memStore) ReleaseClaim(_ context.Context, id, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.claims[id]; ok && c.token == token {
		delete(s.claims, id)
	}
	return nil
}

func (s *memStore) ListNotifications(_ context.Context, f repository.NotificationFilter, now time.Time) ([]*model.Notification, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []*model.Notification
	for _, n := range s.notifications {
		if n.Recipient != f.Recipient || n.IsArchived || !n.ExpiresAt.After(now) {
			continue
		}
		if f.UnreadOnly && (n.IsRead || n.Status == model.NotificationFailed) {
			continue
		}
		res = append(res, cloneNotification(n))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })

	total := len(res)
	start := (f.Page - 1) * f.PageSize
	if start > total {
		start = total
	}
	end := start + f.PageSize
	if end > total {
		end = total
	}
	return res[start:end], total, nil
}

func (s *memStore) CountUnread(_ context.Context, recipient string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cnt := 0
	for _, n := range s.notifications {
		if n.Recipient == recipient && !n.IsRead && !n.IsArchived && n.ExpiresAt.After(now) && n.Status != model.NotificationFailed {
			cnt++
		}
	}
	return cnt, nil
}

func (s *memStore) SaveReadState(_ context.Context, n *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.notifications[n.ID]
	if !ok || stored.Recipient != n.Recipient {
		return repository.ErrNotificationNotFound
	}
	if stored.Status != model.NotificationSent && stored.Status != model.NotificationDelivered {
		return nil
	}
	stored.Status, stored.IsRead, stored.ReadAt, stored.UpdatedAt = n.Status, n.IsRead, n.ReadAt, n.UpdatedAt
	return nil
}

func (s *memStore) MarkAllRead(_ context.Context, recipient string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cnt int64
	for _, n := range s.notifications {
		if n.Recipient != recipient || n.IsArchived {
			continue
		}
		if n.Status == model.NotificationSent || n.Status == model.NotificationDelivered {
			_ = n.MarkRead(now)
			cnt++
		}
	}
	return cnt, nil
}

func (s *memStore) ArchiveNotification(_ context.Context, id, recipient string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok || n.Recipient != recipient {
		return repository.ErrNotificationNotFound
	}
	n.Archive(now)
	return nil
}

func (s *memStore) DeleteNotification(_ context.Context, id, recipient string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok || n.Recipient != recipient {
		return repository.ErrNotificationNotFound
	}
	delete(s.notifications, id)
	return nil
}

func (s *memStore) HasRecentNotification(_ context.Context, q repository.DedupQuery) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dedupErrFor != "" && q.SubscriptionID == s.dedupErrFor {
		return false, errors.New("dedup lookup failed")
	}
	for _, n := range s.notifications {
		if n.Type == q.Type && n.Recipient == q.Recipient &&
			n.RelatedData.ProductID == q.ProductID && n.RelatedData.SubscriptionID == q.SubscriptionID &&
			!n.CreatedAt.Before(q.Since) {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (s *memStore) ListActiveAdmins(context.Context) ([]*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []*model.User
	for _, u := range s.users {
		if u.Role == model.RoleAdmin && u.IsActive {
			c := *u
			res = append(res, &c)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (s *memStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	c := *o
	return &c, nil
}

func (s *memStore) UpdatePaymentWithOrder(_ context.Context, paymentID string, fn func(*model.Payment, *model.Order) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[paymentID]
	if !ok {
		return repository.ErrPaymentNotFound
	}
	o, ok := s.orders[p.OrderID]
	if !ok {
		return repository.ErrOrderNotFound
	}

	pc, oc := *p, *o
	pc.ExternalIDs = make(map[string]string, len(p.ExternalIDs))
	for k, v := range p.ExternalIDs {
		pc.ExternalIDs[k] = v
	}

	if err := fn(&pc, &oc); err != nil {
		return err
	}

	s.payments[paymentID] = &pc
	s.orders[p.OrderID] = &oc
	s.paymentUpdates++
	return nil
}

func (s *memStore) ListFavoriteWatches(_ context.Context, afterID string, limit int) ([]model.FavoriteWatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sort.Slice(s.watches, func(i, j int) bool { return s.watches[i].SubscriptionID < s.watches[j].SubscriptionID })

	var res []model.FavoriteWatch
	for _, w := range s.watches {
		if w.SubscriptionID <= afterID {
			continue
		}
		if since, ok := s.outOfStock[w.SubscriptionID]; ok {
			ts := since
			w.OutOfStockSince = &ts
		} else {
			w.OutOfStockSince = nil
		}
		res = append(res, w)
		if len(res) == limit {
			break
		}
	}
	return res, nil
}

func (s *memStore) MarkOutOfStock(_ context.Context, subscriptionID string, since time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.outOfStock[subscriptionID]; !ok {
		s.outOfStock[subscriptionID] = since
	}
	return nil
}

func (s *memStore) ClearOutOfStock(_ context.Context, subscriptionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.outOfStock, subscriptionID)
	return nil
}

func (s *memStore) setStock(subscriptionID string, stock int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.watches {
		if s.watches[i].SubscriptionID == subscriptionID {
			s.watches[i].Stock = stock
		}
	}
}

var _ Repository = (*memStore)(nil)

type publisherFunc func(ctx context.Context, ev Event) ([]*model.Notification, error)

func (f publisherFunc) Publish(ctx context.Context, ev Event) ([]*model.Notification, error) {
	return f(ctx, ev)
}
