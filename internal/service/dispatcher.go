package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/marketplace-notifier/internal/channel"
	"github.com/mmeshcher/marketplace-notifier/internal/metrics"
	"github.com/mmeshcher/marketplace-notifier/internal/model"
	"github.com/mmeshcher/marketplace-notifier/internal/repository"
)

// DispatcherConfig задаёт параметры цикла отправки.
type DispatcherConfig struct {
	Interval       time.Duration
	BatchSize      int
	Workers        int
	ChannelTimeout time.Duration
	RetryBackoff   time.Duration
	ClaimLease     time.Duration
}

func (c *DispatcherConfig) normalize() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.ChannelTimeout <= 0 {
		c.ChannelTimeout = 10 * time.Second
	}
	if c.RetryBackoff < 0 {
		c.RetryBackoff = 0
	}
	if c.ClaimLease <= c.ChannelTimeout {
		c.ClaimLease = 2 * c.ChannelTimeout
	}
}

// Dispatcher периодически забирает готовые уведомления и рассылает их по каналам.
type Dispatcher struct {
	store   NotificationStore
	senders channel.Sender
	cfg     DispatcherConfig
	logger  *zap.Logger
	now     func() time.Time
	kick    chan struct{}
}

// NewDispatcher создаёт цикл отправки.
func NewDispatcher(store NotificationStore, senders channel.Sender, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	cfg.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		store:   store,
		senders: senders,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		kick:    make(chan struct{}, 1),
	}
}

// Kick просит выполнить внеочередной проход. Не блокируется.
func (d *Dispatcher) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Run выполняет проходы по таймеру и по Kick до отмены контекста.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-d.kick:
		}

		if _, err := d.RunPass(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("dispatch pass failed", zap.Error(err))
		}
	}
}

// RunPass захватывает пачку готовых уведомлений и пытается доставить их по всем оставшимся каналам.
// Аренда пачки рассчитана на всю очередь воркеров, а перед отправкой каждого уведомления
// продлевается на ClaimLease; уведомление, чью аренду перехватил другой проход, пропускается.
// Возвращает число захваченных уведомлений.
func (d *Dispatcher) RunPass(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() {
		metrics.DispatchPassDuration.Observe(time.Since(start).Seconds())
	}()

	now := d.now()
	token := uuid.NewString()
	rounds := (d.cfg.BatchSize + d.cfg.Workers - 1) / d.cfg.Workers
	claimed, err := d.store.ClaimNotifications(ctx, repository.ClaimQuery{
		Now:         now,
		RetryBefore: now.Add(-d.cfg.RetryBackoff),
		LeaseUntil:  now.Add(time.Duration(rounds) * d.cfg.ClaimLease),
		Limit:       d.cfg.BatchSize,
		Token:       token,
	})
	if err != nil {
		return 0, fmt.Errorf("claim notifications: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)

	for _, n := range claimed {
		g.Go(func() error {
			d.process(gctx, n, token)
			return nil
		})
	}

	_ = g.Wait()
	return len(claimed), nil
}

func (d *Dispatcher) process(ctx context.Context, n *model.Notification, token string) {
	log := d.logger.With(zap.String("notification_id", n.ID), zap.String("type", string(n.Type)))

	renewed, err := d.store.RenewClaim(ctx, n.ID, token, d.now().Add(d.cfg.ClaimLease))
	if err != nil {
		log.Warn("failed to renew claim, skipping", zap.Error(err))
		return
	}
	if !renewed {
		log.Info("claim taken over by another dispatch pass, skipping")
		return
	}

	pending := n.PendingChannels()
	if len(pending) == 0 {
		d.release(n.ID, token, log)
		return
	}

	snapshot := *n
	results := make([]error, len(pending))

	var wg sync.WaitGroup
	for i, ch := range pending {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = d.send(ctx, &snapshot, ch)
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		d.release(n.ID, token, log)
		return
	}

	before := len(n.DeliveryAttempts)
	wasFailed := n.Status == model.NotificationFailed
	now := d.now()

	var hold time.Duration
	for i, ch := range pending {
		if err := results[i]; err != nil {
			var ra *channel.RetryAfterError
			if errors.As(err, &ra) && ra.RetryAfter > hold {
				hold = ra.RetryAfter
			}
			n.MarkFailed(ch, err.Error(), now)
			metrics.DeliveryAttemptsTotal.WithLabelValues(string(ch), "failure").Inc()
			log.Warn("channel delivery failed", zap.String("channel", string(ch)), zap.Error(err))
			continue
		}
		n.MarkSent(ch, now)
		metrics.DeliveryAttemptsTotal.WithLabelValues(string(ch), "success").Inc()
	}

	if n.AllChannelsSent() {
		if err := n.MarkDelivered(now); err != nil {
			log.Warn("cannot mark delivered", zap.Error(err))
		}
	}

	if hold > d.cfg.RetryBackoff && !n.Status.Terminal() && len(n.PendingChannels()) > 0 {
		n.DeferUntil(now.Add(hold))
		log.Info("gateway asked to retry later", zap.Duration("retry_after", hold))
	}

	if n.Status == model.NotificationFailed && !wasFailed {
		metrics.NotificationsFailedTotal.WithLabelValues(string(n.Type)).Inc()
		log.Error("notification failed after repeated channel failures")
	}

	err = d.store.SaveDispatchResult(ctx, n, n.DeliveryAttempts[before:], token)
	switch {
	case errors.Is(err, repository.ErrClaimLost):
		log.Warn("claim lost before saving dispatch result, attempts discarded")
	case err != nil:
		log.Error("failed to save dispatch result", zap.Error(err))
	}
}

// send ограничивает вызов отправителя таймаутом канала, даже если отправитель не следит за контекстом.
func (d *Dispatcher) send(ctx context.Context, n *model.Notification, ch model.Channel) error {
	cctx, cancel := context.WithTimeout(ctx, d.cfg.ChannelTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		metrics.ChannelSendDuration.WithLabelValues(string(ch)).Observe(time.Since(start).Seconds())
	}()

	done := make(chan error, 1)
	go func() {
		done <- d.senders.Send(cctx, n, ch)
	}()

	select {
	case err := <-done:
		return err
	case <-cctx.Done():
		return fmt.Errorf("channel %s: %w", ch, cctx.Err())
	}
}

func (d *Dispatcher) release(id, token string, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := d.store.ReleaseClaim(ctx, id, token); err != nil {
		log.Warn("failed to release claim", zap.Error(err))
	}
}
