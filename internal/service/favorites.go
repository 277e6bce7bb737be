package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-notifier/internal/cache"
	"github.com/mmeshcher/marketplace-notifier/internal/metrics"
	"github.com/mmeshcher/marketplace-notifier/internal/model"
	"github.com/mmeshcher/marketplace-notifier/internal/repository"
)

const scanLockName = "favorites:scan"

// ScannerConfig задаёт параметры проверки избранного.
type ScannerConfig struct {
	Interval    time.Duration
	BatchSize   int
	DedupWindow time.Duration
}

// ScanStats: итоги одного прохода по подпискам.
type ScanStats struct {
	Scanned     int
	PriceDrops  int
	BackInStock int
	Suppressed  int
	Errors      int
}

type dedupStore interface {
	HasRecentNotification(ctx context.Context, q repository.DedupQuery) (bool, error)
}

// Scanner периодически проверяет подписки на снижение цены и поступление товара.
type Scanner struct {
	favorites FavoriteStore
	dedup     dedupStore
	publisher Publisher
	locker    cache.Locker
	cfg       ScannerConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewScanner создаёт сканер избранного. locker может быть nil, если сервис запущен в одном экземпляре.
func NewScanner(favorites FavoriteStore, dedup dedupStore, publisher Publisher, locker cache.Locker, cfg ScannerConfig, logger *zap.Logger) *Scanner {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 24 * time.Hour
	}
	if locker == nil {
		locker = cache.NopLocker{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		favorites: favorites,
		dedup:     dedup,
		publisher: publisher,
		locker:    locker,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Run запускает проверку по таймеру до отмены контекста.
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.runLocked(ctx)
		}
	}
}

// lockTTL: срок блокировки прохода. Блокировка продлевается после каждой страницы,
// так что срок должен покрывать обработку одной страницы, а не всего прохода.
func (s *Scanner) lockTTL() time.Duration {
	return 2 * s.cfg.Interval
}

func (s *Scanner) runLocked(ctx context.Context) {
	lock, err := s.locker.Acquire(ctx, scanLockName, s.lockTTL())
	if errors.Is(err, cache.ErrLockHeld) {
		s.logger.Debug("favorite scan is running on another instance")
		return
	}
	if err != nil {
		s.logger.Warn("cannot acquire favorite scan lock", zap.Error(err))
		return
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("cannot release favorite scan lock", zap.Error(err))
		}
	}()

	stats, err := s.scan(ctx, func(ctx context.Context) error {
		return lock.Refresh(ctx, s.lockTTL())
	})
	if err != nil && ctx.Err() == nil {
		s.logger.Error("favorite scan aborted", zap.Error(err))
	}
	s.logger.Info("favorite scan finished",
		zap.Int("scanned", stats.Scanned),
		zap.Int("price_drops", stats.PriceDrops),
		zap.Int("back_in_stock", stats.BackInStock),
		zap.Int("suppressed", stats.Suppressed),
		zap.Int("errors", stats.Errors),
	)
}

// Scan проходит по всем подпискам страницами. Ошибка отдельной подписки учитывается в статистике
// и не прерывает проход; ошибка чтения страницы прерывает.
func (s *Scanner) Scan(ctx context.Context) (ScanStats, error) {
	return s.scan(ctx, func(context.Context) error { return nil })
}

// scan вызывает keepAlive после каждой страницы; его ошибка прерывает проход.
func (s *Scanner) scan(ctx context.Context, keepAlive func(context.Context) error) (ScanStats, error) {
	var stats ScanStats
	afterID := ""

	for {
		page, err := s.favorites.ListFavoriteWatches(ctx, afterID, s.cfg.BatchSize)
		if err != nil {
			return stats, fmt.Errorf("list favorites: %w", err)
		}

		for _, w := range page {
			stats.Scanned++
			if err := s.check(ctx, w, &stats); err != nil {
				stats.Errors++
				metrics.FavoriteScanErrorsTotal.Inc()
				s.logger.Warn("favorite check failed",
					zap.String("subscription_id", w.SubscriptionID),
					zap.Error(err),
				)
			}
		}

		if len(page) < s.cfg.BatchSize {
			return stats, nil
		}
		if err := keepAlive(ctx); err != nil {
			return stats, fmt.Errorf("keep scan lock: %w", err)
		}
		afterID = page[len(page)-1].SubscriptionID
	}
}

func (s *Scanner) check(ctx context.Context, w model.FavoriteWatch, stats *ScanStats) error {
	now := s.now()

	if w.PriceDropped() {
		sent, err := s.notifyOnce(ctx, model.TypeFavoritePriceDrop, w, now)
		if err != nil {
			return err
		}
		if sent {
			stats.PriceDrops++
		} else {
			stats.Suppressed++
		}
	}

	if w.Stock <= 0 {
		if w.OutOfStockSince == nil {
			return s.favorites.MarkOutOfStock(ctx, w.SubscriptionID, now)
		}
		return nil
	}

	if w.OutOfStockSince == nil {
		return nil
	}

	if w.BackInStock() {
		sent, err := s.notifyOnce(ctx, model.TypeFavoriteBackInStock, w, now)
		if err != nil {
			return err
		}
		if sent {
			stats.BackInStock++
		} else {
			stats.Suppressed++
		}
	}

	return s.favorites.ClearOutOfStock(ctx, w.SubscriptionID)
}

// notifyOnce создаёт уведомление, если такого же не было в окне подавления повторов.
func (s *Scanner) notifyOnce(ctx context.Context, typ model.NotificationType, w model.FavoriteWatch, now time.Time) (bool, error) {
	dup, err := s.dedup.HasRecentNotification(ctx, repository.DedupQuery{
		Type:           typ,
		Recipient:      w.UserID,
		ProductID:      w.ProductID,
		SubscriptionID: w.SubscriptionID,
		Since:          now.Add(-s.cfg.DedupWindow),
	})
	if err != nil {
		return false, err
	}
	if dup {
		return false, nil
	}

	if _, err := s.publisher.Publish(ctx, Event{Type: typ, Watch: &w}); err != nil {
		return false, err
	}
	return true, nil
}
