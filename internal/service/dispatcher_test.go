package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/marketplace-notifier/internal/channel"
	"github.com/mmeshcher/marketplace-notifier/internal/model"
	"github.com/mmeshcher/marketplace-notifier/internal/repository"
)

type stubSender struct {
	mu    sync.Mutex
	fail  map[model.Channel]error
	block map[model.Channel]time.Duration
	calls map[string]int
}

func newStubSender() *stubSender {
	return &stubSender{
		fail:  make(map[model.Channel]error),
		block: make(map[model.Channel]time.Duration),
		calls: make(map[string]int),
	}
}

func (s *stubSender) Send(_ context.Context, n *model.Notification, ch model.Channel) error {
	s.mu.Lock()
	s.calls[n.ID+"/"+string(ch)]++
	err := s.fail[ch]
	wait := s.block[ch]
	s.mu.Unlock()

	if wait > 0 {
		time.Sleep(wait)
	}
	return err
}

// gatedSender задерживает отправку по одному каналу, пока тест не откроет release.
type gatedSender struct {
	*stubSender
	gated   model.Channel
	started chan string
	release chan struct{}
}

func newGatedSender(inner *stubSender, ch model.Channel) *gatedSender {
	return &gatedSender{
		stubSender: inner,
		gated:      ch,
		started:    make(chan string, 16),
		release:    make(chan struct{}),
	}
}

func (g *gatedSender) Send(ctx context.Context, n *model.Notification, ch model.Channel) error {
	if ch == g.gated {
		g.started <- n.ID
		select {
		case <-g.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return g.stubSender.Send(ctx, n, ch)
}

func (g *gatedSender) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-g.started:
	case <-time.After(time.Second):
		t.Fatal("send did not start")
	}
}

func (s *stubSender) callCount(id string, ch model.Channel) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id+"/"+string(ch)]
}

func seedNotification(t *testing.T, store *memStore, recipient string, channels []model.Channel, createdAt time.Time) *model.Notification {
	t.Helper()

	text := model.LocalizedText{RU: "т", UZ: "t", EN: "t"}
	n, err := model.NewNotification(recipient, model.TypeOrderCreated, text, text, model.PriorityNormal, channels, model.RelatedData{}, createdAt)
	require.NoError(t, err)
	require.NoError(t, store.InsertNotifications(context.Background(), []*model.Notification{n}))
	return n
}

func newTestDispatcher(store *memStore, sender *stubSender, clock *time.Time) *Dispatcher {
	d := NewDispatcher(store, sender, DispatcherConfig{
		BatchSize:      50,
		Workers:        4,
		ChannelTimeout: time.Second,
		RetryBackoff:   time.Minute,
	}, nil)
	d.now = func() time.Time { return *clock }
	return d
}

func TestRunPass_AllChannelsSucceed(t *testing.T) {
	store := newMemStore()
	sender := newStubSender()
	clock := baseTime

	n := seedNotification(t, store, "u-1", []model.Channel{model.ChannelInApp, model.ChannelEmail, model.ChannelChatBot}, baseTime)
	d := newTestDispatcher(store, sender, &clock)

	processed, err := d.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	got, err := store.GetNotification(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationDelivered, got.Status)
	require.NotNil(t, got.SentAt)
	require.NotNil(t, got.DeliveredAt)
	require.Len(t, got.DeliveryAttempts, 3)
	for i, a := range got.DeliveryAttempts {
		assert.True(t, a.Success)
		assert.Equal(t, i+1, a.AttemptNumber)
	}

	processed, err = d.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Equal(t, 1, sender.callCount(n.ID, model.ChannelEmail))
}

func TestRunPass_FailedAttemptCapIsExactlyThree(t *testing.T) {
	store := newMemStore()
	sender := newStubSender()
	sender.fail[model.ChannelEmail] = errors.New("smtp unavailable")
	clock := baseTime

	n := seedNotification(t, store, "u-1", []model.Channel{model.ChannelInApp, model.ChannelEmail}, baseTime)
	d := newTestDispatcher(store, sender, &clock)

	for pass := 1; pass <= 5; pass++ {
		_, err := d.RunPass(context.Background())
		require.NoError(t, err)

		got, err := store.GetNotification(context.Background(), n.ID)
		require.NoError(t, err)

		if pass < 3 {
			assert.Equal(t, model.NotificationSent, got.Status, "pass %d", pass)
			assert.Equal(t, pass, got.FailedAttempts(model.ChannelEmail))
		} else {
			assert.Equal(t, model.NotificationFailed, got.Status, "pass %d", pass)
			assert.Equal(t, model.MaxFailedAttempts, got.FailedAttempts(model.ChannelEmail))
		}

		clock = clock.Add(2 * time.Minute)
	}

	assert.Equal(t, 3, sender.callCount(n.ID, model.ChannelEmail))
	assert.Equal(t, 1, sender.callCount(n.ID, model.ChannelInApp))
}

func TestRunPass_RetryWaitsForBackoff(t *testing.T) {
	store := newMemStore()
	sender := newStubSender()
	sender.fail[model.ChannelEmail] = errors.New("smtp unavailable")
	clock := baseTime

	n := seedNotification(t, store, "u-1", []model.Channel{model.ChannelEmail}, baseTime)
	d := newTestDispatcher(store, sender, &clock)

	_, err := d.RunPass(context.Background())
	require.NoError(t, err)

	clock = clock.Add(30 * time.Second)
	processed, err := d.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, processed)

	clock = clock.Add(time.Minute)
	processed, err = d.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 2, sender.callCount(n.ID, model.ChannelEmail))

	got, err := store.GetNotification(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationPending, got.Status)
}

func TestRunPass_ChannelTimeoutIsFailure(t *testing.T) {
	store := newMemStore()
	sender := newStubSender()
	sender.block[model.ChannelEmail] = 300 * time.Millisecond
	clock := baseTime

	n := seedNotification(t, store, "u-1", []model.Channel{model.ChannelInApp, model.ChannelEmail}, baseTime)
	d := newTestDispatcher(store, sender, &clock)
	d.cfg.ChannelTimeout = 20 * time.Millisecond

	start := time.Now()
	_, err := d.RunPass(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 250*time.Millisecond)

	got, err := store.GetNotification(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationSent, got.Status)
	assert.Equal(t, 1, got.FailedAttempts(model.ChannelEmail))
	assert.Equal(t, []model.Channel{model.ChannelEmail}, got.PendingChannels())
}

func TestRunPass_SkipsScheduledAndExpired(t *testing.T) {
	store := newMemStore()
	sender := newStubSender()
	clock := baseTime

	future := seedNotification(t, store, "u-1", []model.Channel{model.ChannelInApp}, baseTime)
	later := baseTime.Add(time.Hour)
	store.notifications[future.ID].ScheduledAt = &later

	expired := seedNotification(t, store, "u-2", []model.Channel{model.ChannelInApp}, baseTime.Add(-model.DefaultTTL-time.Hour))

	d := newTestDispatcher(store, sender, &clock)

	processed, err := d.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Equal(t, 0, sender.callCount(future.ID, model.ChannelInApp))
	assert.Equal(t, 0, sender.callCount(expired.ID, model.ChannelInApp))

	clock = later
	processed, err = d.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
}

func TestRunPass_ConcurrentDispatchersNeverDoubleSend(t *testing.T) {
	store := newMemStore()
	sender := newStubSender()
	sender.block[model.ChannelEmail] = 5 * time.Millisecond
	clock := baseTime

	var ids []string
	for i := 0; i < 20; i++ {
		n := seedNotification(t, store, "u-1", []model.Channel{model.ChannelInApp, model.ChannelEmail}, baseTime.Add(time.Duration(i)*time.Second))
		ids = append(ids, n.ID)
	}

	d1 := newTestDispatcher(store, sender, &clock)
	d2 := newTestDispatcher(store, sender, &clock)

	var wg sync.WaitGroup
	for _, d := range []*Dispatcher{d1, d2} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = d.RunPass(context.Background())
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.LessOrEqual(t, sender.callCount(id, model.ChannelEmail), 1)
		assert.LessOrEqual(t, sender.callCount(id, model.ChannelInApp), 1)
	}
}

func TestRunPass_UrgentFirst(t *testing.T) {
	store := newMemStore()
	sender := newStubSender()
	clock := baseTime

	text := model.LocalizedText{RU: "т", UZ: "t", EN: "t"}
	low, err := model.NewNotification("u-1", model.TypeFavoritePriceDrop, text, text, model.PriorityLow, []model.Channel{model.ChannelInApp}, model.RelatedData{}, baseTime)
	require.NoError(t, err)
	urgent, err := model.NewNotification("u-1", model.TypePaymentFailed, text, text, model.PriorityUrgent, []model.Channel{model.ChannelInApp}, model.RelatedData{}, baseTime.Add(time.Second))
	require.NoError(t, err)
	require.NoError(t, store.InsertNotifications(context.Background(), []*model.Notification{low, urgent}))

	d := newTestDispatcher(store, sender, &clock)
	d.cfg.BatchSize = 1

	_, err = d.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sender.callCount(urgent.ID, model.ChannelInApp))
	assert.Equal(t, 0, sender.callCount(low.ID, model.ChannelInApp))
}

func TestKickIsNonBlocking(t *testing.T) {
	d := NewDispatcher(newMemStore(), newStubSender(), DispatcherConfig{}, nil)
	d.Kick()
	d.Kick()
	d.Kick()
	assert.Len(t, d.kick, 1)
}

func TestRun_StopsOnCancel(t *testing.T) {
	store := newMemStore()
	sender := newStubSender()
	n := seedNotification(t, store, "u-1", []model.Channel{model.ChannelInApp}, time.Now())

	d := NewDispatcher(store, sender, DispatcherConfig{Interval: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	d.Kick()
	require.Eventually(t, func() bool {
		return sender.callCount(n.ID, model.ChannelInApp) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func failEmailOnce(t *testing.T, store *memStore, sender *stubSender, d *Dispatcher, ids ...string) {
	t.Helper()

	sender.fail[model.ChannelEmail] = errors.New("smtp unavailable")
	_, err := d.RunPass(context.Background())
	require.NoError(t, err)
	delete(sender.fail, model.ChannelEmail)

	for _, id := range ids {
		got, err := store.GetNotification(context.Background(), id)
		require.NoError(t, err)
		require.Equal(t, model.NotificationSent, got.Status)
	}
}

func TestRunPass_ReadDuringRetryStaysRead(t *testing.T) {
	store := newMemStore()
	sender := newStubSender()
	clock := baseTime

	n := seedNotification(t, store, "u-1", []model.Channel{model.ChannelInApp, model.ChannelEmail}, baseTime)
	d := newTestDispatcher(store, sender, &clock)
	failEmailOnce(t, store, sender, d, n.ID)

	clock = clock.Add(2 * time.Minute)
	gate := newGatedSender(sender, model.ChannelEmail)
	d.senders = gate
	inbox := newTestInbox(store, &clock)

	done := make(chan error, 1)
	go func() {
		_, err := d.RunPass(context.Background())
		done <- err
	}()

	gate.waitStarted(t)
	read, err := inbox.MarkRead(context.Background(), "u-1", n.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationRead, read.Status)

	close(gate.release)
	require.NoError(t, <-done)

	got, err := store.GetNotification(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationRead, got.Status)
	assert.True(t, got.IsRead)
	assert.NotNil(t, got.ReadAt)
	assert.NotNil(t, got.DeliveredAt)
	require.Len(t, got.DeliveryAttempts, 3)
	assert.True(t, got.DeliveryAttempts[2].Success)
	assert.Equal(t, 2, sender.callCount(n.ID, model.ChannelEmail))
}

func TestRunPass_ReadAllAndArchiveDuringRetry(t *testing.T) {
	store := newMemStore()
	sender := newStubSender()
	clock := baseTime

	a := seedNotification(t, store, "u-1", []model.Channel{model.ChannelInApp, model.ChannelEmail}, baseTime)
	b := seedNotification(t, store, "u-1", []model.Channel{model.ChannelInApp, model.ChannelEmail}, baseTime.Add(time.Second))
	d := newTestDispatcher(store, sender, &clock)
	failEmailOnce(t, store, sender, d, a.ID, b.ID)

	clock = clock.Add(2 * time.Minute)
	gate := newGatedSender(sender, model.ChannelEmail)
	d.senders = gate
	inbox := newTestInbox(store, &clock)

	done := make(chan error, 1)
	go func() {
		_, err := d.RunPass(context.Background())
		done <- err
	}()

	gate.waitStarted(t)
	updated, err := inbox.MarkAllRead(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated)
	require.NoError(t, inbox.Archive(context.Background(), "u-1", b.ID))

	close(gate.release)
	require.NoError(t, <-done)

	for _, id := range []string{a.ID, b.ID} {
		got, err := store.GetNotification(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, model.NotificationRead, got.Status, id)
		assert.True(t, got.IsRead, id)
		assert.Len(t, got.DeliveryAttempts, 3, id)
	}

	archived, err := store.GetNotification(context.Background(), b.ID)
	require.NoError(t, err)
	assert.True(t, archived.IsArchived)
}

func TestRunPass_ExpiredLeaseIsReclaimedOnce(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	sender := newStubSender()
	clock := baseTime

	n := seedNotification(t, store, "u-1", []model.Channel{model.ChannelInApp, model.ChannelEmail}, baseTime)

	stale, err := store.ClaimNotifications(ctx, repository.ClaimQuery{
		Now:         baseTime,
		RetryBefore: baseTime,
		LeaseUntil:  baseTime.Add(time.Second),
		Limit:       10,
		Token:       "stale",
	})
	require.NoError(t, err)
	require.Len(t, stale, 1)

	d := newTestDispatcher(store, sender, &clock)

	processed, err := d.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, processed, "live lease must not be reclaimed")

	clock = baseTime.Add(time.Minute)
	processed, err = d.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	// Воркер с истёкшей арендой просыпается после того, как уведомление забрал другой проход.
	late := newTestDispatcher(store, sender, &clock)
	late.process(ctx, stale[0], "stale")

	assert.Equal(t, 1, sender.callCount(n.ID, model.ChannelEmail))
	assert.Equal(t, 1, sender.callCount(n.ID, model.ChannelInApp))

	stale[0].MarkSent(model.ChannelEmail, clock)
	err = store.SaveDispatchResult(ctx, stale[0], stale[0].DeliveryAttempts, "stale")
	assert.ErrorIs(t, err, repository.ErrClaimLost)

	got, err := store.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationDelivered, got.Status)
	assert.Len(t, got.DeliveryAttempts, 2)
}

func TestRunPass_LeaseCoversWorkerQueue(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	clock := baseTime

	for i := 0; i < 3; i++ {
		seedNotification(t, store, "u-1", []model.Channel{model.ChannelEmail}, baseTime.Add(time.Duration(i)*time.Second))
	}

	sender := newStubSender()
	gate := newGatedSender(sender, model.ChannelEmail)
	d := newTestDispatcher(store, sender, &clock)
	d.senders = gate
	d.cfg.Workers = 1
	d.cfg.BatchSize = 3

	done := make(chan error, 1)
	go func() {
		_, err := d.RunPass(ctx)
		done <- err
	}()
	gate.waitStarted(t)

	store.mu.Lock()
	leases := make([]time.Time, 0, len(store.claims))
	for _, c := range store.claims {
		leases = append(leases, c.until)
	}
	store.mu.Unlock()

	require.Len(t, leases, 3)
	queued := 0
	for _, until := range leases {
		assert.False(t, until.Before(baseTime.Add(d.cfg.ClaimLease)))
		if until.Equal(baseTime.Add(3 * d.cfg.ClaimLease)) {
			queued++
		}
	}
	assert.Equal(t, 2, queued)

	close(gate.release)
	require.NoError(t, <-done)
	assert.Equal(t, 3, store.dispatchSaves)
	assert.Equal(t, 3, store.appendedOnSaves)
}

func TestRunPass_RetryAfterDefersNextAttempt(t *testing.T) {
	store := newMemStore()
	sender := newStubSender()
	sender.fail[model.ChannelEmail] = &channel.RetryAfterError{RetryAfter: 10 * time.Minute}
	clock := baseTime

	n := seedNotification(t, store, "u-1", []model.Channel{model.ChannelInApp, model.ChannelEmail}, baseTime)
	d := newTestDispatcher(store, sender, &clock)

	_, err := d.RunPass(context.Background())
	require.NoError(t, err)

	got, err := store.GetNotification(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationSent, got.Status)
	require.NotNil(t, got.ScheduledAt)
	assert.Equal(t, baseTime.Add(10*time.Minute), *got.ScheduledAt)

	clock = baseTime.Add(2 * time.Minute)
	processed, err := d.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, processed)

	clock = baseTime.Add(10 * time.Minute)
	processed, err = d.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 2, sender.callCount(n.ID, model.ChannelEmail))
}
