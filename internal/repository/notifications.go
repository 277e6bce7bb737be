package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/marketplace-notifier/internal/model"
)

const notificationColumns = `id, recipient, type, title, message, priority, channels, related_data, status,
	scheduled_at, sent_at, delivered_at, read_at, delivery_attempts, is_read, is_archived,
	expires_at, created_at, updated_at`

// NotificationFilter описывает выборку ленты уведомлений получателя.
type NotificationFilter struct {
	Recipient  string
	UnreadOnly bool
	Page       int
	PageSize   int
}

// Normalize приводит параметры пагинации к допустимым значениям.
func (f *NotificationFilter) Normalize() {
	if f.PageSize < 1 {
		f.PageSize = 20
	}
	if f.PageSize > 100 {
		f.PageSize = 100
	}
	if f.Page < 1 {
		f.Page = 1
	}
}

// DedupQuery описывает поиск недавнего уведомления для подавления повторов.
type DedupQuery struct {
	Type           model.NotificationType
	Recipient      string
	ProductID      string
	SubscriptionID string
	Since          time.Time
}

// ClaimQuery описывает выборку уведомлений, готовых к отправке.
// Token помечает аренду прохода: продлить, сохранить или снять её может только владелец токена.
type ClaimQuery struct {
	Now         time.Time
	RetryBefore time.Time
	LeaseUntil  time.Time
	Limit       int
	Token       string
}

func scanNotification(row pgx.Row) (*model.Notification, error) {
	var (
		n                               model.Notification
		typ, priority, status           string
		title, message, related, tries []byte
		channels                        []string
	)

	err := row.Scan(
		&n.ID, &n.Recipient, &typ, &title, &message, &priority, &channels, &related, &status,
		&n.ScheduledAt, &n.SentAt, &n.DeliveredAt, &n.ReadAt, &tries, &n.IsRead, &n.IsArchived,
		&n.ExpiresAt, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	n.Type = model.NotificationType(typ)
	n.Priority = model.Priority(priority)
	n.Status = model.NotificationStatus(status)
	for _, ch := range channels {
		n.Channels = append(n.Channels, model.Channel(ch))
	}

	if err := json.Unmarshal(title, &n.Title); err != nil {
		return nil, fmt.Errorf("decode title: %w", err)
	}
	if err := json.Unmarshal(message, &n.Message); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if err := json.Unmarshal(related, &n.RelatedData); err != nil {
		return nil, fmt.Errorf("decode related data: %w", err)
	}
	if err := json.Unmarshal(tries, &n.DeliveryAttempts); err != nil {
		return nil, fmt.Errorf("decode delivery attempts: %w", err)
	}

	return &n, nil
}

func collectNotifications(rows pgx.Rows) ([]*model.Notification, error) {
	defer rows.Close()

	var res []*model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		res = append(res, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// InsertNotifications сохраняет пачку уведомлений одной транзакцией: либо все, либо ни одного.
func (r *PostgresRepository) InsertNotifications(ctx context.Context, ns []*model.Notification) error {
	if len(ns) == 0 {
		return nil
	}

	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		batch := &pgx.Batch{}
		for _, n := range ns {
			title, _ := json.Marshal(n.Title)
			message, _ := json.Marshal(n.Message)
			related, _ := json.Marshal(n.RelatedData)
			tries, _ := json.Marshal(attemptsOrEmpty(n.DeliveryAttempts))

			channels := make([]string, 0, len(n.Channels))
			for _, ch := range n.Channels {
				channels = append(channels, string(ch))
			}

			batch.Queue(
				`INSERT INTO notifications (id, recipient, type, title, message, priority, priority_rank, channels,
					related_data, status, scheduled_at, delivery_attempts, expires_at, created_at, updated_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
				n.ID, n.Recipient, string(n.Type), title, message, string(n.Priority), n.Priority.Rank(), channels,
				related, string(n.Status), n.ScheduledAt, tries, n.ExpiresAt, n.CreatedAt, n.UpdatedAt,
			)
		}

		br := tx.SendBatch(ctx, batch)
		for range ns {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("insert notification: %w", err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("close batch: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

func attemptsOrEmpty(a []model.DeliveryAttempt) []model.DeliveryAttempt {
	if a == nil {
		return []model.DeliveryAttempt{}
	}
	return a
}

// GetNotification возвращает уведомление по идентификатору.
func (r *PostgresRepository) GetNotification(ctx context.Context, id string) (*model.Notification, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1`,
		id,
	)

	n, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotificationNotFound
		}
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

// ClaimNotifications захватывает готовые к отправке уведомления, выставляя аренду claimed_until.
// Пока аренда жива, другой экземпляр цикла отправки это уведомление не получит.
func (r *PostgresRepository) ClaimNotifications(ctx context.Context, q ClaimQuery) ([]*model.Notification, error) {
	var res []*model.Notification

	err := r.withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx,
			`UPDATE notifications SET claimed_until = $3, claim_token = $7
			 WHERE id IN (
				SELECT id FROM notifications
				WHERE status IN ($5, $6)
				  AND (scheduled_at IS NULL OR scheduled_at <= $1)
				  AND expires_at > $1
				  AND (claimed_until IS NULL OR claimed_until < $1)
				  AND (last_attempt_at IS NULL OR last_attempt_at <= $2)
				ORDER BY priority_rank DESC, created_at
				LIMIT $4
				FOR UPDATE SKIP LOCKED
			 )
			 RETURNING `+notificationColumns,
			q.Now, q.RetryBefore, q.LeaseUntil, q.Limit,
			string(model.NotificationPending), string(model.NotificationSent), q.Token,
		)
		if err != nil {
			return fmt.Errorf("claim notifications: %w", err)
		}

		res, err = collectNotifications(rows)
		return err
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(res, func(i, j int) bool {
		if res[i].Priority.Rank() != res[j].Priority.Rank() {
			return res[i].Priority.Rank() > res[j].Priority.Rank()
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})

	return res, nil
}

// RenewClaim продлевает аренду уведомления до until, если она всё ещё принадлежит token.
// false означает, что уведомление захвачено другим проходом или удалено.
func (r *PostgresRepository) RenewClaim(ctx context.Context, id, token string, until time.Time) (bool, error) {
	var renewed bool
	err := r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE notifications SET claimed_until = $3 WHERE id = $1 AND claim_token = $2`,
			id, token, until,
		)
		if err != nil {
			return fmt.Errorf("renew claim: %w", err)
		}
		renewed = tag.RowsAffected() == 1
		return nil
	})
	return renewed, err
}

// SaveDispatchResult сохраняет результат прохода отправки и снимает аренду.
// Попытки доставки только дописываются в конец журнала. Статус только растёт: прочитанное
// или недоставленное уведомление своего статуса не теряет, отметка о прочтении не трогается.
// Если аренда уже принадлежит другому проходу, возвращается ErrClaimLost.
func (r *PostgresRepository) SaveDispatchResult(ctx context.Context, n *model.Notification, appended []model.DeliveryAttempt, token string) error {
	tries, err := json.Marshal(attemptsOrEmpty(appended))
	if err != nil {
		return fmt.Errorf("encode attempts: %w", err)
	}

	return r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE notifications
			 SET status = CASE WHEN status IN ($9, $10) THEN status ELSE $2 END,
			     sent_at = COALESCE(sent_at, $3), delivered_at = COALESCE(delivered_at, $4),
			     delivery_attempts = delivery_attempts || $5::jsonb,
			     last_attempt_at = COALESCE($6, last_attempt_at),
			     scheduled_at = $11,
			     claimed_until = NULL, claim_token = NULL, updated_at = $7
			 WHERE id = $1 AND claim_token = $8`,
			n.ID, string(n.Status), n.SentAt, n.DeliveredAt, tries, n.LastAttemptAt(), n.UpdatedAt, token,
			string(model.NotificationRead), string(model.NotificationFailed), n.ScheduledAt,
		)
		if err != nil {
			return fmt.Errorf("save dispatch result: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return r.missingOrLost(ctx, n.ID)
		}
		return nil
	})
}

func (r *PostgresRepository) missingOrLost(ctx context.Context, id string) error {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM notifications WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check notification: %w", err)
	}
	if !exists {
		return ErrNotificationNotFound
	}
	return ErrClaimLost
}

// ReleaseClaim снимает аренду без изменения уведомления. Чужая аренда не снимается.
func (r *PostgresRepository) ReleaseClaim(ctx context.Context, id, token string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE notifications SET claimed_until = NULL, claim_token = NULL WHERE id = $1 AND claim_token = $2`,
		id, token,
	)
	if err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}

// ListNotifications возвращает страницу ленты получателя и общее число записей.
// Архивные и просроченные уведомления в ленту не попадают.
func (r *PostgresRepository) ListNotifications(ctx context.Context, f NotificationFilter, now time.Time) ([]*model.Notification, int, error) {
	f.Normalize()

	where := `recipient = $1 AND is_archived = FALSE AND expires_at > $2`
	if f.UnreadOnly {
		where += ` AND is_read = FALSE AND status <> '` + string(model.NotificationFailed) + `'`
	}

	var total int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM notifications WHERE `+where,
		f.Recipient, now,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE `+where+`
		 ORDER BY created_at DESC
		 LIMIT $3 OFFSET $4`,
		f.Recipient, now, f.PageSize, (f.Page-1)*f.PageSize,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("select notifications: %w", err)
	}

	res, err := collectNotifications(rows)
	if err != nil {
		return nil, 0, err
	}
	return res, total, nil
}

// CountUnread возвращает число непрочитанных уведомлений получателя.
func (r *PostgresRepository) CountUnread(ctx context.Context, recipient string, now time.Time) (int, error) {
	var cnt int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM notifications
		 WHERE recipient = $1 AND is_read = FALSE AND is_archived = FALSE AND expires_at > $2 AND status <> $3`,
		recipient, now, string(model.NotificationFailed),
	).Scan(&cnt)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return cnt, nil
}

// SaveReadState сохраняет отметку о прочтении отправленного или доставленного уведомления.
func (r *PostgresRepository) SaveReadState(ctx context.Context, n *model.Notification) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE notifications SET status = $3, is_read = $4, read_at = $5, updated_at = $6
		 WHERE id = $1 AND recipient = $2 AND status IN ($7, $8)`,
		n.ID, n.Recipient, string(n.Status), n.IsRead, n.ReadAt, n.UpdatedAt,
		string(model.NotificationSent), string(model.NotificationDelivered),
	)
	if err != nil {
		return fmt.Errorf("save read state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Уведомление могло успеть стать прочитанным или недоставленным: тогда сохранять нечего.
		var exists bool
		err := r.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM notifications WHERE id = $1 AND recipient = $2)`,
			n.ID, n.Recipient,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check notification: %w", err)
		}
		if !exists {
			return ErrNotificationNotFound
		}
	}
	return nil
}

// MarkAllRead отмечает прочитанными все отправленные и доставленные уведомления получателя.
func (r *PostgresRepository) MarkAllRead(ctx context.Context, recipient string, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE notifications SET status = $2, is_read = TRUE, read_at = $3, updated_at = $3
		 WHERE recipient = $1 AND is_archived = FALSE AND status IN ($4, $5)`,
		recipient, string(model.NotificationRead), now,
		string(model.NotificationSent), string(model.NotificationDelivered),
	)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ArchiveNotification скрывает уведомление из ленты получателя.
func (r *PostgresRepository) ArchiveNotification(ctx context.Context, id, recipient string, now time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE notifications SET is_archived = TRUE, updated_at = $3 WHERE id = $1 AND recipient = $2`,
		id, recipient, now,
	)
	if err != nil {
		return fmt.Errorf("archive notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// DeleteNotification удаляет уведомление получателя.
func (r *PostgresRepository) DeleteNotification(ctx context.Context, id, recipient string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM notifications WHERE id = $1 AND recipient = $2`,
		id, recipient,
	)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// HasRecentNotification сообщает, создавалось ли такое уведомление начиная с q.Since.
func (r *PostgresRepository) HasRecentNotification(ctx context.Context, q DedupQuery) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM notifications
			WHERE type = $1 AND recipient = $2
			  AND related_data ->> 'productId' = $3
			  AND COALESCE(related_data ->> 'subscriptionId', '') = $4
			  AND created_at >= $5
		)`,
		string(q.Type), q.Recipient, q.ProductID, q.SubscriptionID, q.Since,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check recent notification: %w", err)
	}
	return exists, nil
}
