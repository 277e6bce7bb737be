package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/marketplace-notifier/internal/model"
)

const orderColumns = `id, order_number, customer_id, seller_id, status, payment_status, total_amount::text, currency`

const paymentColumns = `id, order_id, user_id, amount::text, currency, method, status, external_ids, transaction_info,
	refund, created_at, processing_at, completed_at, failed_at, cancelled_at, refunded_at, updated_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o                     model.Order
		status, paymentStatus string
		total                 string
	)

	if err := row.Scan(&o.ID, &o.OrderNumber, &o.CustomerID, &o.SellerID, &status, &paymentStatus, &total, &o.Currency); err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("parse total amount: %w", err)
	}

	o.Status = model.OrderStatus(status)
	o.PaymentStatus = model.OrderPaymentStatus(paymentStatus)
	o.TotalAmount = amount
	return &o, nil
}

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var (
		p                  model.Payment
		amount             string
		method, status     string
		extIDs, info, refd []byte
	)

	err := row.Scan(
		&p.ID, &p.OrderID, &p.UserID, &amount, &p.Currency, &method, &status, &extIDs, &info,
		&refd, &p.CreatedAt, &p.ProcessingAt, &p.CompletedAt, &p.FailedAt, &p.CancelledAt, &p.RefundedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	p.Method = model.PaymentMethod(method)
	p.Status = model.PaymentStatus(status)

	if err := json.Unmarshal(extIDs, &p.ExternalIDs); err != nil {
		return nil, fmt.Errorf("decode external ids: %w", err)
	}
	if err := json.Unmarshal(info, &p.TransactionInfo); err != nil {
		return nil, fmt.Errorf("decode transaction info: %w", err)
	}
	if len(refd) > 0 && string(refd) != "null" {
		p.Refund = &model.Refund{}
		if err := json.Unmarshal(refd, p.Refund); err != nil {
			return nil, fmt.Errorf("decode refund: %w", err)
		}
	}

	return &p, nil
}

// GetOrder возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// UpdatePaymentWithOrder блокирует платёж и его заказ (SELECT ... FOR UPDATE), передаёт их в fn
// и сохраняет оба документа в той же транзакции. Ошибка fn откатывает транзакцию и возвращается как есть.
// Конкурентные вызовы для одного платежа выполняются строго последовательно.
func (r *PostgresRepository) UpdatePaymentWithOrder(ctx context.Context, paymentID string, fn func(*model.Payment, *model.Order) error) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		p, err := scanPayment(tx.QueryRow(ctx,
			`SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`,
			paymentID,
		))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrPaymentNotFound
			}
			return fmt.Errorf("lock payment: %w", err)
		}

		o, err := scanOrder(tx.QueryRow(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`,
			p.OrderID,
		))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}

		if err := fn(p, o); err != nil {
			return err
		}

		extIDs, _ := json.Marshal(p.ExternalIDs)
		info, _ := json.Marshal(p.TransactionInfo)
		var refund []byte
		if p.Refund != nil {
			refund, _ = json.Marshal(p.Refund)
		}

		_, err = tx.Exec(ctx,
			`UPDATE payments
			 SET status = $2, external_ids = $3, transaction_info = $4, refund = $5,
			     processing_at = $6, completed_at = $7, failed_at = $8, cancelled_at = $9, refunded_at = $10,
			     updated_at = $11
			 WHERE id = $1`,
			p.ID, string(p.Status), extIDs, info, refund,
			p.ProcessingAt, p.CompletedAt, p.FailedAt, p.CancelledAt, p.RefundedAt, p.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update payment: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE orders SET status = $2, payment_status = $3, updated_at = $4 WHERE id = $1`,
			o.ID, string(o.Status), string(o.PaymentStatus), p.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}
