package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/marketplace-notifier/internal/model"
)

// ListFavoriteWatches возвращает очередную страницу подписок (по возрастанию id, начиная после afterID),
// у которых включено хотя бы одно оповещение.
func (r *PostgresRepository) ListFavoriteWatches(ctx context.Context, afterID string, limit int) ([]model.FavoriteWatch, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT f.id, f.user_id, f.product_id, p.name, f.price_when_added::text, p.price::text, p.stock,
		        f.price_drop_enabled, f.back_in_stock_enabled, s.out_of_stock_since
		 FROM favorites f
		 JOIN products p ON p.id = f.product_id
		 LEFT JOIN favorite_watch_state s ON s.subscription_id = f.id
		 WHERE f.id > $1 AND (f.price_drop_enabled OR f.back_in_stock_enabled)
		 ORDER BY f.id
		 LIMIT $2`,
		afterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select favorites: %w", err)
	}
	defer rows.Close()

	var res []model.FavoriteWatch
	for rows.Next() {
		var (
			w                 model.FavoriteWatch
			name              []byte
			baseline, current string
		)

		err := rows.Scan(&w.SubscriptionID, &w.UserID, &w.ProductID, &name, &baseline, &current, &w.Stock,
			&w.PriceDropEnabled, &w.BackInStockEnabled, &w.OutOfStockSince)
		if err != nil {
			return nil, fmt.Errorf("scan favorite: %w", err)
		}

		if err := json.Unmarshal(name, &w.ProductName); err != nil {
			return nil, fmt.Errorf("decode product name: %w", err)
		}
		if w.PriceWhenAdded, err = decimal.NewFromString(baseline); err != nil {
			return nil, fmt.Errorf("parse baseline price: %w", err)
		}
		if w.CurrentPrice, err = decimal.NewFromString(current); err != nil {
			return nil, fmt.Errorf("parse current price: %w", err)
		}

		res = append(res, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// MarkOutOfStock запоминает момент, когда товар подписки впервые закончился. Повторный вызов отметку не сдвигает.
func (r *PostgresRepository) MarkOutOfStock(ctx context.Context, subscriptionID string, since time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO favorite_watch_state (subscription_id, out_of_stock_since)
		 VALUES ($1, $2)
		 ON CONFLICT (subscription_id) DO UPDATE
		 SET out_of_stock_since = COALESCE(favorite_watch_state.out_of_stock_since, EXCLUDED.out_of_stock_since)`,
		subscriptionID, since,
	)
	if err != nil {
		return fmt.Errorf("mark out of stock: %w", err)
	}
	return nil
}

// ClearOutOfStock снимает отметку об отсутствии товара.
func (r *PostgresRepository) ClearOutOfStock(ctx context.Context, subscriptionID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE favorite_watch_state SET out_of_stock_since = NULL WHERE subscription_id = $1`,
		subscriptionID,
	)
	if err != nil {
		return fmt.Errorf("clear out of stock: %w", err)
	}
	return nil
}
