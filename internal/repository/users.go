package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/marketplace-notifier/internal/model"
)

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		u            model.User
		role, locale string
	)
	if err := row.Scan(&u.ID, &u.Name, &role, &u.IsActive, &locale); err != nil {
		return nil, err
	}
	u.Role = model.Role(role)
	u.Locale = model.Locale(locale)
	return &u, nil
}

// GetUser возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUser(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx,
		`SELECT id, name, role, is_active, locale FROM users WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// ListActiveAdmins возвращает всех активных администраторов.
func (r *PostgresRepository) ListActiveAdmins(ctx context.Context) ([]*model.User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, role, is_active, locale FROM users
		 WHERE role = $1 AND is_active
		 ORDER BY id`,
		string(model.RoleAdmin),
	)
	if err != nil {
		return nil, fmt.Errorf("select admins: %w", err)
	}
	defer rows.Close()

	var res []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan admin: %w", err)
		}
		res = append(res, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
