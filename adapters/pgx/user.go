package pgx

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lborres/kapitbahay/core"
)

func (a *Adapter) CreateUser(ctx context.Context, user *core.Identity) error {
	query := `INSERT INTO public.users (email, email_verified, name, is_admin) VALUES ($1, $2, $3, $4) RETURNING id, created_at, updated_at`
	var id string
	var createdAt, updatedAt time.Time

	err := a.pool.QueryRow(ctx, query, user.Email, user.EmailVerified, user.Name, user.IsAdmin).Scan(&id, &createdAt, &updatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return core.ErrUserExists
		}
		return err
	}

	user.ID = id
	user.CreatedAt = createdAt
	user.UpdatedAt = updatedAt
	return nil
}

const selectUser = `SELECT id, email, email_verified, name, is_admin, created_at, updated_at FROM public.users`

func scanUser(row pgx.Row) (*core.Identity, error) {
	user := &core.Identity{}
	err := row.Scan(&user.ID, &user.Email, &user.EmailVerified, &user.Name, &user.IsAdmin, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (a *Adapter) GetUserByID(ctx context.Context, id string) (*core.Identity, error) {
	return scanUser(a.pool.QueryRow(ctx, selectUser+` WHERE id = $1`, id))
}

func (a *Adapter) GetUserByEmail(ctx context.Context, email string) (*core.Identity, error) {
	return scanUser(a.pool.QueryRow(ctx, selectUser+` WHERE email = $1`, email))
}

func (a *Adapter) UpdateUser(ctx context.Context, user *core.Identity) error {
	q := `UPDATE public.users SET email = $1, email_verified = $2, name = $3, is_admin = $4, updated_at = now() WHERE id = $5 RETURNING updated_at`
	var updatedAt time.Time
	err := a.pool.QueryRow(ctx, q, user.Email, user.EmailVerified, user.Name, user.IsAdmin, user.ID).Scan(&updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.ErrUserNotFound
		}
		return err
	}
	user.UpdatedAt = updatedAt
	return nil
}

func (a *Adapter) DeleteUser(ctx context.Context, id string) error {
	_, err := a.pool.Exec(ctx, `DELETE FROM public.users WHERE id = $1`, id)
	return err
}
