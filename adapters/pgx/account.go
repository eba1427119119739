package pgx

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lborres/kapitbahay/core"
)

func (a *Adapter) CreateAccount(ctx context.Context, acc *core.Account) error {
	query := `INSERT INTO public.accounts (user_id, provider_id, account_id, password)
	          VALUES ($1, $2, $3, $4)
	          RETURNING id, created_at, updated_at`

	var id string
	var createdAt, updatedAt time.Time
	err := a.pool.QueryRow(ctx, query,
		acc.UserID, acc.ProviderID, acc.AccountID, acc.Password,
	).Scan(&id, &createdAt, &updatedAt)

	if err != nil {
		return err
	}

	acc.ID = id
	acc.CreatedAt = createdAt
	acc.UpdatedAt = updatedAt
	return nil
}

const selectAccount = `SELECT id, user_id, provider_id, account_id, password, created_at, updated_at FROM public.accounts`

func scanAccount(row pgx.Row) (*core.Account, error) {
	acc := &core.Account{}
	err := row.Scan(&acc.ID, &acc.UserID, &acc.ProviderID, &acc.AccountID, &acc.Password, &acc.CreatedAt, &acc.UpdatedAt)
	return acc, err
}

func (a *Adapter) GetAccountByID(ctx context.Context, id string) (*core.Account, error) {
	acc, err := scanAccount(a.pool.QueryRow(ctx, selectAccount+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrUserNotFound
		}
		return nil, err
	}
	return acc, nil
}

func (a *Adapter) GetAccountByUserAndProvider(ctx context.Context, userID, providerID string) ([]*core.Account, error) {
	rows, err := a.pool.Query(ctx, selectAccount+` WHERE user_id = $1 AND provider_id = $2`, userID, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*core.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return accounts, nil
}

func (a *Adapter) UpdateAccount(ctx context.Context, acc *core.Account) error {
	query := `UPDATE public.accounts SET account_id = $1, password = $2, updated_at = now()
	          WHERE id = $3 RETURNING updated_at`

	var updatedAt time.Time
	err := a.pool.QueryRow(ctx, query, acc.AccountID, acc.Password, acc.ID).Scan(&updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.ErrUserNotFound
		}
		return err
	}

	acc.UpdatedAt = updatedAt
	return nil
}

func (a *Adapter) DeleteAccount(ctx context.Context, id string) error {
	_, err := a.pool.Exec(ctx, `DELETE FROM public.accounts WHERE id = $1`, id)
	return err
}
