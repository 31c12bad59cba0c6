package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// seedTestData adds records the reconcile and maturity sweeps pick up: a
// stale pending card deposit, a retired plan and a matured investment.
func seedTestData(ctx context.Context, pool *pgxpool.Pool) error {
	now := time.Now()

	staleDepositID := uuid.MustParse("00000000-0000-0000-0000-000000000301")
	stale := now.Add(-2 * time.Hour)
	_, err := pool.Exec(ctx, `
		INSERT INTO transactions (id, user_id, type, status, method, amount, currency, platform_fee, net_amount, created_at, updated_at)
		VALUES ($1, $2, 'deposit', 'pending', 'credit_card', 100, 'USD', 2.9, 97.1, $3, $3)
		ON CONFLICT (id) DO UPDATE SET status = 'pending', updated_at = $3
	`, staleDepositID, demoUserID, stale)
	if err != nil {
		return err
	}

	_, err = pool.Exec(ctx, `
		INSERT INTO investment_plans (name, annual_rate, min_amount, active, updated_at)
		VALUES ('legacy', 0.05, 50, false, $1)
		ON CONFLICT (name) DO UPDATE SET active = false
	`, now)
	if err != nil {
		return err
	}

	investmentID := uuid.MustParse("00000000-0000-0000-0000-000000000401")
	start := now.AddDate(0, 0, -40)
	end := start.AddDate(0, 0, 30)
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO investments (id, user_id, plan, amount, currency, duration_days, start_date, end_date, status,
			expected_return_rate, expected_profit, net_amount, created_at, updated_at)
		VALUES ($1, $2, 'short', 1000, 'USD', 30, $3, $4, 'active', 0.08, 6.575342, 1000, $3, $3)
		ON CONFLICT (id) DO NOTHING
	`, investmentID, investorUserID, start, end)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE balances SET locked = locked + 1000, updated_at = $2
		WHERE user_id = $1 AND currency = 'USD' AND available - locked >= 1000
	`, investorUserID, now)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}
