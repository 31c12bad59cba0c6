package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AfshinJalili/goinvest/services/wallet/internal/walleterr"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schemaSQL string

const txHashIndex = "transactions_tx_hash_key"

type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPostgres(pool *pgxpool.Pool, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{pool: pool, logger: logger}
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Postgres) GetOrCreateWallet(ctx context.Context, userID uuid.UUID) (Wallet, error) {
	now := time.Now().UTC()
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO wallets (id, user_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING
	`, uuid.New(), userID, now); err != nil {
		return Wallet{}, err
	}

	var w Wallet
	if err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, created_at FROM wallets WHERE user_id = $1
	`, userID).Scan(&w.ID, &w.UserID, &w.CreatedAt); err != nil {
		return Wallet{}, err
	}
	balances, err := s.ListBalances(ctx, userID)
	if err != nil {
		return Wallet{}, err
	}
	w.Balances = balances
	return w, nil
}

func (s *Postgres) GetBalance(ctx context.Context, userID uuid.UUID, currency string) (Balance, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, currency, available::text, locked::text, updated_at
		FROM balances
		WHERE user_id = $1 AND currency = $2
	`, userID, currency)
	bal, err := scanBalance(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{UserID: userID, Currency: currency, Available: decimal.Zero, Locked: decimal.Zero}, nil
		}
		return Balance{}, err
	}
	return bal, nil
}

func (s *Postgres) ListBalances(ctx context.Context, userID uuid.UUID) ([]Balance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, currency, available::text, locked::text, updated_at
		FROM balances
		WHERE user_id = $1
		ORDER BY currency
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Balance, 0)
	for rows.Next() {
		bal, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, bal)
	}
	return out, rows.Err()
}

// UpdateBalance runs fn against the row locked with SELECT ... FOR UPDATE so
// concurrent mutations of one (user, currency) key are serialised.
func (s *Postgres) UpdateBalance(ctx context.Context, userID uuid.UUID, currency string, fn func(*Balance) error) (Balance, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Balance{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		INSERT INTO wallets (id, user_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING
	`, uuid.New(), userID, now); err != nil {
		return Balance{}, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO balances (user_id, currency, available, locked, updated_at)
		VALUES ($1, $2, 0, 0, $3)
		ON CONFLICT (user_id, currency) DO NOTHING
	`, userID, currency, now); err != nil {
		return Balance{}, err
	}

	bal, err := scanBalance(tx.QueryRow(ctx, `
		SELECT user_id, currency, available::text, locked::text, updated_at
		FROM balances
		WHERE user_id = $1 AND currency = $2
		FOR UPDATE
	`, userID, currency))
	if err != nil {
		return Balance{}, err
	}

	if err := fn(&bal); err != nil {
		return Balance{}, err
	}
	if !bal.Valid() {
		return Balance{}, ErrBalanceInvariant
	}
	bal.UpdatedAt = now

	if _, err := tx.Exec(ctx, `
		UPDATE balances
		SET available = $1, locked = $2, updated_at = $3
		WHERE user_id = $4 AND currency = $5
	`, bal.Available.String(), bal.Locked.String(), now, userID, currency); err != nil {
		return Balance{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Balance{}, err
	}
	committed = true
	return bal, nil
}

const transactionColumns = `
	id, user_id, type, status, method, amount::text, currency, network_fee::text, platform_fee::text,
	net_amount::text, to_address, from_address, tx_hash, external_ref, investment_id, failure_reason,
	confirmations, metadata, created_at, updated_at, completed_at, cancelled_at`

func (s *Postgres) CreateTransaction(ctx context.Context, t *Transaction) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	meta, err := encodeMetadata(t.Metadata)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO transactions (
			id, user_id, type, status, method, amount, currency, network_fee, platform_fee, net_amount,
			to_address, from_address, tx_hash, external_ref, investment_id, failure_reason, confirmations,
			metadata, created_at, updated_at, completed_at, cancelled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`, t.ID, t.UserID, string(t.Type), string(t.Status), string(t.Method), t.Amount.String(), t.Currency,
		t.NetworkFee.String(), t.PlatformFee.String(), t.NetAmount.String(), t.ToAddress, t.FromAddress,
		t.TxHash, t.ExternalRef, nullableUUID(t.InvestmentID), t.FailureReason, t.Confirmations, meta,
		t.CreatedAt, t.UpdatedAt, t.CompletedAt, t.CancelledAt)
	return mapWriteError(err, t.TxHash)
}

func (s *Postgres) GetTransaction(ctx context.Context, id uuid.UUID) (Transaction, error) {
	t, err := scanTransaction(s.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, fmt.Errorf("transaction %s: %w", id, walleterr.ErrNotFound)
	}
	return t, err
}

func (s *Postgres) GetTransactionByExternalRef(ctx context.Context, ref string) (Transaction, error) {
	t, err := scanTransaction(s.pool.QueryRow(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE external_ref = $1 AND external_ref <> ''
		ORDER BY created_at DESC
		LIMIT 1
	`, ref))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, fmt.Errorf("transaction ref %q: %w", ref, walleterr.ErrNotFound)
	}
	return t, err
}

func (s *Postgres) UpdateTransaction(ctx context.Context, id uuid.UUID, fn func(*Transaction) error) (Transaction, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Transaction{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	t, err := scanTransaction(tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, fmt.Errorf("transaction %s: %w", id, walleterr.ErrNotFound)
		}
		return Transaction{}, err
	}
	if err := fn(&t); err != nil {
		return Transaction{}, err
	}
	t.ID = id
	t.UpdatedAt = time.Now().UTC()

	meta, err := encodeMetadata(t.Metadata)
	if err != nil {
		return Transaction{}, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE transactions
		SET status = $1, method = $2, amount = $3, network_fee = $4, platform_fee = $5, net_amount = $6,
			to_address = $7, from_address = $8, tx_hash = $9, external_ref = $10, investment_id = $11,
			failure_reason = $12, confirmations = $13, metadata = $14, updated_at = $15,
			completed_at = $16, cancelled_at = $17
		WHERE id = $18
	`, string(t.Status), string(t.Method), t.Amount.String(), t.NetworkFee.String(), t.PlatformFee.String(),
		t.NetAmount.String(), t.ToAddress, t.FromAddress, t.TxHash, t.ExternalRef, nullableUUID(t.InvestmentID),
		t.FailureReason, t.Confirmations, meta, t.UpdatedAt, t.CompletedAt, t.CancelledAt, id)
	if err != nil {
		return Transaction{}, mapWriteError(err, t.TxHash)
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, err
	}
	committed = true
	return t, nil
}

func (s *Postgres) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	conds := make([]string, 0, 5)
	args := make([]any, 0, 6)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.UserID != uuid.Nil {
		add("user_id = $%d", filter.UserID)
	}
	if filter.Type != "" {
		add("type = $%d", string(filter.Type))
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.Currency != "" {
		add("currency = $%d", filter.Currency)
	}
	if !filter.Before.IsZero() {
		add("created_at < $%d", filter.Before)
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	args = append(args, filter.limit())
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	return s.queryTransactions(ctx, query, args...)
}

func (s *Postgres) ListStaleTransactions(ctx context.Context, statuses []TransactionStatus, before time.Time, limit int) ([]Transaction, error) {
	names := make([]string, 0, len(statuses))
	for _, st := range statuses {
		names = append(names, string(st))
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.queryTransactions(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE status = ANY($1) AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3
	`, names, before, limit)
}

func (s *Postgres) queryTransactions(ctx context.Context, query string, args ...any) ([]Transaction, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const investmentColumns = `
	id, user_id, plan, amount::text, currency, duration_days, start_date, end_date, status,
	expected_return_rate::text, expected_profit::text, actual_profit::text, management_fee_amount::text,
	performance_fee_amount::text, total_fees::text, net_amount::text, is_compounding,
	compounding_frequency, transaction_ids, cancellation_reason, cancelled_at, completed_at,
	created_at, updated_at`

func (s *Postgres) CreateInvestment(ctx context.Context, inv *Investment) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	now := time.Now().UTC()
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	inv.UpdatedAt = now

	_, err := s.pool.Exec(ctx, `
		INSERT INTO investments (
			id, user_id, plan, amount, currency, duration_days, start_date, end_date, status,
			expected_return_rate, expected_profit, actual_profit, management_fee_amount,
			performance_fee_amount, total_fees, net_amount, is_compounding, compounding_frequency,
			transaction_ids, cancellation_reason, cancelled_at, completed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
	`, inv.ID, inv.UserID, inv.Plan, inv.Amount.String(), inv.Currency, inv.DurationDays, inv.StartDate,
		inv.EndDate, string(inv.Status), inv.ExpectedReturnRate.String(), inv.ExpectedProfit.String(),
		inv.ActualProfit.String(), inv.ManagementFeeAmount.String(), inv.PerformanceFeeAmount.String(),
		inv.TotalFees.String(), inv.NetAmount.String(), inv.IsCompounding, inv.CompoundingFrequency,
		uuidStrings(inv.TransactionIDs), inv.CancellationReason, inv.CancelledAt, inv.CompletedAt,
		inv.CreatedAt, inv.UpdatedAt)
	return err
}

func (s *Postgres) GetInvestment(ctx context.Context, id uuid.UUID) (Investment, error) {
	inv, err := scanInvestment(s.pool.QueryRow(ctx, `SELECT `+investmentColumns+` FROM investments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Investment{}, fmt.Errorf("investment %s: %w", id, walleterr.ErrNotFound)
	}
	return inv, err
}

func (s *Postgres) UpdateInvestment(ctx context.Context, id uuid.UUID, fn func(*Investment) error) (Investment, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Investment{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	inv, err := scanInvestment(tx.QueryRow(ctx, `SELECT `+investmentColumns+` FROM investments WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Investment{}, fmt.Errorf("investment %s: %w", id, walleterr.ErrNotFound)
		}
		return Investment{}, err
	}
	if err := fn(&inv); err != nil {
		return Investment{}, err
	}
	inv.ID = id
	inv.UpdatedAt = time.Now().UTC()

	if _, err := tx.Exec(ctx, `
		UPDATE investments
		SET status = $1, expected_return_rate = $2, expected_profit = $3, actual_profit = $4,
			management_fee_amount = $5, performance_fee_amount = $6, total_fees = $7, net_amount = $8,
			transaction_ids = $9, cancellation_reason = $10, cancelled_at = $11, completed_at = $12,
			updated_at = $13
		WHERE id = $14
	`, string(inv.Status), inv.ExpectedReturnRate.String(), inv.ExpectedProfit.String(),
		inv.ActualProfit.String(), inv.ManagementFeeAmount.String(), inv.PerformanceFeeAmount.String(),
		inv.TotalFees.String(), inv.NetAmount.String(), uuidStrings(inv.TransactionIDs),
		inv.CancellationReason, inv.CancelledAt, inv.CompletedAt, inv.UpdatedAt, id); err != nil {
		return Investment{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Investment{}, err
	}
	committed = true
	return inv, nil
}

func (s *Postgres) ListInvestments(ctx context.Context, userID uuid.UUID, status InvestmentStatus) ([]Investment, error) {
	query := `SELECT ` + investmentColumns + ` FROM investments WHERE user_id = $1`
	args := []any{userID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`
	return s.queryInvestments(ctx, query, args...)
}

func (s *Postgres) ListMaturable(ctx context.Context, now time.Time, limit int) ([]Investment, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.queryInvestments(ctx, `
		SELECT `+investmentColumns+` FROM investments
		WHERE status = 'active' AND end_date <= $1
		ORDER BY end_date
		LIMIT $2
	`, now, limit)
}

func (s *Postgres) queryInvestments(ctx context.Context, query string, args ...any) ([]Investment, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Investment, 0)
	for rows.Next() {
		inv, err := scanInvestment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (s *Postgres) ListPlans(ctx context.Context) ([]Plan, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, annual_rate::text, min_amount::text, management_fee_rate::text,
			performance_fee_rate::text, active, updated_at
		FROM investment_plans
		WHERE active = true
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Plan, 0)
	for rows.Next() {
		var p Plan
		var rate, minAmount, mgmt, perf string
		if err := rows.Scan(&p.Name, &rate, &minAmount, &mgmt, &perf, &p.Active, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if err := parseDecimals(
			decimalField{"annual_rate", rate, &p.AnnualRate},
			decimalField{"min_amount", minAmount, &p.MinAmount},
			decimalField{"management_fee_rate", mgmt, &p.ManagementFeeRate},
			decimalField{"performance_fee_rate", perf, &p.PerformanceFeeRate},
		); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Postgres) UpsertPlan(ctx context.Context, p Plan) error {
	if p.Name == "" {
		return fmt.Errorf("plan name is required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO investment_plans (name, annual_rate, min_amount, management_fee_rate, performance_fee_rate, active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name) DO UPDATE
		SET annual_rate = EXCLUDED.annual_rate,
			min_amount = EXCLUDED.min_amount,
			management_fee_rate = EXCLUDED.management_fee_rate,
			performance_fee_rate = EXCLUDED.performance_fee_rate,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`, p.Name, p.AnnualRate.String(), p.MinAmount.String(), p.ManagementFeeRate.String(),
		p.PerformanceFeeRate.String(), p.Active, time.Now().UTC())
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBalance(row scanner) (Balance, error) {
	var bal Balance
	var available, locked string
	if err := row.Scan(&bal.UserID, &bal.Currency, &available, &locked, &bal.UpdatedAt); err != nil {
		return Balance{}, err
	}
	if err := parseDecimals(
		decimalField{"available", available, &bal.Available},
		decimalField{"locked", locked, &bal.Locked},
	); err != nil {
		return Balance{}, err
	}
	return bal, nil
}

func scanTransaction(row scanner) (Transaction, error) {
	var t Transaction
	var txType, status, method string
	var amount, networkFee, platformFee, netAmount string
	var investmentID pgtype.UUID
	var meta []byte
	if err := row.Scan(
		&t.ID, &t.UserID, &txType, &status, &method, &amount, &t.Currency, &networkFee, &platformFee,
		&netAmount, &t.ToAddress, &t.FromAddress, &t.TxHash, &t.ExternalRef, &investmentID,
		&t.FailureReason, &t.Confirmations, &meta, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt, &t.CancelledAt,
	); err != nil {
		return Transaction{}, err
	}
	t.Type = TransactionType(txType)
	t.Status = TransactionStatus(status)
	t.Method = Method(method)
	if investmentID.Valid {
		t.InvestmentID = uuid.UUID(investmentID.Bytes)
	}
	if err := parseDecimals(
		decimalField{"amount", amount, &t.Amount},
		decimalField{"network_fee", networkFee, &t.NetworkFee},
		decimalField{"platform_fee", platformFee, &t.PlatformFee},
		decimalField{"net_amount", netAmount, &t.NetAmount},
	); err != nil {
		return Transaction{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &t.Metadata); err != nil {
			return Transaction{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return t, nil
}

func scanInvestment(row scanner) (Investment, error) {
	var inv Investment
	var status string
	var amount, rate, expected, actual, mgmt, perf, total, net string
	var txIDs []string
	if err := row.Scan(
		&inv.ID, &inv.UserID, &inv.Plan, &amount, &inv.Currency, &inv.DurationDays, &inv.StartDate,
		&inv.EndDate, &status, &rate, &expected, &actual, &mgmt, &perf, &total, &net, &inv.IsCompounding,
		&inv.CompoundingFrequency, &txIDs, &inv.CancellationReason, &inv.CancelledAt, &inv.CompletedAt,
		&inv.CreatedAt, &inv.UpdatedAt,
	); err != nil {
		return Investment{}, err
	}
	inv.Status = InvestmentStatus(status)
	if err := parseDecimals(
		decimalField{"amount", amount, &inv.Amount},
		decimalField{"expected_return_rate", rate, &inv.ExpectedReturnRate},
		decimalField{"expected_profit", expected, &inv.ExpectedProfit},
		decimalField{"actual_profit", actual, &inv.ActualProfit},
		decimalField{"management_fee_amount", mgmt, &inv.ManagementFeeAmount},
		decimalField{"performance_fee_amount", perf, &inv.PerformanceFeeAmount},
		decimalField{"total_fees", total, &inv.TotalFees},
		decimalField{"net_amount", net, &inv.NetAmount},
	); err != nil {
		return Investment{}, err
	}
	for _, raw := range txIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return Investment{}, fmt.Errorf("parse transaction id: %w", err)
		}
		inv.TransactionIDs = append(inv.TransactionIDs, id)
	}
	return inv, nil
}

type decimalField struct {
	name string
	raw  string
	dst  *decimal.Decimal
}

func parseDecimals(fields ...decimalField) error {
	for _, f := range fields {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", f.name, err)
		}
		*f.dst = v
	}
	return nil
}

func encodeMetadata(meta map[string]string) ([]byte, error) {
	if meta == nil {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return raw, nil
}

func nullableUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: id != uuid.Nil}
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func mapWriteError(err error, hash string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == txHashIndex {
		return fmt.Errorf("tx hash %s: %w", hash, walleterr.ErrDuplicateTxHash)
	}
	return err
}
