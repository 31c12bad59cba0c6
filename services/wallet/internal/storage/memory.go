package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AfshinJalili/goinvest/services/wallet/internal/walleterr"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrBalanceInvariant = errors.New("balance invariant violated")

type balanceKey struct {
	user     uuid.UUID
	currency string
}

// Memory is an in-process store. Balance updates are serialised per
// (user, currency) key; record updates share one mutex.
type Memory struct {
	keyLocks sync.Map

	mu           sync.Mutex
	wallets      map[uuid.UUID]Wallet
	balances     map[balanceKey]Balance
	transactions map[uuid.UUID]Transaction
	investments  map[uuid.UUID]Investment
	plans        map[string]Plan
	now          func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		wallets:      make(map[uuid.UUID]Wallet),
		balances:     make(map[balanceKey]Balance),
		transactions: make(map[uuid.UUID]Transaction),
		investments:  make(map[uuid.UUID]Investment),
		plans:        make(map[string]Plan),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the timestamp source.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Ping(_ context.Context) error { return nil }

func (m *Memory) keyLock(key balanceKey) *sync.Mutex {
	lock, _ := m.keyLocks.LoadOrStore(key, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

func (m *Memory) GetOrCreateWallet(_ context.Context, userID uuid.UUID) (Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[userID]
	if !ok {
		w = Wallet{ID: uuid.New(), UserID: userID, CreatedAt: m.now()}
		m.wallets[userID] = w
	}
	w.Balances = m.balancesLocked(userID)
	return w, nil
}

func (m *Memory) GetBalance(_ context.Context, userID uuid.UUID, currency string) (Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanceLocked(balanceKey{userID, currency}), nil
}

func (m *Memory) ListBalances(_ context.Context, userID uuid.UUID) ([]Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balancesLocked(userID), nil
}

func (m *Memory) UpdateBalance(_ context.Context, userID uuid.UUID, currency string, fn func(*Balance) error) (Balance, error) {
	key := balanceKey{userID, currency}
	lock := m.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	bal := m.balanceLocked(key)
	m.mu.Unlock()

	if err := fn(&bal); err != nil {
		return Balance{}, err
	}
	if !bal.Valid() {
		return Balance{}, ErrBalanceInvariant
	}
	bal.UpdatedAt = m.now()

	m.mu.Lock()
	if _, ok := m.wallets[userID]; !ok {
		m.wallets[userID] = Wallet{ID: uuid.New(), UserID: userID, CreatedAt: bal.UpdatedAt}
	}
	m.balances[key] = bal
	m.mu.Unlock()
	return bal, nil
}

func (m *Memory) balanceLocked(key balanceKey) Balance {
	if bal, ok := m.balances[key]; ok {
		return bal
	}
	return Balance{UserID: key.user, Currency: key.currency, Available: decimal.Zero, Locked: decimal.Zero}
}

func (m *Memory) balancesLocked(userID uuid.UUID) []Balance {
	out := make([]Balance, 0)
	for key, bal := range m.balances {
		if key.user == userID {
			out = append(out, bal)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out
}

func (m *Memory) CreateTransaction(_ context.Context, tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	if _, ok := m.transactions[tx.ID]; ok {
		return fmt.Errorf("transaction %s already exists", tx.ID)
	}
	if err := m.checkHashLocked(tx.ID, tx.TxHash); err != nil {
		return err
	}
	now := m.now()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now
	m.transactions[tx.ID] = copyTransaction(*tx)
	return nil
}

func (m *Memory) GetTransaction(_ context.Context, id uuid.UUID) (Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[id]
	if !ok {
		return Transaction{}, fmt.Errorf("transaction %s: %w", id, walleterr.ErrNotFound)
	}
	return copyTransaction(tx), nil
}

func (m *Memory) GetTransactionByExternalRef(_ context.Context, ref string) (Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ref != "" {
		for _, tx := range m.transactions {
			if tx.ExternalRef == ref {
				return copyTransaction(tx), nil
			}
		}
	}
	return Transaction{}, fmt.Errorf("transaction ref %q: %w", ref, walleterr.ErrNotFound)
}

func (m *Memory) UpdateTransaction(_ context.Context, id uuid.UUID, fn func(*Transaction) error) (Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.transactions[id]
	if !ok {
		return Transaction{}, fmt.Errorf("transaction %s: %w", id, walleterr.ErrNotFound)
	}
	next := copyTransaction(current)
	if err := fn(&next); err != nil {
		return Transaction{}, err
	}
	if err := m.checkHashLocked(id, next.TxHash); err != nil {
		return Transaction{}, err
	}
	next.ID = id
	next.UpdatedAt = m.now()
	m.transactions[id] = next
	return copyTransaction(next), nil
}

func (m *Memory) checkHashLocked(id uuid.UUID, hash string) error {
	if hash == "" {
		return nil
	}
	for otherID, other := range m.transactions {
		if otherID != id && other.TxHash == hash {
			return fmt.Errorf("tx hash %s: %w", hash, walleterr.ErrDuplicateTxHash)
		}
	}
	return nil
}

func (m *Memory) ListTransactions(_ context.Context, filter TransactionFilter) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transaction, 0)
	for _, tx := range m.transactions {
		if filter.UserID != uuid.Nil && tx.UserID != filter.UserID {
			continue
		}
		if filter.Type != "" && tx.Type != filter.Type {
			continue
		}
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		if filter.Currency != "" && tx.Currency != filter.Currency {
			continue
		}
		if !filter.Before.IsZero() && !tx.CreatedAt.Before(filter.Before) {
			continue
		}
		out = append(out, copyTransaction(tx))
	}
	sortTransactions(out)
	if limit := filter.limit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListStaleTransactions(_ context.Context, statuses []TransactionStatus, before time.Time, limit int) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[TransactionStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	out := make([]Transaction, 0)
	for _, tx := range m.transactions {
		if want[tx.Status] && tx.UpdatedAt.Before(before) {
			out = append(out, copyTransaction(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CreateInvestment(_ context.Context, inv *Investment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	if _, ok := m.investments[inv.ID]; ok {
		return fmt.Errorf("investment %s already exists", inv.ID)
	}
	now := m.now()
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	inv.UpdatedAt = now
	m.investments[inv.ID] = copyInvestment(*inv)
	return nil
}

func (m *Memory) GetInvestment(_ context.Context, id uuid.UUID) (Investment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.investments[id]
	if !ok {
		return Investment{}, fmt.Errorf("investment %s: %w", id, walleterr.ErrNotFound)
	}
	return copyInvestment(inv), nil
}

func (m *Memory) UpdateInvestment(_ context.Context, id uuid.UUID, fn func(*Investment) error) (Investment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.investments[id]
	if !ok {
		return Investment{}, fmt.Errorf("investment %s: %w", id, walleterr.ErrNotFound)
	}
	next := copyInvestment(current)
	if err := fn(&next); err != nil {
		return Investment{}, err
	}
	next.ID = id
	next.UpdatedAt = m.now()
	m.investments[id] = next
	return copyInvestment(next), nil
}

func (m *Memory) ListInvestments(_ context.Context, userID uuid.UUID, status InvestmentStatus) ([]Investment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Investment, 0)
	for _, inv := range m.investments {
		if inv.UserID != userID {
			continue
		}
		if status != "" && inv.Status != status {
			continue
		}
		out = append(out, copyInvestment(inv))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListMaturable(_ context.Context, now time.Time, limit int) ([]Investment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Investment, 0)
	for _, inv := range m.investments {
		if inv.Status == InvestmentActive && !now.Before(inv.EndDate) {
			out = append(out, copyInvestment(inv))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndDate.Before(out[j].EndDate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListPlans(_ context.Context) ([]Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Plan, 0, len(m.plans))
	for _, p := range m.plans {
		if p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) UpsertPlan(_ context.Context, plan Plan) error {
	if plan.Name == "" {
		return fmt.Errorf("plan name is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	plan.UpdatedAt = m.now()
	m.plans[plan.Name] = plan
	return nil
}

func sortTransactions(txs []Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].ID.String() > txs[j].ID.String()
		}
		return txs[i].CreatedAt.After(txs[j].CreatedAt)
	})
}

func copyTransaction(tx Transaction) Transaction {
	if tx.Metadata != nil {
		meta := make(map[string]string, len(tx.Metadata))
		for k, v := range tx.Metadata {
			meta[k] = v
		}
		tx.Metadata = meta
	}
	return tx
}

func copyInvestment(inv Investment) Investment {
	if inv.TransactionIDs != nil {
		inv.TransactionIDs = append([]uuid.UUID(nil), inv.TransactionIDs...)
	}
	return inv
}
