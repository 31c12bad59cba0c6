package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TxDeposit    TransactionType = "deposit"
	TxWithdrawal TransactionType = "withdrawal"
	TxInvestment TransactionType = "investment"
	TxTransfer   TransactionType = "transfer"
	TxProfit     TransactionType = "profit"
	TxDividend   TransactionType = "dividend"
	TxFee        TransactionType = "fee"
	TxInterest   TransactionType = "interest"
	TxRefund     TransactionType = "refund"
)

type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusProcessing TransactionStatus = "processing"
	StatusCompleted  TransactionStatus = "completed"
	StatusFailed     TransactionStatus = "failed"
	StatusCancelled  TransactionStatus = "cancelled"
	StatusRejected   TransactionStatus = "rejected"
)

type Method string

const (
	MethodCreditCard   Method = "credit_card"
	MethodBankTransfer Method = "bank_transfer"
	MethodCrypto       Method = "crypto"
	MethodInternal     Method = "internal"
)

type InvestmentStatus string

const (
	InvestmentPending    InvestmentStatus = "pending"
	InvestmentActive     InvestmentStatus = "active"
	InvestmentCompleted  InvestmentStatus = "completed"
	InvestmentCancelled  InvestmentStatus = "cancelled"
	InvestmentLiquidated InvestmentStatus = "liquidated"
	InvestmentSuspended  InvestmentStatus = "suspended"
)

type Wallet struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	CreatedAt time.Time
	Balances  []Balance
}

// Balance is gross-available with Locked as its reserved subset.
type Balance struct {
	UserID    uuid.UUID
	Currency  string
	Available decimal.Decimal
	Locked    decimal.Decimal
	UpdatedAt time.Time
}

// Spendable is Available minus Locked, floored at zero.
func (b Balance) Spendable() decimal.Decimal {
	s := b.Available.Sub(b.Locked)
	if s.IsNegative() {
		return decimal.Zero
	}
	return s
}

func (b Balance) Valid() bool {
	return !b.Locked.IsNegative() && b.Available.GreaterThanOrEqual(b.Locked)
}

type Transaction struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	Type          TransactionType
	Status        TransactionStatus
	Method        Method
	Amount        decimal.Decimal
	Currency      string
	NetworkFee    decimal.Decimal
	PlatformFee   decimal.Decimal
	NetAmount     decimal.Decimal
	ToAddress     string
	FromAddress   string
	TxHash        string
	ExternalRef   string
	InvestmentID  uuid.UUID
	FailureReason string
	Confirmations int
	Metadata      map[string]string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
	CancelledAt   *time.Time
}

// RecomputeNetAmount must run after any change to Amount or the fee fields.
func (t *Transaction) RecomputeNetAmount() {
	t.NetAmount = t.Amount.Sub(t.NetworkFee).Sub(t.PlatformFee)
}

func (t Transaction) TotalFee() decimal.Decimal {
	return t.NetworkFee.Add(t.PlatformFee)
}

type Investment struct {
	ID                   uuid.UUID
	UserID               uuid.UUID
	Plan                 string
	Amount               decimal.Decimal
	Currency             string
	DurationDays         int
	StartDate            time.Time
	EndDate              time.Time
	Status               InvestmentStatus
	ExpectedReturnRate   decimal.Decimal
	ExpectedProfit       decimal.Decimal
	ActualProfit         decimal.Decimal
	ManagementFeeAmount  decimal.Decimal
	PerformanceFeeAmount decimal.Decimal
	TotalFees            decimal.Decimal
	NetAmount            decimal.Decimal
	IsCompounding        bool
	CompoundingFrequency string
	TransactionIDs       []uuid.UUID
	CancellationReason   string
	CancelledAt          *time.Time
	CompletedAt          *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Recompute derives TotalFees and NetAmount from the fee and profit fields.
func (i *Investment) Recompute() {
	i.TotalFees = i.ManagementFeeAmount.Add(i.PerformanceFeeAmount)
	i.NetAmount = i.Amount.Add(i.ActualProfit).Sub(i.TotalFees)
}

type Plan struct {
	Name               string
	AnnualRate         decimal.Decimal
	MinAmount          decimal.Decimal
	ManagementFeeRate  decimal.Decimal
	PerformanceFeeRate decimal.Decimal
	Active             bool
	UpdatedAt          time.Time
}

type TransactionFilter struct {
	UserID   uuid.UUID
	Type     TransactionType
	Status   TransactionStatus
	Currency string
	Before   time.Time
	Limit    int
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

func (f TransactionFilter) limit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		return MaxListLimit
	}
	return f.Limit
}
