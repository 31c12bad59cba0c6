// Package fees quotes platform and network fees for funding operations.
package fees

import (
	"fmt"

	"github.com/AfshinJalili/goinvest/services/wallet/internal/currency"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/storage"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/walleterr"
	"github.com/shopspring/decimal"
)

type Operation string

const (
	OpDeposit    Operation = "deposit"
	OpWithdrawal Operation = "withdrawal"
)

type Input struct {
	Operation Operation
	Method    storage.Method
	Amount    decimal.Decimal
	Currency  string
}

type Quote struct {
	Operation    Operation       `json:"operation"`
	Method       storage.Method  `json:"method"`
	Currency     string          `json:"currency"`
	Amount       decimal.Decimal `json:"amount"`
	PlatformRate decimal.Decimal `json:"platform_rate"`
	PlatformFee  decimal.Decimal `json:"platform_fee"`
	NetworkFee   decimal.Decimal `json:"network_fee"`
	TotalFee     decimal.Decimal `json:"total_fee"`
	NetAmount    decimal.Decimal `json:"net_amount"`
}

type rateKey struct {
	op     Operation
	method storage.Method
}

// Schedule holds the rate tables a quote is computed from.
type Schedule struct {
	PlatformRates map[rateKey]decimal.Decimal
	DefaultRate   decimal.Decimal
	NetworkFees   map[string]decimal.Decimal
}

func DefaultSchedule() Schedule {
	return Schedule{
		PlatformRates: map[rateKey]decimal.Decimal{
			{OpDeposit, storage.MethodCreditCard}:      decimal.RequireFromString("0.029"),
			{OpDeposit, storage.MethodBankTransfer}:    decimal.RequireFromString("0.01"),
			{OpDeposit, storage.MethodCrypto}:          decimal.RequireFromString("0.001"),
			{OpWithdrawal, storage.MethodBankTransfer}: decimal.RequireFromString("0.02"),
			{OpWithdrawal, storage.MethodCrypto}:       decimal.RequireFromString("0.005"),
		},
		DefaultRate: decimal.RequireFromString("0.02"),
		NetworkFees: map[string]decimal.Decimal{
			currency.BTC:  decimal.RequireFromString("0.0005"),
			currency.ETH:  decimal.RequireFromString("0.005"),
			currency.USDT: decimal.NewFromInt(1),
			currency.USDC: decimal.NewFromInt(1),
		},
	}
}

var defaultSchedule = DefaultSchedule()

// Calculate quotes in against the default schedule.
func Calculate(in Input) (Quote, error) {
	return defaultSchedule.Calculate(in)
}

func (s Schedule) PlatformRate(op Operation, method storage.Method) decimal.Decimal {
	if rate, ok := s.PlatformRates[rateKey{op, method}]; ok {
		return rate
	}
	return s.DefaultRate
}

// NetworkFee applies only to crypto movements of crypto currencies.
func (s Schedule) NetworkFee(method storage.Method, cur string) decimal.Decimal {
	if method != storage.MethodCrypto || !currency.IsCrypto(cur) {
		return decimal.Zero
	}
	if fee, ok := s.NetworkFees[cur]; ok {
		return fee
	}
	return decimal.Zero
}

func (s Schedule) Calculate(in Input) (Quote, error) {
	cur, err := currency.Normalize(in.Currency)
	if err != nil {
		return Quote{}, err
	}
	if err := currency.ValidAmount(in.Amount); err != nil {
		return Quote{}, err
	}
	if in.Operation != OpDeposit && in.Operation != OpWithdrawal {
		return Quote{}, fmt.Errorf("operation %q: %w", in.Operation, walleterr.ErrInvalidMethod)
	}
	if !ValidMethod(in.Method) {
		return Quote{}, fmt.Errorf("method %q: %w", in.Method, walleterr.ErrInvalidMethod)
	}

	rate := s.PlatformRate(in.Operation, in.Method)
	platform := currency.Round(cur, in.Amount.Mul(rate))
	network := s.NetworkFee(in.Method, cur)
	total := platform.Add(network)
	net := in.Amount.Sub(total)

	q := Quote{
		Operation:    in.Operation,
		Method:       in.Method,
		Currency:     cur,
		Amount:       in.Amount,
		PlatformRate: rate,
		PlatformFee:  platform,
		NetworkFee:   network,
		TotalFee:     total,
		NetAmount:    net,
	}
	if !net.IsPositive() {
		return q, fmt.Errorf("%s %s leaves %s after fees: %w", in.Amount, cur, net, walleterr.ErrAmountTooSmall)
	}
	return q, nil
}

func ValidMethod(m storage.Method) bool {
	switch m {
	case storage.MethodCreditCard, storage.MethodBankTransfer, storage.MethodCrypto:
		return true
	}
	return false
}
