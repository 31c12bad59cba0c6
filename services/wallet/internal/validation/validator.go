package validation

import (
	"fmt"
	"strings"

	"github.com/AfshinJalili/goinvest/services/wallet/internal/currency"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/fees"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/storage"
	"github.com/shopspring/decimal"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	return "invalid request"
}

var frequencies = map[string]bool{
	"": true, "none": true, "daily": true, "weekly": true, "monthly": true, "quarterly": true,
}

// ValidateFundingRequest checks the fields shared by deposits, withdrawals,
// and fee quotes.
func ValidateFundingRequest(amount, cur, method string) ValidationErrors {
	var errs ValidationErrors

	if _, err := ParseAmount(amount); err != nil {
		errs = append(errs, FieldError{Field: "amount", Message: err.Error()})
	}
	if _, err := currency.Normalize(cur); err != nil {
		errs = append(errs, FieldError{Field: "currency", Message: "currency must be one of " + strings.Join(currency.Supported(), ", ")})
	}
	if !fees.ValidMethod(NormalizeMethod(method)) {
		errs = append(errs, FieldError{Field: "method", Message: "method must be credit_card, bank_transfer, or crypto"})
	}
	return errs
}

func ValidateWithdrawRequest(amount, cur, method, toAddress string) ValidationErrors {
	errs := ValidateFundingRequest(amount, cur, method)
	if strings.TrimSpace(toAddress) == "" {
		errs = append(errs, FieldError{Field: "to_address", Message: "to_address is required"})
	}
	return errs
}

func ValidateQuoteRequest(operation, amount, cur, method string) ValidationErrors {
	var errs ValidationErrors
	op := fees.Operation(strings.ToLower(strings.TrimSpace(operation)))
	if op != fees.OpDeposit && op != fees.OpWithdrawal {
		errs = append(errs, FieldError{Field: "operation", Message: "operation must be deposit or withdrawal"})
	}
	return append(errs, ValidateFundingRequest(amount, cur, method)...)
}

func ValidateInvestmentRequest(plan, amount, cur string, durationDays int, frequency string) ValidationErrors {
	errs := ValidateSimulateRequest(plan, amount, durationDays, frequency)
	if _, err := currency.Normalize(cur); err != nil {
		errs = append(errs, FieldError{Field: "currency", Message: "currency must be one of " + strings.Join(currency.Supported(), ", ")})
	}
	return errs
}

// ValidateSimulateRequest checks request shape only; duration bounds and
// plan rules are enforced by the investment manager.
func ValidateSimulateRequest(plan, amount string, durationDays int, frequency string) ValidationErrors {
	var errs ValidationErrors

	if strings.TrimSpace(plan) == "" {
		errs = append(errs, FieldError{Field: "plan", Message: "plan is required"})
	}
	if _, err := ParseAmount(amount); err != nil {
		errs = append(errs, FieldError{Field: "amount", Message: err.Error()})
	}
	if durationDays <= 0 {
		errs = append(errs, FieldError{Field: "duration_days", Message: "duration_days must be positive"})
	}
	if !frequencies[strings.ToLower(strings.TrimSpace(frequency))] {
		errs = append(errs, FieldError{Field: "compounding_frequency", Message: "compounding_frequency must be none, daily, weekly, monthly, or quarterly"})
	}
	return errs
}

// ValidateTransactionFilter checks list query parameters.
func ValidateTransactionFilter(txType, status, cur string) ValidationErrors {
	var errs ValidationErrors
	switch storage.TransactionType(strings.ToLower(strings.TrimSpace(txType))) {
	case "", storage.TxDeposit, storage.TxWithdrawal, storage.TxInvestment, storage.TxTransfer,
		storage.TxProfit, storage.TxDividend, storage.TxFee, storage.TxInterest, storage.TxRefund:
	default:
		errs = append(errs, FieldError{Field: "type", Message: "unknown transaction type"})
	}
	switch storage.TransactionStatus(strings.ToLower(strings.TrimSpace(status))) {
	case "", storage.StatusPending, storage.StatusProcessing, storage.StatusCompleted,
		storage.StatusFailed, storage.StatusCancelled, storage.StatusRejected:
	default:
		errs = append(errs, FieldError{Field: "status", Message: "unknown transaction status"})
	}
	if strings.TrimSpace(cur) != "" {
		if _, err := currency.Normalize(cur); err != nil {
			errs = append(errs, FieldError{Field: "currency", Message: "unknown currency"})
		}
	}
	return errs
}

func NormalizeMethod(method string) storage.Method {
	return storage.Method(strings.ToLower(strings.TrimSpace(method)))
}

// ParseAmount parses a strictly positive decimal amount.
func ParseAmount(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, fmt.Errorf("amount is required")
	}
	val, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("amount must be a decimal")
	}
	if val.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("amount must be positive")
	}
	return val, nil
}
