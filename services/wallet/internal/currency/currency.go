// Package currency describes the currencies the wallet holds.
package currency

import (
	"fmt"
	"strings"

	"github.com/AfshinJalili/goinvest/services/wallet/internal/walleterr"
	"github.com/shopspring/decimal"
)

const (
	BTC  = "BTC"
	ETH  = "ETH"
	USDT = "USDT"
	USDC = "USDC"
	USD  = "USD"
	EUR  = "EUR"
	GBP  = "GBP"
)

const (
	cryptoPlaces = 8
	fiatPlaces   = 2
)

var supported = map[string]bool{
	BTC: true, ETH: true, USDT: true, USDC: true,
	USD: false, EUR: false, GBP: false,
}

// Supported lists the currency codes in display order.
func Supported() []string {
	return []string{BTC, ETH, USDT, USDC, USD, EUR, GBP}
}

// Normalize upper-cases code and rejects unknown currencies.
func Normalize(code string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if _, ok := supported[c]; !ok {
		return "", fmt.Errorf("%q: %w", code, walleterr.ErrInvalidCurrency)
	}
	return c, nil
}

func IsCrypto(code string) bool {
	return supported[strings.ToUpper(code)]
}

func Places(code string) int32 {
	if IsCrypto(code) {
		return cryptoPlaces
	}
	return fiatPlaces
}

// Round rounds half-up to the precision of code.
func Round(code string, amount decimal.Decimal) decimal.Decimal {
	return amount.Round(Places(code))
}

// ValidAmount rejects non-positive amounts.
func ValidAmount(amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%s: %w", amount.String(), walleterr.ErrInvalidAmount)
	}
	return nil
}
