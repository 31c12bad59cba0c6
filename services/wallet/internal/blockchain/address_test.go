package blockchain

import (
	"errors"
	"testing"

	"github.com/AfshinJalili/goinvest/services/wallet/internal/walleterr"
)

func TestValidateAddress(t *testing.T) {
	cases := []struct {
		currency string
		address  string
		valid    bool
	}{
		{"BTC", "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2", true},
		{"BTC", "3J98t1WpEZ73CNmQviecrnyiWrnqRhWNLy", true},
		{"BTC", "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq", true},
		{"BTC", "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN3", false},
		{"BTC", "2BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2", false},
		{"BTC", "1short", false},
		{"ETH", "0x742d35cc6634c0532925a3b844bc454e4438f44e", true},
		{"USDT", "0x742d35Cc6634C0532925a3b844Bc454e4438f44e", true},
		{"ETH", "742d35cc6634c0532925a3b844bc454e4438f44e", false},
		{"USDC", "0x742d35cc6634c0532925a3b844bc454e4438f4", false},
		{"ETH", "0xZZ2d35cc6634c0532925a3b844bc454e4438f44e", false},
		{"USD", "0x742d35cc6634c0532925a3b844bc454e4438f44e", false},
	}
	for _, tc := range cases {
		err := ValidateAddress(tc.currency, tc.address)
		if tc.valid && err != nil {
			t.Fatalf("%s %s: unexpected error: %v", tc.currency, tc.address, err)
		}
		if !tc.valid && !errors.Is(err, walleterr.ErrInvalidAddress) {
			t.Fatalf("%s %s: expected invalid address, got %v", tc.currency, tc.address, err)
		}
	}
}
