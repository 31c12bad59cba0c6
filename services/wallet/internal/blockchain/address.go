// Package blockchain validates on-chain addresses and provides a sandbox
// chain client for deposits and withdrawals.
package blockchain

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/AfshinJalili/goinvest/services/wallet/internal/currency"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/walleterr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
)

var (
	legacyBTCPattern = regexp.MustCompile(`^(bc1|[13])[1-9A-HJ-NP-Za-km-z]{25,39}$`)
	// bech32 uses its own alphabet, which includes 0 and excludes b, i, o.
	segwitBTCPattern = regexp.MustCompile(`^bc1[02-9ac-hj-np-z]{11,71}$`)
	evmPattern       = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

// ValidateAddress checks that address can receive cur on mainnet.
func ValidateAddress(cur, address string) error {
	address = strings.TrimSpace(address)
	switch strings.ToUpper(cur) {
	case currency.BTC:
		return validateBTC(address)
	case currency.ETH, currency.USDT, currency.USDC:
		return validateEVM(address)
	}
	return fmt.Errorf("%s has no on-chain address: %w", cur, walleterr.ErrInvalidAddress)
}

func validateBTC(address string) error {
	pattern := legacyBTCPattern
	if strings.HasPrefix(strings.ToLower(address), "bc1") {
		pattern = segwitBTCPattern
		address = strings.ToLower(address)
	}
	if !pattern.MatchString(address) {
		return fmt.Errorf("bitcoin address format: %w", walleterr.ErrInvalidAddress)
	}
	if _, err := btcutil.DecodeAddress(address, &chaincfg.MainNetParams); err != nil {
		return fmt.Errorf("bitcoin address %v: %w", err, walleterr.ErrInvalidAddress)
	}
	return nil
}

func validateEVM(address string) error {
	if !evmPattern.MatchString(address) || !common.IsHexAddress(address) {
		return fmt.Errorf("ethereum address format: %w", walleterr.ErrInvalidAddress)
	}
	return nil
}
