package blockchain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/AfshinJalili/goinvest/services/wallet/internal/currency"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrUnknownTx = errors.New("unknown transaction hash")

type BroadcastRequest struct {
	Reference string
	Currency  string
	ToAddress string
	Amount    decimal.Decimal
}

type TxStatus struct {
	Hash          string
	Confirmations int
	// Amount is the value the transfer carried. Zero when the node does not
	// report it.
	Amount        decimal.Decimal
	Failed        bool
	Reason        string
}

// RequiredConfirmations is the depth at which a transfer counts as final.
func RequiredConfirmations(cur string) int {
	if strings.ToUpper(cur) == currency.BTC {
		return 3
	}
	return 12
}

// Sandbox is an in-memory chain. Broadcasts are accepted and gain one
// confirmation every time their status is read.
type Sandbox struct {
	mu      sync.Mutex
	txs     map[string]*TxStatus
	failErr error
}

func NewSandbox() *Sandbox {
	return &Sandbox{txs: make(map[string]*TxStatus)}
}

// FailBroadcasts makes subsequent broadcasts return err. nil restores.
func (s *Sandbox) FailBroadcasts(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

func (s *Sandbox) DepositAddress(_ context.Context, userID uuid.UUID, cur string) (string, error) {
	seed := sha256.Sum256([]byte(userID.String() + "|" + strings.ToUpper(cur)))
	switch strings.ToUpper(cur) {
	case currency.BTC:
		addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(seed[:]), &chaincfg.MainNetParams)
		if err != nil {
			return "", err
		}
		return addr.EncodeAddress(), nil
	case currency.ETH, currency.USDT, currency.USDC:
		return common.BytesToAddress(seed[:20]).Hex(), nil
	}
	return "", fmt.Errorf("no deposit address for %s", cur)
}

func (s *Sandbox) EstimateFee(_ context.Context, cur string) (decimal.Decimal, error) {
	switch strings.ToUpper(cur) {
	case currency.BTC:
		return decimal.RequireFromString("0.0005"), nil
	case currency.ETH:
		return decimal.RequireFromString("0.005"), nil
	case currency.USDT, currency.USDC:
		return decimal.NewFromInt(1), nil
	}
	return decimal.Zero, nil
}

func (s *Sandbox) Broadcast(ctx context.Context, req BroadcastRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := ValidateAddress(req.Currency, req.ToAddress); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return "", s.failErr
	}
	sum := sha256.Sum256([]byte(req.Reference + "|" + req.ToAddress + "|" + req.Amount.String()))
	hash := "0x" + hex.EncodeToString(sum[:])
	if _, ok := s.txs[hash]; !ok {
		s.txs[hash] = &TxStatus{Hash: hash, Amount: req.Amount}
	}
	return hash, nil
}

// Observe registers an inbound transfer of amount so deposits can be
// confirmed.
func (s *Sandbox) Observe(hash string, amount decimal.Decimal, confirmations int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs[hash] = &TxStatus{Hash: hash, Confirmations: confirmations, Amount: amount}
}

// Drop marks hash as failed on chain.
func (s *Sandbox) Drop(hash, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs[hash] = &TxStatus{Hash: hash, Failed: true, Reason: reason}
}

func (s *Sandbox) Status(_ context.Context, hash string) (TxStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[hash]
	if !ok {
		return TxStatus{}, fmt.Errorf("%s: %w", hash, ErrUnknownTx)
	}
	if !tx.Failed {
		tx.Confirmations++
	}
	return *tx, nil
}
