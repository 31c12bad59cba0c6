package transactions

import (
	"fmt"

	"github.com/AfshinJalili/goinvest/services/wallet/internal/storage"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/walleterr"
)

var transitions = map[storage.TransactionStatus][]storage.TransactionStatus{
	storage.StatusPending: {
		storage.StatusProcessing, storage.StatusCompleted, storage.StatusFailed, storage.StatusCancelled,
	},
	storage.StatusProcessing: {
		storage.StatusCompleted, storage.StatusFailed, storage.StatusCancelled, storage.StatusRejected,
	},
}

func IsTerminal(s storage.TransactionStatus) bool {
	_, ok := transitions[s]
	return !ok
}

func CanTransition(from, to storage.TransactionStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to storage.TransactionStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%s -> %s: %w", from, to, walleterr.ErrInvalidStateTransition)
	}
	return nil
}
