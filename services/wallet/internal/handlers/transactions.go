package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/AfshinJalili/goinvest/services/wallet/internal/currency"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/storage"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/validation"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/walleterr"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type transactionItem struct {
	TransactionID string            `json:"transaction_id"`
	Type          string            `json:"type"`
	Status        string            `json:"status"`
	Method        string            `json:"method,omitempty"`
	Amount        string            `json:"amount"`
	Currency      string            `json:"currency"`
	NetworkFee    string            `json:"network_fee"`
	PlatformFee   string            `json:"platform_fee"`
	NetAmount     string            `json:"net_amount"`
	ToAddress     string            `json:"to_address,omitempty"`
	FromAddress   string            `json:"from_address,omitempty"`
	TxHash        string            `json:"tx_hash,omitempty"`
	ExternalRef   string            `json:"external_ref,omitempty"`
	InvestmentID  string            `json:"investment_id,omitempty"`
	Confirmations int               `json:"confirmations"`
	FailureReason string            `json:"failure_reason,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     string            `json:"created_at"`
	UpdatedAt     string            `json:"updated_at"`
	CompletedAt   *string           `json:"completed_at,omitempty"`
	CancelledAt   *string           `json:"cancelled_at,omitempty"`
}

type listTransactionsResponse struct {
	Transactions []transactionItem `json:"transactions"`
	NextBefore   string            `json:"next_before,omitempty"`
}

func (h *Handler) ListTransactions(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	txType, status, cur := c.Query("type"), c.Query("status"), c.Query("currency")
	if errs := validation.ValidateTransactionFilter(txType, status, cur); len(errs) > 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", errs)
		return
	}
	filter := storage.TransactionFilter{
		UserID: userID,
		Type:   storage.TransactionType(strings.ToLower(strings.TrimSpace(txType))),
		Status: storage.TransactionStatus(strings.ToLower(strings.TrimSpace(status))),
	}
	if strings.TrimSpace(cur) != "" {
		filter.Currency, _ = currency.Normalize(cur)
	}
	if limitStr := strings.TrimSpace(c.Query("limit")); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n <= 0 {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid limit", nil)
			return
		}
		filter.Limit = n
	}
	if beforeStr := strings.TrimSpace(c.Query("before")); beforeStr != "" {
		before, err := time.Parse(time.RFC3339, beforeStr)
		if err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid before", nil)
			return
		}
		filter.Before = before
	}

	txs, err := h.Transactions.ListByUser(c.Request.Context(), userID, filter)
	if err != nil {
		h.writeServiceError(c, "list transactions", err)
		return
	}

	resp := listTransactionsResponse{Transactions: make([]transactionItem, 0, len(txs))}
	for _, tx := range txs {
		resp.Transactions = append(resp.Transactions, transactionToItem(tx))
	}
	if filter.Limit > 0 && len(txs) == filter.Limit {
		resp.NextBefore = formatTime(txs[len(txs)-1].CreatedAt)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetTransaction(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	txID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid transaction_id", nil)
		return
	}

	tx, err := h.Transactions.Get(c.Request.Context(), txID)
	if err == nil && tx.UserID != userID {
		err = fmt.Errorf("transaction %s: %w", txID, walleterr.ErrNotFound)
	}
	if err != nil {
		h.writeServiceError(c, "get transaction", err)
		return
	}
	c.JSON(http.StatusOK, transactionToItem(tx))
}

func (h *Handler) CancelTransaction(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	txID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid transaction_id", nil)
		return
	}

	tx, err := h.Funding.CancelPending(c.Request.Context(), userID, txID)
	if err != nil {
		h.writeServiceError(c, "cancel transaction", err)
		return
	}
	c.JSON(http.StatusOK, transactionToItem(tx))
}

func transactionToItem(tx storage.Transaction) transactionItem {
	item := transactionItem{
		TransactionID: tx.ID.String(),
		Type:          string(tx.Type),
		Status:        string(tx.Status),
		Method:        string(tx.Method),
		Amount:        tx.Amount.String(),
		Currency:      tx.Currency,
		NetworkFee:    tx.NetworkFee.String(),
		PlatformFee:   tx.PlatformFee.String(),
		NetAmount:     tx.NetAmount.String(),
		ToAddress:     tx.ToAddress,
		FromAddress:   tx.FromAddress,
		TxHash:        tx.TxHash,
		ExternalRef:   tx.ExternalRef,
		Confirmations: tx.Confirmations,
		FailureReason: tx.FailureReason,
		Metadata:      tx.Metadata,
		CreatedAt:     formatTime(tx.CreatedAt),
		UpdatedAt:     formatTime(tx.UpdatedAt),
		CompletedAt:   formatTimePtr(tx.CompletedAt),
		CancelledAt:   formatTimePtr(tx.CancelledAt),
	}
	if tx.InvestmentID != uuid.Nil {
		item.InvestmentID = tx.InvestmentID.String()
	}
	return item
}
