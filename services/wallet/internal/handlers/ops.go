package handlers

import (
	"net/http"
	"strings"

	"github.com/AfshinJalili/goinvest/libs/apikey"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/funding"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type paymentWebhookRequest struct {
	Reference     string `json:"reference"`
	TransactionID string `json:"transaction_id"`
	TxHash        string `json:"tx_hash"`
	Status        string `json:"status"`
	Reason        string `json:"reason"`
	Amount        string `json:"amount"`
}

// PaymentWebhook applies a gateway settlement callback. It accepts the same
// fields as the payments.confirmed topic.
func (h *Handler) PaymentWebhook(c *gin.Context) {
	var req paymentWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	evt := funding.PaymentEvent{
		Reference: strings.TrimSpace(req.Reference),
		TxHash:    strings.TrimSpace(req.TxHash),
		Status:    strings.ToLower(strings.TrimSpace(req.Status)),
		Reason:    req.Reason,
	}
	if raw := strings.TrimSpace(req.TransactionID); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid transaction_id", nil)
			return
		}
		evt.TransactionID = id
	}
	if evt.Reference == "" && evt.TransactionID == uuid.Nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "reference or transaction_id required", nil)
		return
	}
	if evt.Status == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "status required", nil)
		return
	}
	if raw := strings.TrimSpace(req.Amount); raw != "" {
		amount, err := decimal.NewFromString(raw)
		if err != nil || amount.IsNegative() {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid amount", nil)
			return
		}
		evt.Amount = amount
	}

	tx, err := h.Funding.HandlePaymentEvent(c.Request.Context(), evt)
	if err != nil {
		h.writeServiceError(c, "payment webhook", err)
		return
	}
	h.Logger.Info("payment webhook applied",
		"gateway", c.GetString(apikey.ContextGatewayKey),
		"transaction_id", tx.ID.String(),
		"status", string(tx.Status))
	c.JSON(http.StatusOK, transactionToItem(tx))
}

func (h *Handler) RunReconcile(c *gin.Context) {
	report, err := h.Operations.Reconcile(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, "reconcile", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) RunMaturity(c *gin.Context) {
	report, err := h.Operations.MatureDue(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, "mature", err)
		return
	}
	c.JSON(http.StatusOK, report)
}
