package handlers

import (
	"net/http"
	"strings"

	"github.com/AfshinJalili/goinvest/services/wallet/internal/currency"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/fees"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/funding"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/storage"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/validation"
	"github.com/gin-gonic/gin"
)

type balanceItem struct {
	Currency  string `json:"currency"`
	Available string `json:"available"`
	Locked    string `json:"locked"`
	Spendable string `json:"spendable"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type walletResponse struct {
	WalletID string        `json:"wallet_id"`
	UserID   string        `json:"user_id"`
	Balances []balanceItem `json:"balances"`
}

type fundingRequest struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Method      string `json:"method"`
	FromAddress string `json:"from_address"`
	ToAddress   string `json:"to_address"`
}

type quoteRequest struct {
	Operation string `json:"operation"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Method    string `json:"method"`
}

type depositResponse struct {
	Transaction    transactionItem `json:"transaction"`
	Quote          fees.Quote      `json:"quote"`
	DepositAddress string          `json:"deposit_address,omitempty"`
}

type withdrawalResponse struct {
	Transaction transactionItem `json:"transaction"`
	Quote       fees.Quote      `json:"quote"`
}

func (h *Handler) GetWallet(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	wallet, err := h.Wallets.GetWallet(c.Request.Context(), userID)
	if err != nil {
		h.writeServiceError(c, "get wallet", err)
		return
	}

	items := make([]balanceItem, 0, len(wallet.Balances))
	for _, b := range wallet.Balances {
		items = append(items, balanceToItem(b))
	}
	c.JSON(http.StatusOK, walletResponse{
		WalletID: wallet.ID.String(),
		UserID:   wallet.UserID.String(),
		Balances: items,
	})
}

func (h *Handler) GetValuation(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	wallet, err := h.Wallets.GetWallet(c.Request.Context(), userID)
	if err != nil {
		h.writeServiceError(c, "get valuation", err)
		return
	}
	c.JSON(http.StatusOK, h.Prices.Valuate(c.Request.Context(), wallet.Balances))
}

func (h *Handler) CreateDeposit(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req fundingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	if errs := validation.ValidateFundingRequest(req.Amount, req.Currency, req.Method); len(errs) > 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", errs)
		return
	}

	amount, _ := validation.ParseAmount(req.Amount)
	cur, _ := currency.Normalize(req.Currency)
	res, err := h.Funding.Deposit(c.Request.Context(), funding.DepositInput{
		UserID:      userID,
		Amount:      amount,
		Currency:    cur,
		Method:      validation.NormalizeMethod(req.Method),
		FromAddress: strings.TrimSpace(req.FromAddress),
	})
	if err != nil {
		h.writeServiceError(c, "deposit", err)
		return
	}

	status := http.StatusCreated
	if res.Transaction.Status == storage.StatusFailed {
		status = http.StatusPaymentRequired
	}
	c.JSON(status, depositResponse{
		Transaction:    transactionToItem(res.Transaction),
		Quote:          res.Quote,
		DepositAddress: res.DepositAddress,
	})
}

func (h *Handler) CreateWithdrawal(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req fundingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	if errs := validation.ValidateWithdrawRequest(req.Amount, req.Currency, req.Method, req.ToAddress); len(errs) > 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", errs)
		return
	}

	amount, _ := validation.ParseAmount(req.Amount)
	cur, _ := currency.Normalize(req.Currency)
	res, err := h.Funding.Withdraw(c.Request.Context(), funding.WithdrawInput{
		UserID:    userID,
		Amount:    amount,
		Currency:  cur,
		Method:    validation.NormalizeMethod(req.Method),
		ToAddress: strings.TrimSpace(req.ToAddress),
	})
	if err != nil {
		h.writeServiceError(c, "withdraw", err)
		return
	}
	c.JSON(http.StatusCreated, withdrawalResponse{
		Transaction: transactionToItem(res.Transaction),
		Quote:       res.Quote,
	})
}

func (h *Handler) QuoteFees(c *gin.Context) {
	if _, ok := requireUser(c); !ok {
		return
	}
	var req quoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	if errs := validation.ValidateQuoteRequest(req.Operation, req.Amount, req.Currency, req.Method); len(errs) > 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", errs)
		return
	}

	amount, _ := validation.ParseAmount(req.Amount)
	cur, _ := currency.Normalize(req.Currency)
	op := fees.Operation(strings.ToLower(strings.TrimSpace(req.Operation)))
	quote, err := h.Funding.Quote(op, validation.NormalizeMethod(req.Method), amount, cur)
	if err != nil {
		h.writeServiceError(c, "quote fees", err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

func balanceToItem(b storage.Balance) balanceItem {
	item := balanceItem{
		Currency:  b.Currency,
		Available: b.Available.String(),
		Locked:    b.Locked.String(),
		Spendable: b.Spendable().String(),
	}
	if !b.UpdatedAt.IsZero() {
		item.UpdatedAt = formatTime(b.UpdatedAt)
	}
	return item
}
