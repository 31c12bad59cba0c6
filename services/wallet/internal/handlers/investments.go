package handlers

import (
	"net/http"
	"strings"

	"github.com/AfshinJalili/goinvest/services/wallet/internal/accrual"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/currency"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/investment"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/storage"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/validation"
	"github.com/gin-gonic/gin"
)

type investmentRequest struct {
	Plan                 string `json:"plan"`
	Amount               string `json:"amount"`
	Currency             string `json:"currency"`
	DurationDays         int    `json:"duration_days"`
	IsCompounding        bool   `json:"is_compounding"`
	CompoundingFrequency string `json:"compounding_frequency"`
}

type cancelInvestmentRequest struct {
	Reason string `json:"reason"`
}

type investmentItem struct {
	InvestmentID         string   `json:"investment_id"`
	Plan                 string   `json:"plan"`
	Status               string   `json:"status"`
	Amount               string   `json:"amount"`
	Currency             string   `json:"currency"`
	DurationDays         int      `json:"duration_days"`
	StartDate            string   `json:"start_date"`
	EndDate              string   `json:"end_date"`
	ExpectedReturnRate   string   `json:"expected_return_rate"`
	ExpectedProfit       string   `json:"expected_profit"`
	ActualProfit         string   `json:"actual_profit"`
	ManagementFeeAmount  string   `json:"management_fee_amount"`
	PerformanceFeeAmount string   `json:"performance_fee_amount"`
	TotalFees            string   `json:"total_fees"`
	NetAmount            string   `json:"net_amount"`
	IsCompounding        bool     `json:"is_compounding"`
	CompoundingFrequency string   `json:"compounding_frequency,omitempty"`
	TransactionIDs       []string `json:"transaction_ids"`
	CancellationReason   string   `json:"cancellation_reason,omitempty"`
	CancelledAt          *string  `json:"cancelled_at,omitempty"`
	CompletedAt          *string  `json:"completed_at,omitempty"`
	CreatedAt            string   `json:"created_at"`
}

type positionResponse struct {
	Investment investmentItem  `json:"investment"`
	Accrual    *accrual.Result `json:"accrual,omitempty"`
}

type listInvestmentsResponse struct {
	Investments []investmentItem `json:"investments"`
}

type plansResponse struct {
	Plans []accrual.Plan `json:"plans"`
}

func (h *Handler) CreateInvestment(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req investmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	if errs := validation.ValidateInvestmentRequest(req.Plan, req.Amount, req.Currency, req.DurationDays, req.CompoundingFrequency); len(errs) > 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", errs)
		return
	}

	amount, _ := validation.ParseAmount(req.Amount)
	cur, _ := currency.Normalize(req.Currency)
	inv, err := h.Investments.Create(c.Request.Context(), investment.CreateInput{
		UserID:       userID,
		Plan:         strings.TrimSpace(req.Plan),
		Amount:       amount,
		Currency:     cur,
		DurationDays: req.DurationDays,
		Compounding:  req.IsCompounding,
		Frequency:    frequency(req.CompoundingFrequency),
	})
	if err != nil {
		h.writeServiceError(c, "create investment", err)
		return
	}
	c.JSON(http.StatusCreated, investmentToItem(inv))
}

func (h *Handler) ListInvestments(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	status := storage.InvestmentStatus(strings.ToLower(strings.TrimSpace(c.Query("status"))))

	invs, err := h.Investments.ListByUser(c.Request.Context(), userID, status)
	if err != nil {
		h.writeServiceError(c, "list investments", err)
		return
	}
	resp := listInvestmentsResponse{Investments: make([]investmentItem, 0, len(invs))}
	for _, inv := range invs {
		resp.Investments = append(resp.Investments, investmentToItem(inv))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetInvestment(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	id, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid investment_id", nil)
		return
	}

	pos, err := h.Investments.Preview(c.Request.Context(), userID, id)
	if err != nil {
		h.writeServiceError(c, "get investment", err)
		return
	}
	resp := positionResponse{Investment: investmentToItem(pos.Investment)}
	if pos.Investment.Status == storage.InvestmentActive {
		resp.Accrual = &pos.Accrual
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) CancelInvestment(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	id, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid investment_id", nil)
		return
	}
	var req cancelInvestmentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
			return
		}
	}

	inv, err := h.Investments.Cancel(c.Request.Context(), userID, id, req.Reason)
	if err != nil {
		h.writeServiceError(c, "cancel investment", err)
		return
	}
	c.JSON(http.StatusOK, investmentToItem(inv))
}

func (h *Handler) SimulateInvestment(c *gin.Context) {
	if _, ok := requireUser(c); !ok {
		return
	}
	var req investmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	if errs := validation.ValidateSimulateRequest(req.Plan, req.Amount, req.DurationDays, req.CompoundingFrequency); len(errs) > 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", errs)
		return
	}

	amount, _ := validation.ParseAmount(req.Amount)
	sim, err := h.Investments.Simulate(investment.SimulateInput{
		Plan:         strings.TrimSpace(req.Plan),
		Amount:       amount,
		DurationDays: req.DurationDays,
		Compounding:  req.IsCompounding,
		Frequency:    frequency(req.CompoundingFrequency),
	})
	if err != nil {
		h.writeServiceError(c, "simulate investment", err)
		return
	}
	c.JSON(http.StatusOK, sim)
}

func (h *Handler) ListPlans(c *gin.Context) {
	c.JSON(http.StatusOK, plansResponse{Plans: h.Investments.Plans()})
}

func frequency(raw string) accrual.Frequency {
	return accrual.Frequency(strings.ToLower(strings.TrimSpace(raw)))
}

func investmentToItem(inv storage.Investment) investmentItem {
	ids := make([]string, 0, len(inv.TransactionIDs))
	for _, id := range inv.TransactionIDs {
		ids = append(ids, id.String())
	}
	return investmentItem{
		InvestmentID:         inv.ID.String(),
		Plan:                 inv.Plan,
		Status:               string(inv.Status),
		Amount:               inv.Amount.String(),
		Currency:             inv.Currency,
		DurationDays:         inv.DurationDays,
		StartDate:            formatTime(inv.StartDate),
		EndDate:              formatTime(inv.EndDate),
		ExpectedReturnRate:   inv.ExpectedReturnRate.String(),
		ExpectedProfit:       inv.ExpectedProfit.String(),
		ActualProfit:         inv.ActualProfit.String(),
		ManagementFeeAmount:  inv.ManagementFeeAmount.String(),
		PerformanceFeeAmount: inv.PerformanceFeeAmount.String(),
		TotalFees:            inv.TotalFees.String(),
		NetAmount:            inv.NetAmount.String(),
		IsCompounding:        inv.IsCompounding,
		CompoundingFrequency: inv.CompoundingFrequency,
		TransactionIDs:       ids,
		CancellationReason:   inv.CancellationReason,
		CancelledAt:          formatTimePtr(inv.CancelledAt),
		CompletedAt:          formatTimePtr(inv.CompletedAt),
		CreatedAt:            formatTime(inv.CreatedAt),
	}
}
