package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AfshinJalili/goinvest/libs/apikey"
	"github.com/AfshinJalili/goinvest/libs/auth"
	"github.com/AfshinJalili/goinvest/libs/httpmiddleware"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/accrual"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/fees"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/funding"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/investment"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/pricing"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/storage"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/validation"
	"github.com/AfshinJalili/goinvest/services/wallet/internal/walleterr"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type WalletService interface {
	GetWallet(ctx context.Context, userID uuid.UUID) (storage.Wallet, error)
}

type PriceService interface {
	Valuate(ctx context.Context, balances []storage.Balance) pricing.Valuation
}

type FundingService interface {
	Deposit(ctx context.Context, in funding.DepositInput) (funding.DepositResult, error)
	Withdraw(ctx context.Context, in funding.WithdrawInput) (funding.WithdrawResult, error)
	Quote(op fees.Operation, method storage.Method, amount decimal.Decimal, cur string) (fees.Quote, error)
	CancelPending(ctx context.Context, userID, txID uuid.UUID) (storage.Transaction, error)
	HandlePaymentEvent(ctx context.Context, evt funding.PaymentEvent) (storage.Transaction, error)
}

type TransactionService interface {
	Get(ctx context.Context, id uuid.UUID) (storage.Transaction, error)
	ListByUser(ctx context.Context, userID uuid.UUID, filter storage.TransactionFilter) ([]storage.Transaction, error)
}

type InvestmentService interface {
	Create(ctx context.Context, in investment.CreateInput) (storage.Investment, error)
	Cancel(ctx context.Context, userID, id uuid.UUID, reason string) (storage.Investment, error)
	Preview(ctx context.Context, userID, id uuid.UUID) (investment.Position, error)
	ListByUser(ctx context.Context, userID uuid.UUID, status storage.InvestmentStatus) ([]storage.Investment, error)
	Simulate(in investment.SimulateInput) (investment.Simulation, error)
	Plans() []accrual.Plan
}

// Operations runs the sweeps normally driven by the scheduler.
type Operations interface {
	Reconcile(ctx context.Context) (funding.ReconcileReport, error)
	MatureDue(ctx context.Context) (investment.MaturityReport, error)
}

type Deps struct {
	Wallets      WalletService
	Prices       PriceService
	Funding      FundingService
	Transactions TransactionService
	Investments  InvestmentService
	Operations   Operations
}

type Handler struct {
	Wallets      WalletService
	Prices       PriceService
	Funding      FundingService
	Transactions TransactionService
	Investments  InvestmentService
	Operations   Operations
	Logger       *slog.Logger
}

// Routes carries the access controls applied around the handlers.
type Routes struct {
	JWTSecret []byte
	// Limiter throttles mutating routes. Nil disables rate limiting.
	Limiter  httpmiddleware.Limiter
	Gateways apikey.Lookup
}

type errorResponse struct {
	Code    string                  `json:"code"`
	Message string                  `json:"message"`
	Fields  []validation.FieldError `json:"fields,omitempty"`
}

func New(deps Deps, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Wallets:      deps.Wallets,
		Prices:       deps.Prices,
		Funding:      deps.Funding,
		Transactions: deps.Transactions,
		Investments:  deps.Investments,
		Operations:   deps.Operations,
		Logger:       logger,
	}
}

func (h *Handler) Register(r *gin.Engine, routes Routes) {
	limit := httpmiddleware.RateLimit(routes.Limiter, httpmiddleware.UserOrIP, h.Logger)

	group := r.Group("/", auth.Middleware(routes.JWTSecret))
	group.GET("/wallet", h.GetWallet)
	group.GET("/wallet/valuation", h.GetValuation)
	group.POST("/wallet/deposits", limit, h.CreateDeposit)
	group.POST("/wallet/withdrawals", limit, h.CreateWithdrawal)
	group.POST("/wallet/fees/quote", h.QuoteFees)

	group.GET("/transactions", h.ListTransactions)
	group.GET("/transactions/:id", h.GetTransaction)
	group.POST("/transactions/:id/cancel", limit, h.CancelTransaction)

	group.POST("/investments", limit, h.CreateInvestment)
	group.GET("/investments", h.ListInvestments)
	group.POST("/investments/simulate", h.SimulateInvestment)
	group.GET("/investments/:id", h.GetInvestment)
	group.POST("/investments/:id/cancel", limit, h.CancelInvestment)
	group.GET("/plans", h.ListPlans)

	admin := r.Group("/admin", auth.Middleware(routes.JWTSecret), auth.RequireRole(auth.RoleAdmin))
	admin.POST("/reconcile", h.RunReconcile)
	admin.POST("/mature", h.RunMaturity)

	webhooks := r.Group("/webhooks", apikey.Middleware(routes.Gateways, apikey.ScopePaymentsNotify))
	webhooks.POST("/payments", h.PaymentWebhook)
}

// writeServiceError maps a domain error onto its API code. Unknown errors
// are logged and reported as internal.
func (h *Handler) writeServiceError(c *gin.Context, op string, err error) {
	var fieldErrs validation.ValidationErrors
	if errors.As(err, &fieldErrs) {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", fieldErrs)
		return
	}
	status := walleterr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error(op+" failed", "error", err, "request_id", httpmiddleware.RequestIDFromContext(c))
	}
	writeError(c, status, walleterr.Code(err), walleterr.Message(err), nil)
}

func writeError(c *gin.Context, status int, code, message string, fields []validation.FieldError) {
	c.JSON(status, errorResponse{Code: code, Message: message, Fields: fields})
}

func userIDFromContext(c *gin.Context) (uuid.UUID, bool) {
	val, ok := c.Get(auth.ContextUserIDKey)
	if !ok {
		return uuid.Nil, false
	}
	userID, ok := val.(string)
	if !ok {
		return uuid.Nil, false
	}
	parsed, err := uuid.Parse(userID)
	if err != nil {
		return uuid.Nil, false
	}
	return parsed, true
}

// requireUser writes 401 and returns false when the caller has no valid
// subject.
func requireUser(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
	}
	return userID, ok
}

func parseUUIDParam(value string) (uuid.UUID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return uuid.Nil, errors.New("missing id")
	}
	return uuid.Parse(trimmed)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
