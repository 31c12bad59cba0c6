// Package gateway models the card and bank payment gateway the wallet
// charges deposits through and pays withdrawals out to.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

var (
	ErrDeclined        = errors.New("payment declined")
	ErrUnknownPayment  = errors.New("unknown payment reference")
	ErrGatewayTimedOut = errors.New("gateway timed out")
)

type ChargeRequest struct {
	TransactionID uuid.UUID
	UserID        uuid.UUID
	Method        string
	Amount        decimal.Decimal
	Currency      string
}

type PayoutRequest struct {
	TransactionID uuid.UUID
	UserID        uuid.UUID
	Method        string
	Amount        decimal.Decimal
	Currency      string
	Destination   string
}

type Result struct {
	Reference string
	Status    Status
	Reason    string
}

type payment struct {
	result  Result
	created time.Time
}

// Sandbox accepts every request as pending. Payments settle through
// Complete and Fail, or automatically after SettleAfter when set.
type Sandbox struct {
	mu          sync.Mutex
	payments    map[string]*payment
	declineOver decimal.Decimal
	delay       time.Duration
	settleAfter time.Duration
	now         func() time.Time
}

type SandboxOption func(*Sandbox)

// WithDeclineOver declines charges larger than limit.
func WithDeclineOver(limit decimal.Decimal) SandboxOption {
	return func(s *Sandbox) { s.declineOver = limit }
}

// WithLatency delays every call, honouring the caller's context.
func WithLatency(d time.Duration) SandboxOption {
	return func(s *Sandbox) { s.delay = d }
}

func WithSettleAfter(d time.Duration) SandboxOption {
	return func(s *Sandbox) { s.settleAfter = d }
}

func NewSandbox(opts ...SandboxOption) *Sandbox {
	s := &Sandbox{
		payments: make(map[string]*payment),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sandbox) Charge(ctx context.Context, req ChargeRequest) (Result, error) {
	if err := s.wait(ctx); err != nil {
		return Result{}, err
	}
	if !s.declineOver.IsZero() && req.Amount.GreaterThan(s.declineOver) {
		return Result{}, fmt.Errorf("charge %s %s: %w", req.Amount, req.Currency, ErrDeclined)
	}
	return s.record("ch"), nil
}

func (s *Sandbox) Payout(ctx context.Context, req PayoutRequest) (Result, error) {
	if err := s.wait(ctx); err != nil {
		return Result{}, err
	}
	if req.Destination == "" {
		return Result{}, fmt.Errorf("payout destination required: %w", ErrDeclined)
	}
	return s.record("po"), nil
}

func (s *Sandbox) Status(ctx context.Context, ref string) (Result, error) {
	if err := s.wait(ctx); err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[ref]
	if !ok {
		return Result{}, fmt.Errorf("%s: %w", ref, ErrUnknownPayment)
	}
	if p.result.Status == StatusPending && s.settleAfter > 0 && s.now().Sub(p.created) >= s.settleAfter {
		p.result.Status = StatusSucceeded
	}
	return p.result, nil
}

func (s *Sandbox) Complete(ref string) error {
	return s.settle(ref, StatusSucceeded, "")
}

func (s *Sandbox) Fail(ref, reason string) error {
	return s.settle(ref, StatusFailed, reason)
}

func (s *Sandbox) settle(ref string, status Status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[ref]
	if !ok {
		return fmt.Errorf("%s: %w", ref, ErrUnknownPayment)
	}
	p.result.Status = status
	p.result.Reason = reason
	return nil
}

func (s *Sandbox) record(kind string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := fmt.Sprintf("%s_%s", kind, uuid.NewString())
	res := Result{Reference: ref, Status: StatusPending}
	s.payments[ref] = &payment{result: res, created: s.now()}
	return res
}

func (s *Sandbox) wait(ctx context.Context) error {
	if s.delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrGatewayTimedOut, ctx.Err())
	case <-timer.C:
		return nil
	}
}
