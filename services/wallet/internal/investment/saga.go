package investment

import (
	"context"
	"log/slog"
)

type undoStep struct {
	name string
	fn   func(ctx context.Context) error
}

// saga records compensating actions for a multi-step mutation and runs
// them in reverse order when a later step fails.
type saga struct {
	flow    string
	steps   []undoStep
	logger  *slog.Logger
	observe func(step string, ok bool)
}

func (m *Manager) newSaga(flow string) *saga {
	return &saga{
		flow:   flow,
		logger: m.logger,
		observe: func(step string, ok bool) {
			if m.metrics != nil {
				m.metrics.ObserveCompensation(step, ok)
			}
		},
	}
}

func (s *saga) onFailure(name string, fn func(ctx context.Context) error) {
	s.steps = append(s.steps, undoStep{name: name, fn: fn})
}

func (s *saga) rollback(ctx context.Context, cause error) {
	ctx = context.WithoutCancel(ctx)
	for i := len(s.steps) - 1; i >= 0; i-- {
		step := s.steps[i]
		err := step.fn(ctx)
		s.observe(s.flow+"."+step.name, err == nil)
		if err != nil {
			s.logger.Error("compensating action failed", "flow", s.flow, "step", step.name, "cause", cause, "error", err)
			continue
		}
		s.logger.Warn("compensating action applied", "flow", s.flow, "step", step.name, "cause", cause)
	}
	s.steps = nil
}
