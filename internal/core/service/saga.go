package service

import (
	"context"
	"errors"
	"fmt"
)

// SagaStep is one unit of a multi-step operation together with its
// compensation. Undo may be nil for steps that need no reversal.
type SagaStep struct {
	Name string
	Do   func(ctx context.Context) error
	Undo func(ctx context.Context) error
}

// Saga executes an ordered list of steps. On the first failure it runs the
// compensations of every already-applied step in reverse order, then returns
// the original error joined with any compensation failures.
type Saga struct {
	steps []SagaStep
}

func NewSaga(steps ...SagaStep) *Saga {
	return &Saga{steps: steps}
}

func (s *Saga) Append(step SagaStep) {
	s.steps = append(s.steps, step)
}

func (s *Saga) Execute(ctx context.Context) error {
	for i, step := range s.steps {
		if err := step.Do(ctx); err != nil {
			err = fmt.Errorf("step %q failed: %w", step.Name, err)
			return errors.Join(err, s.compensate(ctx, i-1))
		}
	}
	return nil
}

func (s *Saga) compensate(ctx context.Context, from int) error {
	var errs []error
	for i := from; i >= 0; i-- {
		step := s.steps[i]
		if step.Undo == nil {
			continue
		}
		if err := step.Undo(ctx); err != nil {
			errs = append(errs, fmt.Errorf("compensation for %q failed: %w", step.Name, err))
		}
	}
	return errors.Join(errs...)
}
