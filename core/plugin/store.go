package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/rs/zerolog"
)

// ErrFrozen is returned when registering on a frozen store.
var ErrFrozen = errors.New("plugin store is frozen")

// Step outcomes reported to the Recorder.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
)

// Recorder receives one observation per matched step.
type Recorder interface {
	RecordPluginStep(message, stage, outcome string)
}

// Store holds registered steps.
type Store struct {
	mu     sync.RWMutex
	steps  []*Step
	frozen bool

	logger   zerolog.Logger
	recorder Recorder
}

// NewStore creates an empty store. recorder may be nil.
func NewStore(logger zerolog.Logger, recorder Recorder) *Store {
	return &Store{logger: logger, recorder: recorder}
}

// Register appends a step. Steps are not de-duplicated.
func (s *Store) Register(step Step) error {
	if step.Action == nil {
		return fmt.Errorf("plugin step %q has no action", step.Name)
	}
	if _, err := ParseMessage(string(step.Message)); err != nil {
		return err
	}
	if _, err := ParseStage(string(step.Stage)); err != nil {
		return err
	}

	if step.When != "" {
		program, err := expr.Compile(step.When, expr.AsBool(), expr.AllowUndefinedVariables())
		if err != nil {
			return fmt.Errorf("plugin step %q: compile when: %w", step.Name, err)
		}
		step.program = program
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen {
		return ErrFrozen
	}
	if step.Name == "" {
		step.Name = fmt.Sprintf("%s.%s#%d", step.Message, step.Stage, len(s.steps)+1)
	}
	s.steps = append(s.steps, &step)

	s.logger.Debug().
		Str("step", step.Name).
		Str("entity", step.Entity).
		Str("message", string(step.Message)).
		Str("stage", string(step.Stage)).
		Strs("attributes", step.Attributes).
		Msg("registered plugin step")

	return nil
}

// Freeze stops further registration.
func (s *Store) Freeze() {
	s.mu.Lock()
	s.frozen = true
	s.mu.Unlock()
}

// Frozen reports whether Freeze was called.
func (s *Store) Frozen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frozen
}

// Steps returns a copy of the registered steps in registration order.
func (s *Store) Steps() []Step {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Step, len(s.steps))
	for i, step := range s.steps {
		out[i] = *step
	}
	return out
}

// Execute runs every step matching the entity, message and stage of pc,
// in registration order. The first failing step stops the stage and its
// error is returned unchanged.
func (s *Store) Execute(ctx context.Context, pc *Context) error {
	s.mu.RLock()
	steps := s.steps
	s.mu.RUnlock()

	for _, step := range steps {
		if !step.matches(pc) {
			continue
		}

		if step.gated(pc) {
			s.record(pc, OutcomeSkipped)
			continue
		}

		if step.program != nil {
			ok, err := step.evaluate(pc)
			if err != nil {
				s.record(pc, OutcomeError)
				return err
			}
			if !ok {
				s.record(pc, OutcomeSkipped)
				continue
			}
		}

		if err := step.Action(ctx, pc); err != nil {
			s.record(pc, OutcomeError)
			s.logger.Debug().
				Err(err).
				Str("step", step.Name).
				Str("entity", pc.Entity).
				Msg("plugin step failed")
			return err
		}
		s.record(pc, OutcomeOK)
	}

	return nil
}

func (s *Store) record(pc *Context, outcome string) {
	if s.recorder != nil {
		s.recorder.RecordPluginStep(string(pc.Message), string(pc.Stage), outcome)
	}
}

func (s *Step) evaluate(pc *Context) (bool, error) {
	changed := pc.ChangedValues.Keys()

	env := map[string]any{
		"entity":   pc.Entity,
		"message":  string(pc.Message),
		"id":       pc.ID,
		"data":     map[string]any(pc.Data),
		"snapshot": map[string]any(pc.Snapshot),
		"changed":  changed,
	}

	out, err := expr.Run(s.program, env)
	if err != nil {
		return false, fmt.Errorf("plugin step %q: evaluate when: %w", s.Name, err)
	}
	ok, _ := out.(bool)
	return ok, nil
}
