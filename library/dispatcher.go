package library

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Dispatcher is the only way to change the circulation state.
// It applies one action at a time to completion, hands every resulting snapshot to
// the persistence sync, and returns the committed result to the caller.
type Dispatcher struct {
	mu        sync.Mutex
	state     State
	persist   *PersistenceSync
	logger    *slog.Logger
	observers []func(Result)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger used for dispatch tracing.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher starts from initial. persist may be nil to disable persistence.
func NewDispatcher(initial State, persist *PersistenceSync, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		state:   initial,
		persist: persist,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// State returns the last committed snapshot.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Subscribe registers fn to be called with every committed result.
// Observers run on the dispatching goroutine and must not dispatch.
func (d *Dispatcher) Subscribe(fn func(Result)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, fn)
}

// Dispatch applies a to the current state.
func (d *Dispatcher) Dispatch(ctx context.Context, a Action) Result {
	_, res := d.dispatch(ctx, a)
	return res
}

// dispatch is Dispatch that also returns the snapshot the action was applied to.
func (d *Dispatcher) dispatch(ctx context.Context, a Action) (State, Result) {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev := d.state
	res := Transition(prev, a)
	d.state = res.State
	if d.persist != nil {
		d.persist.Enqueue(res.State)
	}

	switch res.Outcome {
	case OutcomeRejected:
		d.logger.InfoContext(ctx, "action rejected", "action", res.Action, "reason", res.Err)
	default:
		d.logger.DebugContext(ctx, "action dispatched", "action", res.Action, "outcome", res.Outcome, "version", res.State.Version)
	}

	for _, fn := range d.observers {
		fn(res)
	}
	return prev, res
}

// DispatchJSON decodes a {"type", "payload"} action and dispatches it.
// An unrecognised type is an identity transition, not an error.
func (d *Dispatcher) DispatchJSON(ctx context.Context, data []byte) (Result, error) {
	a, err := DecodeAction(data)
	if errors.Is(err, ErrUnknownAction) {
		d.logger.WarnContext(ctx, "ignoring unknown action", "err", err)
		return d.Dispatch(ctx, nil), nil
	}
	if err != nil {
		return Result{State: d.State(), Outcome: OutcomeUnchanged}, err
	}
	return d.Dispatch(ctx, a), nil
}
