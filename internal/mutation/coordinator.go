// Package mutation implements optimistic updates: a change is shown locally
// right away, the network call runs, and the change is either committed
// (possibly replaced by server data) or rolled back to the exact prior value.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"recipe-client/internal/backend"
	"recipe-client/internal/metrics"

	"github.com/rs/zerolog/log"
)

// State is the lifecycle position of one target.
type State int

const (
	Idle State = iota
	Applying
	Settling
	Committed
	RolledBack
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Applying:
		return "applying"
	case Settling:
		return "settling"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type rejection string

func (r rejection) Error() string       { return string(r) }
func (r rejection) UserMessage() string { return "Please wait for the previous change to finish." }

// ErrInFlight is returned when a target already has a mutation settling.
var ErrInFlight error = rejection("mutation already in flight for target")

// Outcome is what a successful network action hands back.
type Outcome[T any] struct {
	// Value, when set, is server-authoritative and replaces the optimistic value.
	Value *T
	// Target, when set, is the server identifier the value is stored under
	// from now on (a created entity replacing its placeholder).
	Target string
}

// Request describes one optimistic mutation.
type Request[T any] struct {
	Target string
	// Kind labels the mutation in logs and metrics ("like", "follow", ...).
	Kind string
	// Apply computes the optimistic value from the displayed one. It must not
	// modify its argument: the argument is the rollback snapshot.
	Apply func(current T) T
	// Remove shows the target as removed instead of calling Apply.
	Remove bool
	// Action performs the network call for the optimistic value pending. It
	// always runs to completion. pending is the zero value for removals.
	Action func(ctx context.Context, pending T) (Outcome[T], error)
	// AlreadyApplied reports errors meaning the server was already in the
	// desired state. Defaults to a 304 answer.
	AlreadyApplied func(error) bool
}

// Record describes a mutation after it settled (or was rejected).
type Record[T any] struct {
	Target      string
	Previous    T
	HadPrevious bool
	Pending     T
	InFlight    bool
	State       State
}

// Observer is told about every settled mutation.
type Observer func(kind, target string, state State, latency time.Duration, err error)

// Option configures a Coordinator.
type Option func(*options)

type options struct {
	observer Observer
}

// WithObserver registers an observer for settled mutations.
func WithObserver(o Observer) Option {
	return func(opts *options) {
		opts.observer = o
	}
}

// Coordinator runs optimistic mutations against a Store, allowing at most one
// in-flight mutation per target.
type Coordinator[T any] struct {
	store    *Store[T]
	observer Observer

	mu     sync.Mutex
	states map[string]State
}

// NewCoordinator creates a Coordinator over store.
func NewCoordinator[T any](store *Store[T], opts ...Option) *Coordinator[T] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	return &Coordinator[T]{
		store:    store,
		observer: o.observer,
		states:   make(map[string]State),
	}
}

// Store returns the store the coordinator writes to.
func (c *Coordinator[T]) Store() *Store[T] {
	return c.store
}

// State returns the lifecycle state of target.
func (c *Coordinator[T]) State(target string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[target]
}

// InFlight reports whether target has a mutation that has not settled.
func (c *Coordinator[T]) InFlight(target string) bool {
	s := c.State(target)
	return s == Applying || s == Settling
}

// Trigger applies req optimistically, runs its action and settles. It blocks
// until the action returns. The action gets a context that is not cancelled
// with ctx so an optimistic value is never left behind unsettled.
func (c *Coordinator[T]) Trigger(ctx context.Context, req Request[T]) (Record[T], error) {
	if req.Action == nil || (req.Apply == nil && !req.Remove) {
		return Record[T]{Target: req.Target}, fmt.Errorf("mutation %q for %s: missing apply or action", req.Kind, req.Target)
	}

	c.mu.Lock()
	if s := c.states[req.Target]; s == Applying || s == Settling {
		c.mu.Unlock()
		log.Debug().Str("kind", req.Kind).Str("target", req.Target).Msg("mutation rejected, target busy")
		return Record[T]{Target: req.Target, InFlight: true, State: s}, ErrInFlight
	}
	c.states[req.Target] = Applying
	c.mu.Unlock()

	previous, had := c.store.Get(req.Target)
	rec := Record[T]{Target: req.Target, Previous: previous, HadPrevious: had, InFlight: true}

	if req.Remove {
		c.store.remove(req.Target, Applying)
	} else {
		rec.Pending = req.Apply(previous)
		c.store.put(req.Target, rec.Pending, Applying)
	}
	c.setState(req.Target, Settling)

	start := time.Now()
	outcome, err := req.Action(context.WithoutCancel(ctx), rec.Pending)
	if err != nil && alreadyApplied(req, err) {
		log.Debug().Str("kind", req.Kind).Str("target", req.Target).Msg("server already in requested state")
		outcome, err = Outcome[T]{}, nil
	}
	latency := time.Since(start)
	rec.InFlight = false

	if err != nil {
		if had {
			c.store.put(req.Target, previous, RolledBack)
		} else {
			c.store.remove(req.Target, RolledBack)
		}
		c.setState(req.Target, RolledBack)
		rec.State = RolledBack

		log.Warn().Err(err).Str("kind", req.Kind).Str("target", req.Target).Msg("mutation rolled back")
		c.observe(req, RolledBack, latency, err)
		return rec, err
	}

	c.commit(req, rec, outcome)
	rec.State = Committed
	if outcome.Value != nil {
		rec.Pending = *outcome.Value
	}
	c.observe(req, Committed, latency, nil)
	return rec, nil
}

func (c *Coordinator[T]) commit(req Request[T], rec Record[T], outcome Outcome[T]) {
	key := req.Target
	if outcome.Target != "" && outcome.Target != req.Target {
		key = outcome.Target
		c.store.remove(req.Target, Committed)
		c.mu.Lock()
		delete(c.states, req.Target)
		c.mu.Unlock()
	}

	switch {
	case outcome.Value != nil:
		c.store.put(key, *outcome.Value, Committed)
	case !req.Remove:
		c.store.put(key, rec.Pending, Committed)
	}
	c.setState(key, Committed)
}

func (c *Coordinator[T]) setState(target string, s State) {
	c.mu.Lock()
	c.states[target] = s
	c.mu.Unlock()
}

func (c *Coordinator[T]) observe(req Request[T], state State, latency time.Duration, err error) {
	metrics.ObserveMutation(req.Kind, state.String(), latency)
	if c.observer != nil {
		c.observer(req.Kind, req.Target, state, latency, err)
	}
}

func alreadyApplied[T any](req Request[T], err error) bool {
	if req.AlreadyApplied != nil {
		return req.AlreadyApplied(err)
	}
	return backend.IsKind(err, backend.KindNotModified)
}

// IsInFlight reports whether err is the busy-target rejection.
func IsInFlight(err error) bool {
	return errors.Is(err, ErrInFlight)
}
