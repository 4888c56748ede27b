package application

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bnema/arena-relay/internal/domain"
	arenalog "github.com/bnema/arena-relay/internal/log"
	"github.com/rs/zerolog"
)

// Outcome is how a parked interaction was released.
type Outcome string

const (
	OutcomeResumed   Outcome = "resumed"
	OutcomeCancelled Outcome = "cancelled"
)

// Waiter is a one-shot signal an interaction parks on until an operator acts.
type Waiter struct {
	requestID string
	once      sync.Once
	outcome   Outcome
	done      chan struct{}
}

func (w *Waiter) RequestID() string { return w.requestID }

func (w *Waiter) Done() <-chan struct{} { return w.done }

// Wait blocks until the waiter is resolved or ctx ends. There is no built-in timeout.
func (w *Waiter) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-w.done:
		return w.outcome, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (w *Waiter) resolve(outcome Outcome) bool {
	resolved := false
	w.once.Do(func() {
		w.outcome = outcome
		close(w.done)
		resolved = true
	})
	return resolved
}

// RetryRegistry maps request ids to parked interactions.
type RetryRegistry struct {
	mu      sync.Mutex
	waiters map[string]*Waiter
	logger  zerolog.Logger
}

func NewRetryRegistry() *RetryRegistry {
	return &RetryRegistry{
		waiters: make(map[string]*Waiter),
		logger:  arenalog.WithComponent("retry_registry"),
	}
}

func (r *RetryRegistry) Register(requestID string) (*Waiter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.waiters[requestID]; ok {
		return nil, fmt.Errorf("register %s: %w", requestID, domain.ErrWaiterExists)
	}
	w := &Waiter{requestID: requestID, done: make(chan struct{})}
	r.waiters[requestID] = w
	return w, nil
}

// Resume releases the waiter for requestID. It reports false when nothing is parked under that
// id, including when another resume already consumed it.
func (r *RetryRegistry) Resume(requestID string) bool {
	return r.resolve(requestID, OutcomeResumed)
}

func (r *RetryRegistry) Cancel(requestID string) bool {
	return r.resolve(requestID, OutcomeCancelled)
}

func (r *RetryRegistry) resolve(requestID string, outcome Outcome) bool {
	r.mu.Lock()
	w, ok := r.waiters[requestID]
	if ok {
		delete(r.waiters, requestID)
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Debug().Str(arenalog.FieldRequestID, requestID).Str("outcome", string(outcome)).Msg("no pending waiter")
		return false
	}
	w.resolve(outcome)
	r.logger.Info().Str(arenalog.FieldRequestID, requestID).Str("outcome", string(outcome)).Msg("waiter resolved")
	return true
}

// Remove drops the entry for requestID without resolving it.
func (r *RetryRegistry) Remove(requestID string) {
	r.mu.Lock()
	delete(r.waiters, requestID)
	r.mu.Unlock()
}

func (r *RetryRegistry) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.waiters))
	for id := range r.waiters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
