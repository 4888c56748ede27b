package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bnema/arena-relay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryRegistryResumeReleasesWaiter(t *testing.T) {
	t.Parallel()

	registry := NewRetryRegistry()
	w, err := registry.Register("r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, registry.Pending())

	result := make(chan Outcome, 1)
	go func() {
		outcome, err := w.Wait(context.Background())
		assert.NoError(t, err)
		result <- outcome
	}()

	assert.True(t, registry.Resume("r1"))
	select {
	case outcome := <-result:
		assert.Equal(t, OutcomeResumed, outcome)
	case <-time.After(time.Second):
		t.Fatal("waiter was not released")
	}
	assert.Empty(t, registry.Pending())
}

func TestRetryRegistryResumeWithoutWaiter(t *testing.T) {
	t.Parallel()

	registry := NewRetryRegistry()
	assert.False(t, registry.Resume("missing"))
	assert.False(t, registry.Cancel("missing"))
}

func TestRetryRegistryDuplicateRegister(t *testing.T) {
	t.Parallel()

	registry := NewRetryRegistry()
	_, err := registry.Register("r1")
	require.NoError(t, err)

	_, err = registry.Register("r1")
	require.ErrorIs(t, err, domain.ErrWaiterExists)
}

func TestRetryRegistryConcurrentResumeSucceedsOnce(t *testing.T) {
	t.Parallel()

	registry := NewRetryRegistry()
	_, err := registry.Register("r1")
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if registry.Resume("r1") {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}

func TestRetryRegistryCancel(t *testing.T) {
	t.Parallel()

	registry := NewRetryRegistry()
	w, err := registry.Register("r1")
	require.NoError(t, err)

	assert.True(t, registry.Cancel("r1"))
	outcome, err := w.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, outcome)
	assert.False(t, registry.Resume("r1"))
}

func TestRetryRegistryWaitHonoursContext(t *testing.T) {
	t.Parallel()

	registry := NewRetryRegistry()
	w, err := registry.Register("r1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = w.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)

	registry.Remove("r1")
	assert.Empty(t, registry.Pending())
	assert.False(t, registry.Resume("r1"))
}
