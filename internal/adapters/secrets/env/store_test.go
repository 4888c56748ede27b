package env

import (
	"context"
	"testing"

	"github.com/bnema/arena-relay/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreVariableName(t *testing.T) {
	t.Parallel()

	store := NewStore("")
	assert.Equal(t, "ARENA_SECRET_SOLVER_API_KEY", store.VariableName(ports.SecretKeySolverAPIKey))
	assert.Equal(t, "X_A_B_C", NewStore("X_").VariableName("a.b-c"))
}

func TestStoreGet(t *testing.T) {
	t.Parallel()

	store := NewStore("")
	store.lookup = func(name string) (string, bool) {
		if name == "ARENA_SECRET_SOLVER_API_KEY" {
			return "k-1", true
		}
		if name == "ARENA_SECRET_EMPTY" {
			return "", true
		}
		return "", false
	}

	got, err := store.Get(context.Background(), ports.SecretKeySolverAPIKey)
	require.NoError(t, err)
	assert.Equal(t, "k-1", got)

	_, err = store.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ports.ErrSecretNotFound)
	_, err = store.Get(context.Background(), "empty")
	require.ErrorIs(t, err, ports.ErrSecretNotFound)
}

func TestStoreIsReadOnly(t *testing.T) {
	t.Parallel()

	store := NewStore("")
	require.ErrorIs(t, store.Put(context.Background(), "k", "v"), ports.ErrSecretReadOnly)
	require.ErrorIs(t, store.Delete(context.Background(), "k"), ports.ErrSecretReadOnly)
}
