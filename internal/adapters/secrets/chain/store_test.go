package chain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bnema/arena-relay/internal/ports"
	portmocks "github.com/bnema/arena-relay/internal/ports/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const key = ports.SecretKeySolverAPIKey

func TestStoreRequiresBackends(t *testing.T) {
	t.Parallel()

	_, err := NewStore()
	require.Error(t, err)
	_, err = NewStore(nil)
	require.Error(t, err)
}

func TestStoreGetUsesFirstBackendThatAnswers(t *testing.T) {
	t.Parallel()

	first := portmocks.NewMockSecretStore(t)
	second := portmocks.NewMockSecretStore(t)
	store, err := NewStore(first, second)
	require.NoError(t, err)

	first.EXPECT().Get(mock.Anything, key).Return("", fmt.Errorf("env: %w", ports.ErrSecretNotFound)).Once()
	second.EXPECT().Get(mock.Anything, key).Return("from-file", nil).Once()

	value, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "from-file", value)
}

func TestStoreGetReportsNotFoundWhenEveryBackendMisses(t *testing.T) {
	t.Parallel()

	first := portmocks.NewMockSecretStore(t)
	second := portmocks.NewMockSecretStore(t)
	store, err := NewStore(first, second)
	require.NoError(t, err)

	first.EXPECT().Get(mock.Anything, key).Return("", ports.ErrSecretNotFound).Once()
	second.EXPECT().Get(mock.Anything, key).Return("", ports.ErrSecretNotFound).Once()

	_, err = store.Get(context.Background(), key)
	require.ErrorIs(t, err, ports.ErrSecretNotFound)
}

func TestStoreGetCombinesFailures(t *testing.T) {
	t.Parallel()

	first := portmocks.NewMockSecretStore(t)
	second := portmocks.NewMockSecretStore(t)
	store, err := NewStore(first, second)
	require.NoError(t, err)

	first.EXPECT().Get(mock.Anything, key).Return("", errors.New("env failed")).Once()
	second.EXPECT().Get(mock.Anything, key).Return("", errors.New("file failed")).Once()

	_, err = store.Get(context.Background(), key)
	require.ErrorContains(t, err, "env failed")
	require.ErrorContains(t, err, "file failed")
	assert.False(t, errors.Is(err, ports.ErrSecretNotFound))
}

func TestStoreGetStopsOnCancellation(t *testing.T) {
	t.Parallel()

	first := portmocks.NewMockSecretStore(t)
	second := portmocks.NewMockSecretStore(t)
	store, err := NewStore(first, second)
	require.NoError(t, err)

	first.EXPECT().Get(mock.Anything, key).Return("", context.Canceled).Once()

	_, err = store.Get(context.Background(), key)
	require.ErrorIs(t, err, context.Canceled)
}

func TestStorePutSkipsReadOnlyBackends(t *testing.T) {
	t.Parallel()

	first := portmocks.NewMockSecretStore(t)
	second := portmocks.NewMockSecretStore(t)
	store, err := NewStore(first, second)
	require.NoError(t, err)

	first.EXPECT().Put(mock.Anything, key, "v").Return(ports.ErrSecretReadOnly).Once()
	second.EXPECT().Put(mock.Anything, key, "v").Return(nil).Once()

	require.NoError(t, store.Put(context.Background(), key, "v"))
}

func TestStorePutAllReadOnly(t *testing.T) {
	t.Parallel()

	only := portmocks.NewMockSecretStore(t)
	store, err := NewStore(only)
	require.NoError(t, err)

	only.EXPECT().Put(mock.Anything, key, "v").Return(ports.ErrSecretReadOnly).Once()
	require.ErrorIs(t, store.Put(context.Background(), key, "v"), ports.ErrSecretReadOnly)
}

func TestStoreDeleteAppliesToWritableBackends(t *testing.T) {
	t.Parallel()

	first := portmocks.NewMockSecretStore(t)
	second := portmocks.NewMockSecretStore(t)
	store, err := NewStore(first, second)
	require.NoError(t, err)

	first.EXPECT().Delete(mock.Anything, key).Return(ports.ErrSecretReadOnly).Once()
	second.EXPECT().Delete(mock.Anything, key).Return(nil).Once()

	require.NoError(t, store.Delete(context.Background(), key))
}

func TestEnvFirstWithFileFallback(t *testing.T) {
	root := t.TempDir()
	t.Setenv("ARENA_SECRET_SOLVER_API_KEY", "")

	store, err := NewEnvFirstWithFileFallback(root)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, key, "from-file"))
	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "from-file", got)

	t.Setenv("ARENA_SECRET_SOLVER_API_KEY", "from-env")
	got, err = store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "from-env", got)
}
