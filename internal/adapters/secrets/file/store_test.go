package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bnema/arena-relay/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRejectsInvalidKeys(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	tests := []struct {
		name    string
		key     string
		wantErr string
	}{
		{name: "empty", key: "", wantErr: "secret key is empty"},
		{name: "whitespace", key: "   ", wantErr: "secret key is empty"},
		{name: "absolute", key: "/etc/passwd", wantErr: "invalid secret key"},
		{name: "traversal", key: "../escape", wantErr: "invalid secret key"},
		{name: "parent", key: "..", wantErr: "invalid secret key"},
		{name: "hidden", key: "solver/.api_key", wantErr: "invalid secret key"},
		{name: "uppercase", key: "Solver/API_KEY", wantErr: "invalid secret key"},
		{name: "empty segment", key: "solver//api_key", wantErr: "invalid secret key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := store.Put(context.Background(), tt.key, "value")
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestStoreRoundTripAndPermissions(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store := NewStore(root)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, ports.SecretKeySolverAPIKey, "top-secret\n"))

	got, err := store.Get(ctx, ports.SecretKeySolverAPIKey)
	require.NoError(t, err)
	assert.Equal(t, "top-secret", got)

	info, err := os.Stat(filepath.Join(root, ports.SecretKeySolverAPIKey))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(secretFileMode), info.Mode().Perm())
}

func TestStoreMissingAndDelete(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	ctx := context.Background()

	_, err := store.Get(ctx, "solver/api_key")
	require.ErrorIs(t, err, ports.ErrSecretNotFound)

	require.NoError(t, store.Delete(ctx, "solver/api_key"))
	require.NoError(t, store.Put(ctx, "solver/api_key", "v"))
	require.NoError(t, store.Delete(ctx, "solver/api_key"))
	_, err = store.Get(ctx, "solver/api_key")
	require.ErrorIs(t, err, ports.ErrSecretNotFound)
}

func TestStorePutReplacesWithoutLeavingStagingFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store := NewStore(root)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, ports.SecretKeySolverAPIKey, "first"))
	require.NoError(t, store.Put(ctx, ports.SecretKeySolverAPIKey, "second"))

	got, err := store.Get(ctx, ports.SecretKeySolverAPIKey)
	require.NoError(t, err)
	assert.Equal(t, "second", got)

	entries, err := os.ReadDir(filepath.Join(root, "solver"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "api_key", entries[0].Name())
}

func TestStoreTreatsBlankFileAsMissing(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store := NewStore(root)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "solver"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(root, "solver", "api_key"), []byte(" \n"), 0o600))

	_, err := store.Get(context.Background(), ports.SecretKeySolverAPIKey)
	require.ErrorIs(t, err, ports.ErrSecretNotFound)
	assert.Contains(t, err.Error(), "blank")
}

func TestStoreDeletePrunesEmptyDirectories(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store := NewStore(root)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "proxy/eu/password", "a"))
	require.NoError(t, store.Put(ctx, "proxy/us/password", "b"))
	require.NoError(t, store.Delete(ctx, "proxy/eu/password"))

	assert.NoDirExists(t, filepath.Join(root, "proxy", "eu"))
	assert.DirExists(t, filepath.Join(root, "proxy", "us"))
	assert.DirExists(t, root)

	require.NoError(t, store.Delete(ctx, "proxy/us/password"))
	assert.NoDirExists(t, filepath.Join(root, "proxy"))
	assert.DirExists(t, root)
}

func TestStoreHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, store.Put(ctx, ports.SecretKeySolverAPIKey, "v"), context.Canceled)
	_, err := store.Get(ctx, ports.SecretKeySolverAPIKey)
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, store.Delete(ctx, ports.SecretKeySolverAPIKey), context.Canceled)
}
