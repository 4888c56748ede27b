package toml

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bnema/arena-relay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileRepositoryDefaultsWhenMissing(t *testing.T) {
	t.Parallel()

	repo, err := NewProfileRepository(filepath.Join(t.TempDir(), "profiles.toml"))
	require.NoError(t, err)

	profiles, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultIdentityProfiles(), profiles)
}

func TestProfileRepositoryRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "profiles.toml")
	repo, err := NewProfileRepository(path)
	require.NoError(t, err)

	want := []domain.IdentityProfile{{
		Name:        "firefox-linux",
		UserAgent:   "Mozilla/5.0 (X11; Linux x86_64; rv:133.0) Gecko/20100101 Firefox/133.0",
		Platform:    "Linux",
		Locale:      "de-DE",
		Viewport:    domain.Viewport{Width: 1280, Height: 720},
		ClientHints: map[string]string{"sec-ch-ua-mobile": "?0"},
	}}
	require.NoError(t, repo.SaveAll(context.Background(), want))

	got, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(catalogFileMode), info.Mode().Perm())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "version = 1")
}

func TestProfileRepositoryRejectsInvalidProfile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "profiles.toml")
	require.NoError(t, os.WriteFile(path, []byte("version = 1\n[[profiles]]\nname = \"broken\"\nwidth = 10\nheight = 10\n"), 0o600))

	repo, err := NewProfileRepository(path)
	require.NoError(t, err)

	_, err = repo.List(context.Background())
	require.ErrorContains(t, err, "user agent is required")

	err = repo.SaveAll(context.Background(), []domain.IdentityProfile{{Name: "x"}})
	require.Error(t, err)
}

func TestCatalogFutureSchemaVersionReturnsError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	profilesPath := filepath.Join(dir, "profiles.toml")
	proxiesPath := filepath.Join(dir, "proxies.toml")
	require.NoError(t, os.WriteFile(profilesPath, []byte("version = 99\n"), 0o600))
	require.NoError(t, os.WriteFile(proxiesPath, []byte("version = 99\n"), 0o600))

	profiles, err := NewProfileRepository(profilesPath)
	require.NoError(t, err)
	_, err = profiles.List(context.Background())
	require.ErrorContains(t, err, "unsupported profiles schema version 99")

	proxies, err := NewProxyRepository(proxiesPath)
	require.NoError(t, err)
	_, err = proxies.List(context.Background())
	require.ErrorContains(t, err, "unsupported proxies schema version 99")
}

func TestCatalogMalformedTOMLReturnsError(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "proxies.toml")
	require.NoError(t, os.WriteFile(path, []byte("[[proxies]\n"), 0o600))

	repo, err := NewProxyRepository(path)
	require.NoError(t, err)
	_, err = repo.List(context.Background())
	require.ErrorContains(t, err, "decode proxies file")
}

func TestProxyRepositoryAddAndList(t *testing.T) {
	t.Parallel()

	repo, err := NewProxyRepository(filepath.Join(t.TempDir(), "proxies.toml"))
	require.NoError(t, err)
	ctx := context.Background()

	empty, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	first := domain.ProxyDescriptor{URL: "http://one.test:8080", TargetCompatible: true}
	second := domain.ProxyDescriptor{URL: "socks5://two.test:1080", Username: "u", Password: "p"}
	require.NoError(t, repo.Add(ctx, first))
	require.NoError(t, repo.Add(ctx, second))

	updated := first
	updated.TargetCompatible = false
	require.NoError(t, repo.Add(ctx, updated))

	got, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.ProxyDescriptor{updated, second}, got)

	require.Error(t, repo.Add(ctx, domain.ProxyDescriptor{URL: "ftp://bad.test"}))
}

func TestProxyRepositoryConcurrentAddsAcrossInstances(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "proxies.toml")
	a, err := NewProxyRepository(path)
	require.NoError(t, err)
	b, err := NewProxyRepository(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, a.Add(context.Background(), domain.ProxyDescriptor{URL: "http://a.test:1"}))
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, b.Add(context.Background(), domain.ProxyDescriptor{URL: "http://b.test:1"}))
	}()
	wg.Wait()

	got, err := a.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRepositoriesHonourCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	profiles, err := NewProfileRepository(filepath.Join(t.TempDir(), "profiles.toml"))
	require.NoError(t, err)
	_, err = profiles.List(ctx)
	require.ErrorIs(t, err, context.Canceled)

	proxies, err := NewProxyRepository(filepath.Join(t.TempDir(), "proxies.toml"))
	require.NoError(t, err)
	require.ErrorIs(t, proxies.Add(ctx, domain.ProxyDescriptor{URL: "http://a.test:1"}), context.Canceled)
}
