package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bnema/arena-relay/internal/adapters/httpapi"
	"github.com/bnema/arena-relay/internal/domain"
	"github.com/bnema/arena-relay/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRelay struct {
	events  []domain.StreamEvent
	resumed map[string]bool
	// coldPolls is how many status reads report the browser host as down.
	coldPolls atomic.Int32
}

func (s *stubRelay) Run(_ context.Context, _ domain.InteractionRequest, sink ports.EventSink) error {
	for _, e := range s.events {
		sink.Emit(e)
	}
	return nil
}

func (s *stubRelay) Cancel(string) bool    { return false }
func (s *stubRelay) Resume(id string) bool { return s.resumed[id] }

func (s *stubRelay) Snapshot() domain.PoolSnapshot {
	now := time.Now()
	return domain.PoolSnapshot{
		MaxPoolSize: 3,
		MaxTabs:     5,
		Live:        2,
		Idle:        1,
		InUse:       1,
		Sessions: []domain.SessionInfo{
			{ID: "s-1", InUse: true, RequestID: "req-1", CreatedAt: now.Add(-time.Minute), AcquiredAt: now, LeaseAt: now},
			{ID: "s-2", CreatedAt: now.Add(-2 * time.Minute)},
		},
		Host: domain.HostInfo{Connected: s.coldPolls.Add(-1) < 0, Profile: "chrome-windows", StartedAt: now.Add(-time.Hour), LastActivityAt: now, LiveSessions: 2},
	}
}

func (s *stubRelay) Pending() []string { return []string{"req-9"} }

func newStubRelay(t *testing.T, relay *stubRelay) string {
	t.Helper()
	srv := httptest.NewServer(httpapi.NewServer(httpapi.Config{}, relay, relay, relay).Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestVersionCommand(t *testing.T) {
	stdout, _, err := executeCLI(t, t.TempDir(), "version")
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(stdout))
}

func TestProfilesListFallsBackToBuiltins(t *testing.T) {
	stdout, _, err := executeCLI(t, t.TempDir(), "profiles", "list")
	require.NoError(t, err)
	for _, p := range domain.DefaultIdentityProfiles() {
		assert.Contains(t, stdout, p.Name)
	}
}

func TestProfilesInitWritesCatalogOnce(t *testing.T) {
	home := t.TempDir()

	stdout, _, err := executeCLI(t, home, "profiles", "init")
	require.NoError(t, err)
	assert.Contains(t, stdout, "profiles.toml")

	_, err = os.Stat(filepath.Join(home, "arena-relay", "profiles.toml"))
	require.NoError(t, err)

	_, _, err = executeCLI(t, home, "profiles", "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, _, err = executeCLI(t, home, "profiles", "init", "--force")
	require.NoError(t, err)
}

func TestProxiesAddThenListRedactsCredentials(t *testing.T) {
	home := t.TempDir()

	_, _, err := executeCLI(t, home,
		"proxies", "add",
		"--url", "http://proxy.local:3128",
		"--username", "alice",
		"--password", "hunter2",
	)
	require.NoError(t, err)

	stdout, _, err := executeCLI(t, home, "proxies", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "http://proxy.local:3128")
	assert.Contains(t, stdout, "target-compatible")
	assert.NotContains(t, stdout, "hunter2")
}

func TestProxiesAddRejectsUnsupportedScheme(t *testing.T) {
	_, _, err := executeCLI(t, t.TempDir(), "proxies", "add", "--url", "ftp://proxy.local")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported proxy scheme")
}

func TestSecretSetRequiresValueFlag(t *testing.T) {
	_, _, err := executeCLI(t, t.TempDir(), "secret", "set")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag(s) \"value\" not set")
}

func TestSecretSetThenDelete(t *testing.T) {
	home := t.TempDir()

	stdout, _, err := executeCLI(t, home, "secret", "set", "--value", "solver-key")
	require.NoError(t, err)
	assert.Contains(t, stdout, "stored "+ports.SecretKeySolverAPIKey)

	stdout, _, err = executeCLI(t, home, "secret", "delete")
	require.NoError(t, err)
	assert.Contains(t, stdout, "deleted "+ports.SecretKeySolverAPIKey)
}

func TestStatusRendersSnapshot(t *testing.T) {
	url := newStubRelay(t, &stubRelay{})

	stdout, _, err := executeCLI(t, t.TempDir(), "status", "--server", url)
	require.NoError(t, err)
	assert.Contains(t, stdout, "sessions: 2 live, 1 in use, 1 idle")
	assert.Contains(t, stdout, "chrome-windows")
	assert.Contains(t, stdout, "awaiting resume: req-9")
}

func TestStatusJSONOutput(t *testing.T) {
	url := newStubRelay(t, &stubRelay{})

	stdout, _, err := executeCLI(t, t.TempDir(), "status", "--server", url, "--json")
	require.NoError(t, err)
	require.True(t, json.Valid([]byte(stdout)))

	var body httpapi.StatusBody
	require.NoError(t, json.Unmarshal([]byte(stdout), &body))
	assert.Equal(t, 2, body.Live)
	assert.Equal(t, []string{"req-9"}, body.Pending)
}

func TestStatusUnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, _, err := executeCLI(t, t.TempDir(), "status", "--server", url, "--json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch status")
}

func TestStatusWaitPollsUntilHostReady(t *testing.T) {
	relay := &stubRelay{}
	relay.coldPolls.Store(2)
	url := newStubRelay(t, relay)

	stdout, _, err := executeCLI(t, t.TempDir(), "status", "--server", url, "--wait", "10s", "--json")
	require.NoError(t, err)

	var body httpapi.StatusBody
	require.NoError(t, json.Unmarshal([]byte(stdout), &body))
	assert.True(t, body.Host.Connected)
	assert.Less(t, relay.coldPolls.Load(), int32(0))
}

func TestStatusWaitGivesUp(t *testing.T) {
	relay := &stubRelay{}
	relay.coldPolls.Store(1000)
	url := newStubRelay(t, relay)

	_, _, err := executeCLI(t, t.TempDir(), "status", "--server", url, "--wait", "700ms")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay not ready after 700ms")
}

func TestAskStreamsBothModels(t *testing.T) {
	url := newStubRelay(t, &stubRelay{events: []domain.StreamEvent{
		domain.StatusEvent{Message: "session acquired"},
		domain.ModelChunkEvent{Slot: domain.SlotA, ModelID: "model-a", Content: "hello"},
		domain.ModelChunkEvent{Slot: domain.SlotB, ModelID: "model-b", Content: "world"},
		domain.ModelChunkEvent{Slot: domain.SlotB, ModelID: "model-b", FinishReason: "stop"},
		domain.StreamEndEvent{},
	}})

	stdout, stderr, err := executeCLI(t, t.TempDir(),
		"ask", "--server", url, "--model-a", "model-a", "--model-b", "model-b", "compare", "these",
	)
	require.NoError(t, err)
	assert.Contains(t, stdout, "[A model-a] hello")
	assert.Contains(t, stdout, "[B model-b] world (stop)")
	assert.Contains(t, stderr, "session acquired")
}

func TestAskJSONLines(t *testing.T) {
	url := newStubRelay(t, &stubRelay{events: []domain.StreamEvent{
		domain.ModelChunkEvent{Slot: domain.SlotA, ModelID: "model-a", Content: "hi"},
		domain.StreamEndEvent{},
	}})

	stdout, _, err := executeCLI(t, t.TempDir(),
		"ask", "--server", url, "--model-a", "model-a", "--model-b", "model-b", "--json", "hi",
	)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"type":"model_chunk"`)
	assert.Contains(t, lines[1], `"type":"stream_end"`)
}

func TestAskReturnsStreamError(t *testing.T) {
	url := newStubRelay(t, &stubRelay{events: []domain.StreamEvent{
		domain.ErrorEvent{Message: "retries exhausted"},
	}})

	_, _, err := executeCLI(t, t.TempDir(),
		"ask", "--server", url, "--model-a", "a", "--model-b", "b", "hi",
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retries exhausted")
}

func TestAskNoPromptPrintsResumeHint(t *testing.T) {
	url := newStubRelay(t, &stubRelay{events: []domain.StreamEvent{
		domain.UserActionRequiredEvent{RequestID: "req-7", Message: "verification required"},
		domain.StreamEndEvent{},
	}})

	_, stderr, err := executeCLI(t, t.TempDir(),
		"ask", "--server", url, "--model-a", "a", "--model-b", "b", "--no-prompt", "hi",
	)
	require.NoError(t, err)
	assert.Contains(t, stderr, "arena resume req-7")
}

func TestAskRequiresBothModels(t *testing.T) {
	_, _, err := executeCLI(t, t.TempDir(), "ask", "--model-a", "a", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model-b")
}

func TestResumeUnknownRequest(t *testing.T) {
	url := newStubRelay(t, &stubRelay{})

	_, _, err := executeCLI(t, t.TempDir(), "resume", "--server", url, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resume missing")
}

func TestResumeKnownRequest(t *testing.T) {
	url := newStubRelay(t, &stubRelay{resumed: map[string]bool{"req-7": true}})

	stdout, _, err := executeCLI(t, t.TempDir(), "resume", "--server", url, "req-7")
	require.NoError(t, err)
	assert.Contains(t, stdout, "resumed req-7")
}

func TestUnknownCommand(t *testing.T) {
	_, _, err := executeCLI(t, t.TempDir(), "login")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func executeCLI(t *testing.T, home string, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("HOME", home)
	t.Setenv("ARENA_CONFIG_DIR", filepath.Join(home, "arena-relay"))

	root := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}
