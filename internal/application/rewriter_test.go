package application

import (
	"context"
	"testing"
	"time"

	"github.com/bnema/arena-relay/internal/domain"
	"github.com/bnema/arena-relay/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func armedPage(t *testing.T, sub submission) (*fakePage, *Binding, *recordingSink) {
	t.Helper()

	page := newFakePage("page-1", newScript(sub))
	t.Cleanup(func() { _ = page.Close(context.Background()) })
	sink := &recordingSink{}

	rewriter := NewRewriter(RewriterConfig{APIPattern: testAPIPattern, CredentialKey: testCredentialKey})
	binding, err := rewriter.Arm(context.Background(), page, testRequest("r1"), sink)
	require.NoError(t, err)
	t.Cleanup(func() { _ = binding.Close() })
	return page, binding, sink
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("channel was not closed")
	}
}

func TestBindingRewritesAndDecodes(t *testing.T) {
	t.Parallel()

	page, binding, sink := armedPage(t, submission{body: completedBody})
	_, ok := binding.Transcript()
	assert.False(t, ok)

	require.NoError(t, page.submit(context.Background()))
	waitClosed(t, binding.Intercepted())
	waitClosed(t, binding.Done())

	require.NoError(t, binding.Err())
	assert.False(t, binding.AuthRejected())
	assert.Len(t, chunks(sink.Events()), 4)

	transcript, ok := binding.Transcript()
	require.True(t, ok)
	assert.Len(t, transcript.Messages, 3)
	assert.NotEmpty(t, transcript.ModelAMessageID)
}

func TestBindingFlagsAuthRejection(t *testing.T) {
	t.Parallel()

	page, binding, sink := armedPage(t, submission{status: 403})
	require.NoError(t, page.submit(context.Background()))
	waitClosed(t, binding.Done())

	assert.True(t, binding.AuthRejected())
	require.ErrorIs(t, binding.Err(), ErrAuthRejected)
	assert.Empty(t, sink.Events())
}

func TestBindingReportsErrorStatus(t *testing.T) {
	t.Parallel()

	page, binding, sink := armedPage(t, submission{status: 500})
	require.NoError(t, page.submit(context.Background()))
	waitClosed(t, binding.Done())

	require.Error(t, binding.Err())
	assert.Equal(t, []domain.EventKind{domain.EventStatus}, sink.Kinds())
}

func TestBindingCloseStopsDelivery(t *testing.T) {
	t.Parallel()

	page, binding, sink := armedPage(t, submission{body: completedBody})
	require.NoError(t, binding.Close())
	require.NoError(t, binding.Close())

	require.NoError(t, page.submit(context.Background()))
	page.inflight.Wait()
	assert.Empty(t, sink.Events())
}

func TestBindingIgnoresOtherRequests(t *testing.T) {
	t.Parallel()

	page, binding, _ := armedPage(t, submission{})
	page.mu.Lock()
	intercept := page.intercept
	page.mu.Unlock()

	in := ports.InterceptedRequest{URL: "https://arena.test/other", Method: "POST", Body: []byte(`{}`)}
	out, err := intercept.onRequest(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	select {
	case <-binding.Intercepted():
		t.Fatal("unrelated request marked as intercepted")
	default:
	}
}
