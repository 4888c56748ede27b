package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInteractionRequestValidate(t *testing.T) {
	t.Parallel()

	valid := InteractionRequest{RequestID: "req-1", Prompt: "Hello", ModelA: "m1", ModelB: "m2"}

	tests := []struct {
		name    string
		mutate  func(r *InteractionRequest)
		wantErr string
	}{
		{name: "valid", mutate: func(*InteractionRequest) {}},
		{name: "missing request id", mutate: func(r *InteractionRequest) { r.RequestID = " " }, wantErr: "request id is required"},
		{name: "missing prompt", mutate: func(r *InteractionRequest) { r.Prompt = "" }, wantErr: "prompt is required"},
		{name: "missing model", mutate: func(r *InteractionRequest) { r.ModelB = "" }, wantErr: "two target models"},
		{
			name:    "bad history role",
			mutate:  func(r *InteractionRequest) { r.History = []Message{{ID: "x", Role: "tool"}} },
			wantErr: "unsupported message role",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			req := valid
			tc.mutate(&req)
			err := req.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidRequest)
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestInteractionRequestLeadsWithSystem(t *testing.T) {
	t.Parallel()

	req := InteractionRequest{}
	assert.False(t, req.LeadsWithSystem())

	req.History = []Message{{ID: "s", Role: RoleSystem, Content: "be brief"}, {ID: "u", Role: RoleUser}}
	assert.True(t, req.LeadsWithSystem())

	req.History = []Message{{ID: "u", Role: RoleUser}, {ID: "s", Role: RoleSystem}}
	assert.False(t, req.LeadsWithSystem())
}

func TestIsTimeout(t *testing.T) {
	t.Parallel()

	assert.False(t, IsTimeout(nil))
	assert.True(t, IsTimeout(fmt.Errorf("click: %w", ErrActionTimeout)))
	assert.True(t, IsTimeout(context.DeadlineExceeded))
	assert.True(t, IsTimeout(errors.New("page.goto: Timeout 60000ms exceeded")))
	assert.False(t, IsTimeout(errors.New("net::ERR_CONNECTION_REFUSED")))
}

func TestStreamEventKindsAndTerminality(t *testing.T) {
	t.Parallel()

	events := []StreamEvent{
		StatusEvent{Message: "navigating"},
		ModelChunkEvent{Slot: SlotA, ModelID: "m1", Content: "hi"},
		UserActionRequiredEvent{RequestID: "req-1", Message: "solve"},
		ErrorEvent{Message: "boom"},
		StreamEndEvent{},
	}
	kinds := make([]EventKind, 0, len(events))
	terminal := make([]bool, 0, len(events))
	for _, e := range events {
		kinds = append(kinds, e.Kind())
		terminal = append(terminal, IsTerminal(e))
	}

	assert.Equal(t, []EventKind{EventStatus, EventModelChunk, EventUserActionRequired, EventError, EventStreamEnd}, kinds)
	assert.Equal(t, []bool{false, false, false, true, true}, terminal)
}

func TestDefaultIdentityProfilesAreValid(t *testing.T) {
	t.Parallel()

	profiles := DefaultIdentityProfiles()
	require.NotEmpty(t, profiles)
	seen := map[string]struct{}{}
	for _, p := range profiles {
		require.NoError(t, p.Validate())
		_, dup := seen[p.Name]
		assert.False(t, dup, "duplicate profile %s", p.Name)
		seen[p.Name] = struct{}{}
	}
}
