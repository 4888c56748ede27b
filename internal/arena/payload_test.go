package arena

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/bnema/arena-relay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func baseRequest() domain.InteractionRequest {
	return domain.InteractionRequest{
		RequestID: "req-1",
		Prompt:    "p",
		ModelA:    "model-a",
		ModelB:    "model-b",
	}
}

func TestRewriteReconstructsMessages(t *testing.T) {
	t.Parallel()

	req := baseRequest()
	req.History = []domain.Message{{ID: "u1", Role: domain.RoleUser, Content: "earlier"}}

	out, err := Rewrite([]byte(`{"id":"stale","messages":[]}`), req, RewriteOptions{NewID: sequentialIDs()})
	require.NoError(t, err)

	msgs, err := DecodeMessages(out.Body)
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	assert.Equal(t, "u1", msgs[0].ID)
	assert.Equal(t, domain.RoleUser, msgs[1].Role)
	assert.Equal(t, "p", msgs[1].Content)
	assert.Equal(t, []string{"u1"}, msgs[1].ParentMessageIDs)
	assert.Equal(t, domain.RoleAssistant, msgs[2].Role)
	assert.Equal(t, domain.SlotA, msgs[2].Slot)
	assert.Equal(t, domain.MessageStatusPending, msgs[2].Status)
	assert.Equal(t, domain.SlotB, msgs[3].Slot)
	assert.Equal(t, domain.MessageStatusPending, msgs[3].Status)

	ids := map[string]struct{}{}
	for _, m := range msgs {
		ids[m.ID] = struct{}{}
	}
	assert.Len(t, ids, 4)

	assert.Equal(t, msgs[2].ID, out.Transcript.ModelAMessageID)
	assert.Equal(t, msgs[3].ID, out.Transcript.ModelBMessageID)
	assert.Equal(t, msgs[1].ID, out.Transcript.UserMessageID)
}

func TestRewriteOverwritesOwnedFieldsAndKeepsTheRest(t *testing.T) {
	t.Parallel()

	template := `{"id":"stale","mode":"direct","modelAId":"x","recaptchaV3Token":"tok","extra":{"k":1}}`
	out, err := Rewrite([]byte(template), baseRequest(), RewriteOptions{NewID: sequentialIDs()})
	require.NoError(t, err)
	assert.False(t, out.TemplateDiscarded)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out.Body, &fields))

	assert.JSONEq(t, `"tok"`, string(fields["recaptchaV3Token"]))
	assert.JSONEq(t, `{"k":1}`, string(fields["extra"]))
	assert.JSONEq(t, `"side-by-side"`, string(fields["mode"]))
	assert.JSONEq(t, `"chat"`, string(fields["modality"]))
	assert.JSONEq(t, `"model-a"`, string(fields["modelAId"]))
	assert.JSONEq(t, `"model-b"`, string(fields["modelBId"]))
	assert.JSONEq(t, fmt.Sprintf("%q", out.Transcript.ConversationID), string(fields["id"]))
	assert.NotEqual(t, "stale", out.Transcript.ConversationID)
}

func TestRewriteKeepsConversationID(t *testing.T) {
	t.Parallel()

	req := baseRequest()
	req.ConversationID = "conv-9"
	out, err := Rewrite(nil, req, RewriteOptions{NewID: sequentialIDs()})
	require.NoError(t, err)
	assert.Equal(t, "conv-9", out.Transcript.ConversationID)
}

func TestRewriteInjectsSystemPromptOnce(t *testing.T) {
	t.Parallel()

	req := baseRequest()
	req.SystemPrompt = "be brief"

	out, err := Rewrite(nil, req, RewriteOptions{NewID: sequentialIDs()})
	require.NoError(t, err)
	msgs, err := DecodeMessages(out.Body)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, domain.RoleSystem, msgs[0].Role)
	assert.Equal(t, "be brief", msgs[0].Content)

	req.History = []domain.Message{{ID: "s0", Role: domain.RoleSystem, Content: "be brief"}}
	out, err = Rewrite(nil, req, RewriteOptions{NewID: sequentialIDs()})
	require.NoError(t, err)
	msgs, err = DecodeMessages(out.Body)
	require.NoError(t, err)

	systems := 0
	for _, m := range msgs {
		if m.Role == domain.RoleSystem {
			systems++
		}
	}
	assert.Equal(t, 1, systems)
	assert.Equal(t, "s0", msgs[0].ID)
}

func TestRewriteDiscardsInvalidTemplate(t *testing.T) {
	t.Parallel()

	out, err := Rewrite([]byte("not json"), baseRequest(), RewriteOptions{NewID: sequentialIDs()})
	require.NoError(t, err)
	assert.True(t, out.TemplateDiscarded)

	msgs, err := DecodeMessages(out.Body)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
}

func TestBuildTranscriptLinksTrailingAssistants(t *testing.T) {
	t.Parallel()

	req := baseRequest()
	req.History = []domain.Message{
		{ID: "u1", Role: domain.RoleUser, Content: "hi"},
		{ID: "a1", Role: domain.RoleAssistant, Slot: domain.SlotA},
		{ID: "b1", Role: domain.RoleAssistant, Slot: domain.SlotB},
	}
	tr := BuildTranscript(req, sequentialIDs())

	user := tr.Messages[3]
	assert.Equal(t, tr.UserMessageID, user.ID)
	assert.Equal(t, []string{"a1", "b1"}, user.ParentMessageIDs)
	assert.Equal(t, []string{user.ID}, tr.Messages[4].ParentMessageIDs)
	assert.Equal(t, tr.ModelBMessageID, tr.MessageIDFor(domain.SlotB))
}

func TestRewriteHeaders(t *testing.T) {
	t.Parallel()

	orig := map[string][]string{
		"Content-Length": {"10"},
		"X-Anti-Bot":     {"keep"},
		"Content-Type":   {"application/json"},
	}
	got := RewriteHeaders(orig, "secret")
	assert.Empty(t, got.Get("Content-Length"))
	assert.Equal(t, "keep", got.Get("X-Anti-Bot"))
	assert.Equal(t, "application/json", got.Get("Content-Type"))
	assert.Equal(t, "Bearer secret", got.Get("Authorization"))
	assert.Equal(t, "10", orig["Content-Length"][0])

	got = RewriteHeaders(nil, "")
	assert.Empty(t, got.Get("Authorization"))
}

func TestExtractCredential(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value string
		want  string
	}{
		{name: "missing", value: "", want: ""},
		{name: "bare token", value: "abc", want: "abc"},
		{name: "json session", value: `{"access_token":"tok-1"}`, want: "tok-1"},
		{name: "base64 session", value: "base64-eyJhY2Nlc3NfdG9rZW4iOiJ0b2stMiJ9", want: "tok-2"},
		{name: "bad base64", value: "base64-!!!", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ExtractCredential(map[string]string{"auth": tt.value}, "auth")
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchesEndpointAndAuthRejection(t *testing.T) {
	t.Parallel()

	assert.True(t, MatchesEndpoint("https://x.test/nextjs-api/stream/create-evaluation", "/stream/create-evaluation"))
	assert.False(t, MatchesEndpoint("https://x.test/other", "/stream/create-evaluation"))
	assert.False(t, MatchesEndpoint("https://x.test/other", ""))
	assert.True(t, IsAuthRejection(401))
	assert.True(t, IsAuthRejection(403))
	assert.False(t, IsAuthRejection(429))
}
