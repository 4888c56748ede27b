// Package arena implements the comparison service's wire formats: the evaluation payload the page
// sends and the record stream it receives back.
package arena

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/bnema/arena-relay/internal/domain"
	"github.com/google/uuid"
)

const (
	DefaultMode     = "side-by-side"
	DefaultModality = "chat"
)

type wireMessage struct {
	ID                      string          `json:"id"`
	Role                    string          `json:"role"`
	Content                 string          `json:"content"`
	ExperimentalAttachments []any           `json:"experimental_attachments"`
	ParentMessageIDs        []string        `json:"parentMessageIds"`
	ParticipantPosition     string          `json:"participantPosition"`
	ModelID                 *string         `json:"modelId"`
	EvaluationSessionID     string          `json:"evaluationSessionId"`
	Status                  string          `json:"status"`
	FailureReason           json.RawMessage `json:"failureReason"`
}

type RewriteOptions struct {
	Mode     string
	Modality string
	NewID    func() string
}

// Transcript is the conversation the rewritten payload declares, with the ids minted for this turn.
type Transcript struct {
	ConversationID  string
	UserMessageID   string
	ModelAMessageID string
	ModelBMessageID string
	Messages        []domain.Message
}

// MessageIDFor returns the placeholder id bound to slot.
func (t Transcript) MessageIDFor(slot domain.Slot) string {
	if slot == domain.SlotB {
		return t.ModelBMessageID
	}
	return t.ModelAMessageID
}

type Rewritten struct {
	Body       []byte
	Transcript Transcript
	// TemplateDiscarded is set when the original body was not a JSON object.
	TemplateDiscarded bool
}

// BuildTranscript reconstructs the message sequence for req: an optional injected system message,
// the prior history verbatim, one new user message and two pending assistant placeholders.
func BuildTranscript(req domain.InteractionRequest, newID func() string) Transcript {
	if newID == nil {
		newID = uuid.NewString
	}
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = newID()
	}

	messages := make([]domain.Message, 0, len(req.History)+4)
	if req.SystemPrompt != "" && !req.LeadsWithSystem() {
		messages = append(messages, domain.Message{
			ID:      newID(),
			Role:    domain.RoleSystem,
			Content: req.SystemPrompt,
			Status:  domain.MessageStatusSuccess,
		})
	}
	messages = append(messages, req.History...)

	user := domain.Message{
		ID:               newID(),
		Role:             domain.RoleUser,
		Content:          req.Prompt,
		Status:           domain.MessageStatusPending,
		ParentMessageIDs: tailParents(messages),
	}
	modelA := placeholder(newID(), req.ModelA, domain.SlotA, user.ID)
	modelB := placeholder(newID(), req.ModelB, domain.SlotB, user.ID)
	messages = append(messages, user, modelA, modelB)

	return Transcript{
		ConversationID:  conversationID,
		UserMessageID:   user.ID,
		ModelAMessageID: modelA.ID,
		ModelBMessageID: modelB.ID,
		Messages:        messages,
	}
}

func placeholder(id, model string, slot domain.Slot, parent string) domain.Message {
	return domain.Message{
		ID:               id,
		Role:             domain.RoleAssistant,
		ModelID:          model,
		Slot:             slot,
		Status:           domain.MessageStatusPending,
		ParentMessageIDs: []string{parent},
	}
}

// tailParents links the new user turn to the previous turn: every trailing assistant reply, or the
// last message when the history does not end on assistant replies.
func tailParents(history []domain.Message) []string {
	if len(history) == 0 {
		return []string{}
	}
	var parents []string
	for i := len(history) - 1; i >= 0 && history[i].Role == domain.RoleAssistant; i-- {
		parents = append([]string{history[i].ID}, parents...)
	}
	if len(parents) == 0 {
		parents = []string{history[len(history)-1].ID}
	}
	return parents
}

// Rewrite treats original as a template and overwrites every field that carries conversation state.
// Fields it does not own, anti-automation tokens included, are forwarded unchanged.
func Rewrite(original []byte, req domain.InteractionRequest, opts RewriteOptions) (Rewritten, error) {
	if opts.Mode == "" {
		opts.Mode = DefaultMode
	}
	if opts.Modality == "" {
		opts.Modality = DefaultModality
	}

	template := map[string]json.RawMessage{}
	discarded := false
	if trimmed := bytes.TrimSpace(original); len(trimmed) > 0 {
		if err := json.Unmarshal(trimmed, &template); err != nil || template == nil {
			template = map[string]json.RawMessage{}
			discarded = true
		}
	}

	transcript := BuildTranscript(req, opts.NewID)

	wire := make([]wireMessage, 0, len(transcript.Messages))
	for _, msg := range transcript.Messages {
		wire = append(wire, toWire(msg, transcript.ConversationID))
	}

	fields := map[string]any{
		"id":              transcript.ConversationID,
		"mode":            opts.Mode,
		"modality":        opts.Modality,
		"modelAId":        req.ModelA,
		"modelBId":        req.ModelB,
		"userMessageId":   transcript.UserMessageID,
		"modelAMessageId": transcript.ModelAMessageID,
		"modelBMessageId": transcript.ModelBMessageID,
		"messages":        wire,
	}
	for key, value := range fields {
		raw, err := json.Marshal(value)
		if err != nil {
			return Rewritten{}, fmt.Errorf("encode %s: %w", key, err)
		}
		template[key] = raw
	}

	body, err := json.Marshal(template)
	if err != nil {
		return Rewritten{}, fmt.Errorf("encode payload: %w", err)
	}

	return Rewritten{Body: body, Transcript: transcript, TemplateDiscarded: discarded}, nil
}

func toWire(msg domain.Message, conversationID string) wireMessage {
	status := msg.Status
	if status == "" {
		status = domain.MessageStatusSuccess
	}
	parents := msg.ParentMessageIDs
	if parents == nil {
		parents = []string{}
	}
	var modelID *string
	if msg.ModelID != "" {
		id := msg.ModelID
		modelID = &id
	}
	return wireMessage{
		ID:                      msg.ID,
		Role:                    string(msg.Role),
		Content:                 msg.Content,
		ExperimentalAttachments: []any{},
		ParentMessageIDs:        parents,
		ParticipantPosition:     participantPosition(msg),
		ModelID:                 modelID,
		EvaluationSessionID:     conversationID,
		Status:                  string(status),
		FailureReason:           json.RawMessage("null"),
	}
}

func participantPosition(msg domain.Message) string {
	if msg.Role == domain.RoleAssistant && msg.Slot.Valid() {
		return string(msg.Slot)
	}
	return string(domain.SlotA)
}

// DecodeMessages parses the message list of an encoded payload back into domain messages.
func DecodeMessages(body []byte) ([]domain.Message, error) {
	var envelope struct {
		Messages []wireMessage `json:"messages"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode payload messages: %w", err)
	}

	out := make([]domain.Message, 0, len(envelope.Messages))
	for _, w := range envelope.Messages {
		msg := domain.Message{
			ID:               w.ID,
			Role:             domain.Role(w.Role),
			Content:          w.Content,
			Status:           domain.MessageStatus(w.Status),
			ParentMessageIDs: w.ParentMessageIDs,
		}
		if w.ModelID != nil {
			msg.ModelID = *w.ModelID
		}
		if msg.Role == domain.RoleAssistant {
			msg.Slot = domain.Slot(w.ParticipantPosition)
		}
		out = append(out, msg)
	}
	return out, nil
}
