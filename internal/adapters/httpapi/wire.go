package httpapi

import (
	"time"

	"github.com/bnema/arena-relay/internal/domain"
)

type MessageBody struct {
	ID               string   `json:"id"`
	Role             string   `json:"role"`
	Content          string   `json:"content"`
	ModelID          string   `json:"model_id,omitempty"`
	Slot             string   `json:"slot,omitempty"`
	Status           string   `json:"status,omitempty"`
	ParentMessageIDs []string `json:"parent_message_ids,omitempty"`
}

type InteractionBody struct {
	RequestID      string        `json:"request_id,omitempty"`
	Prompt         string        `json:"prompt"`
	SystemPrompt   string        `json:"system_prompt,omitempty"`
	ModelA         string        `json:"model_a"`
	ModelB         string        `json:"model_b"`
	ConversationID string        `json:"conversation_id,omitempty"`
	History        []MessageBody `json:"history,omitempty"`
	Priority       bool          `json:"priority,omitempty"`
}

func (b InteractionBody) toDomain() domain.InteractionRequest {
	history := make([]domain.Message, 0, len(b.History))
	for _, m := range b.History {
		history = append(history, domain.Message{
			ID:               m.ID,
			Role:             domain.Role(m.Role),
			Content:          m.Content,
			ModelID:          m.ModelID,
			Slot:             domain.Slot(m.Slot),
			Status:           domain.MessageStatus(m.Status),
			ParentMessageIDs: m.ParentMessageIDs,
		})
	}
	return domain.InteractionRequest{
		RequestID:      b.RequestID,
		Prompt:         b.Prompt,
		SystemPrompt:   b.SystemPrompt,
		ModelA:         b.ModelA,
		ModelB:         b.ModelB,
		ConversationID: b.ConversationID,
		History:        history,
		Priority:       b.Priority,
	}
}

// EventBody is the data payload of one SSE frame; the frame's event name repeats Type.
type EventBody struct {
	Type         string `json:"type"`
	Slot         string `json:"slot,omitempty"`
	ModelID      string `json:"model_id,omitempty"`
	Content      string `json:"content,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
	RequestID    string `json:"request_id,omitempty"`
	Message      string `json:"message,omitempty"`
}

func EncodeEvent(e domain.StreamEvent) EventBody {
	body := EventBody{Type: string(e.Kind())}
	switch ev := e.(type) {
	case domain.StatusEvent:
		body.Message = ev.Message
	case domain.ModelChunkEvent:
		body.Slot = string(ev.Slot)
		body.ModelID = ev.ModelID
		body.Content = ev.Content
		body.FinishReason = ev.FinishReason
	case domain.UserActionRequiredEvent:
		body.RequestID = ev.RequestID
		body.Message = ev.Message
	case domain.ErrorEvent:
		body.Message = ev.Message
	}
	return body
}

// Event converts the body back into a stream event. Unknown types yield false.
func (b EventBody) Event() (domain.StreamEvent, bool) {
	switch domain.EventKind(b.Type) {
	case domain.EventStatus:
		return domain.StatusEvent{Message: b.Message}, true
	case domain.EventModelChunk:
		return domain.ModelChunkEvent{Slot: domain.Slot(b.Slot), ModelID: b.ModelID, Content: b.Content, FinishReason: b.FinishReason}, true
	case domain.EventUserActionRequired:
		return domain.UserActionRequiredEvent{RequestID: b.RequestID, Message: b.Message}, true
	case domain.EventError:
		return domain.ErrorEvent{Message: b.Message}, true
	case domain.EventStreamEnd:
		return domain.StreamEndEvent{}, true
	default:
		return nil, false
	}
}

type SessionBody struct {
	ID         string    `json:"id"`
	InUse      bool      `json:"in_use"`
	RequestID  string    `json:"request_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	AcquiredAt time.Time `json:"acquired_at,omitzero"`
	LeaseAt    time.Time `json:"lease_at,omitzero"`
}

type HostBody struct {
	Connected        bool      `json:"connected"`
	StartedAt        time.Time `json:"started_at,omitzero"`
	LastActivityAt   time.Time `json:"last_activity_at,omitzero"`
	Profile          string    `json:"profile,omitempty"`
	LiveSessions     int       `json:"live_sessions"`
	ConsecutiveFails int       `json:"consecutive_failures"`
	Restarts         int       `json:"restarts"`
}

type StatusBody struct {
	MaxPoolSize int           `json:"max_pool_size"`
	MaxTabs     int           `json:"max_tabs"`
	Live        int           `json:"live"`
	Idle        int           `json:"idle"`
	InUse       int           `json:"in_use"`
	Creating    int           `json:"creating"`
	Queued      int           `json:"queued"`
	Sessions    []SessionBody `json:"sessions"`
	Host        HostBody      `json:"host"`
	Pending     []string      `json:"pending_resumes"`
}

func NewStatusBody(snap domain.PoolSnapshot, pending []string) StatusBody {
	sessions := make([]SessionBody, 0, len(snap.Sessions))
	for _, s := range snap.Sessions {
		sessions = append(sessions, SessionBody{
			ID:         string(s.ID),
			InUse:      s.InUse,
			RequestID:  s.RequestID,
			CreatedAt:  s.CreatedAt,
			AcquiredAt: s.AcquiredAt,
			LeaseAt:    s.LeaseAt,
		})
	}
	if pending == nil {
		pending = []string{}
	}
	return StatusBody{
		MaxPoolSize: snap.MaxPoolSize,
		MaxTabs:     snap.MaxTabs,
		Live:        snap.Live,
		Idle:        snap.Idle,
		InUse:       snap.InUse,
		Creating:    snap.Creating,
		Queued:      snap.Queued,
		Sessions:    sessions,
		Host: HostBody{
			Connected:        snap.Host.Connected,
			StartedAt:        snap.Host.StartedAt,
			LastActivityAt:   snap.Host.LastActivityAt,
			Profile:          snap.Host.Profile,
			LiveSessions:     snap.Host.LiveSessions,
			ConsecutiveFails: snap.Host.ConsecutiveFails,
			Restarts:         snap.Host.Restarts,
		},
		Pending: pending,
	}
}

func (b StatusBody) Snapshot() domain.PoolSnapshot {
	sessions := make([]domain.SessionInfo, 0, len(b.Sessions))
	for _, s := range b.Sessions {
		sessions = append(sessions, domain.SessionInfo{
			ID:         domain.SessionID(s.ID),
			InUse:      s.InUse,
			RequestID:  s.RequestID,
			CreatedAt:  s.CreatedAt,
			AcquiredAt: s.AcquiredAt,
			LeaseAt:    s.LeaseAt,
		})
	}
	return domain.PoolSnapshot{
		MaxPoolSize: b.MaxPoolSize,
		MaxTabs:     b.MaxTabs,
		Live:        b.Live,
		Idle:        b.Idle,
		InUse:       b.InUse,
		Creating:    b.Creating,
		Queued:      b.Queued,
		Sessions:    sessions,
		Host: domain.HostInfo{
			Connected:        b.Host.Connected,
			StartedAt:        b.Host.StartedAt,
			LastActivityAt:   b.Host.LastActivityAt,
			Profile:          b.Host.Profile,
			LiveSessions:     b.Host.LiveSessions,
			ConsecutiveFails: b.Host.ConsecutiveFails,
			Restarts:         b.Host.Restarts,
		},
	}
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

type actionBody struct {
	RequestID string `json:"request_id"`
	Resumed   bool   `json:"resumed,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
}
