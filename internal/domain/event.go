package domain

type EventKind string

const (
	EventStatus             EventKind = "status"
	EventModelChunk         EventKind = "model_chunk"
	EventUserActionRequired EventKind = "user_action_required"
	EventError              EventKind = "error"
	EventStreamEnd          EventKind = "stream_end"
)

// StreamEvent is a closed set: only the variants in this file implement it.
type StreamEvent interface {
	Kind() EventKind
	streamEvent()
}

type StatusEvent struct {
	Message string
}

type ModelChunkEvent struct {
	Slot         Slot
	ModelID      string
	Content      string
	FinishReason string
}

type UserActionRequiredEvent struct {
	RequestID string
	Message   string
}

type ErrorEvent struct {
	Message string
}

type StreamEndEvent struct{}

func (StatusEvent) Kind() EventKind             { return EventStatus }
func (ModelChunkEvent) Kind() EventKind         { return EventModelChunk }
func (UserActionRequiredEvent) Kind() EventKind { return EventUserActionRequired }
func (ErrorEvent) Kind() EventKind              { return EventError }
func (StreamEndEvent) Kind() EventKind          { return EventStreamEnd }

func (StatusEvent) streamEvent()             {}
func (ModelChunkEvent) streamEvent()         {}
func (UserActionRequiredEvent) streamEvent() {}
func (ErrorEvent) streamEvent()              {}
func (StreamEndEvent) streamEvent()          {}

// IsTerminal reports whether no further events follow e for the same request.
func IsTerminal(e StreamEvent) bool {
	switch e.(type) {
	case ErrorEvent, StreamEndEvent:
		return true
	default:
		return false
	}
}
