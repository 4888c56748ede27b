package domain

import (
	"fmt"
	"strings"
)

type InteractionRequest struct {
	RequestID      string
	Prompt         string
	SystemPrompt   string
	ModelA         string
	ModelB         string
	ConversationID string
	History        []Message
	Priority       bool
	Attempt        int
}

func (r InteractionRequest) Validate() error {
	if strings.TrimSpace(r.RequestID) == "" {
		return fmt.Errorf("%w: request id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.ModelA) == "" || strings.TrimSpace(r.ModelB) == "" {
		return fmt.Errorf("%w: two target models are required", ErrInvalidRequest)
	}
	for i, msg := range r.History {
		if err := msg.Validate(); err != nil {
			return fmt.Errorf("%w: history[%d]: %v", ErrInvalidRequest, i, err)
		}
	}
	return nil
}

// ModelFor returns the target model bound to a slot.
func (r InteractionRequest) ModelFor(slot Slot) string {
	if slot == SlotB {
		return r.ModelB
	}
	return r.ModelA
}

// LeadsWithSystem reports whether the prior history already opens with a system message.
func (r InteractionRequest) LeadsWithSystem() bool {
	return len(r.History) > 0 && r.History[0].Role == RoleSystem
}
