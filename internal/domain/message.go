package domain

import (
	"fmt"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type MessageStatus string

const (
	MessageStatusPending MessageStatus = "pending"
	MessageStatusSuccess MessageStatus = "success"
)

// Slot identifies one side of the comparison.
type Slot string

const (
	SlotA Slot = "a"
	SlotB Slot = "b"
)

func (s Slot) Valid() bool {
	return s == SlotA || s == SlotB
}

type Message struct {
	ID               string
	Role             Role
	Content          string
	ModelID          string
	Slot             Slot
	Status           MessageStatus
	ParentMessageIDs []string
}

func (m Message) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("message id is required")
	}
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant:
	default:
		return fmt.Errorf("unsupported message role %q", m.Role)
	}
	return nil
}
