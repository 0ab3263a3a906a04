package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type SystemMessage struct {
	ID             uuid.UUID
	ConversationID string
	SenderID       string
	Text           string
	IsSystem       bool
	CreatedAt      time.Time
}

func NewSystemMessage(conversationID, senderID, text string) *SystemMessage {
	return &SystemMessage{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
		IsSystem:       true,
		CreatedAt:      time.Now().UTC(),
	}
}

func MissedCallText(kind CallKind) string {
	return fmt.Sprintf("Missed %s call", kind)
}

// ConversationSummary is the denormalized conversation header shown in chat lists.
type ConversationSummary struct {
	ConversationID      string
	LastMessage         string
	LastMessageSenderID string
	LastMessageAt       time.Time
	UnreadCounts        map[string]int
}
