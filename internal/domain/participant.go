package domain

import (
	"sort"
	"strings"
)

const defaultCallerName = "Seller"

// Participant is one side of a conversation.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DisplayName falls back to a generic label when the profile has no name.
func (p Participant) DisplayName() string {
	if strings.TrimSpace(p.Name) == "" {
		return defaultCallerName
	}
	return p.Name
}

// ConversationIDFor derives the conversation id shared by two participants.
// The result does not depend on argument order.
func ConversationIDFor(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, "_")
}
