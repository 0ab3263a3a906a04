package model

import (
	"time"

	"github.com/google/uuid"
)

type CallSession struct {
	ID         string  `gorm:"size:255;primaryKey"`
	CallerID   string  `gorm:"size:128;not null"`
	CallerName string  `gorm:"size:255;not null"`
	CalleeID   string  `gorm:"size:128;index:idx_sessions_callee_status;not null"`
	CalleeName string  `gorm:"size:255"`
	Kind       string  `gorm:"size:16;not null"`
	OfferType  *string `gorm:"size:16"`
	OfferSDP   *string `gorm:"type:text"`
	AnswerType *string `gorm:"size:16"`
	AnswerSDP  *string `gorm:"type:text"`
	Status     string  `gorm:"size:32;index:idx_sessions_callee_status;not null"`
	Version    int64   `gorm:"not null;default:1"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type IceCandidate struct {
	Seq              int64     `gorm:"primaryKey;autoIncrement"`
	ID               uuid.UUID `gorm:"type:uuid;uniqueIndex;not null"`
	SessionID        string    `gorm:"size:255;index:idx_candidates_session_role;not null"`
	Role             string    `gorm:"size:16;index:idx_candidates_session_role;not null"`
	Candidate        string    `gorm:"type:text;not null"`
	SDPMid           *string   `gorm:"size:64"`
	SDPMLineIndex    *uint16
	UsernameFragment *string `gorm:"size:255"`
	CreatedAt        time.Time `gorm:"not null"`
}

type Conversation struct {
	ID                  string `gorm:"size:255;primaryKey"`
	LastMessage         string `gorm:"type:text"`
	LastMessageSenderID string `gorm:"size:128"`
	LastMessageAt       *time.Time
	UnreadCounts        []UnreadCount `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type UnreadCount struct {
	ConversationID string `gorm:"size:255;primaryKey"`
	ParticipantID  string `gorm:"size:128;primaryKey"`
	Count          int    `gorm:"not null;default:0"`
}

type Message struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	ConversationID string    `gorm:"size:255;index;not null"`
	SenderID       string    `gorm:"size:128;not null"`
	Text           string    `gorm:"type:text;not null"`
	IsSystem       bool      `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null"`
}

// All lists every model for AutoMigrate.
func All() []any {
	return []any{&CallSession{}, &IceCandidate{}, &Conversation{}, &UnreadCount{}, &Message{}}
}
