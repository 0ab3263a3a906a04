package converter

import (
	"time"

	"github.com/immxrtalbeast/marketcall/internal/domain"
)

type ParticipantResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type CallResponse struct {
	ConversationID string              `json:"conversation_id"`
	State          domain.CallState    `json:"state"`
	Role           domain.Role         `json:"role,omitempty"`
	Kind           domain.CallKind     `json:"kind"`
	Self           ParticipantResponse `json:"self"`
	Peer           ParticipantResponse `json:"peer"`
	Muted          bool                `json:"muted"`
	CameraOff      bool                `json:"camera_off"`
	RaceLost       bool                `json:"race_lost"`
	EndReason      string              `json:"end_reason,omitempty"`
}

func CallToApi(s domain.CallSnapshot) *CallResponse {
	return &CallResponse{
		ConversationID: s.ConversationID,
		State:          s.State,
		Role:           s.Role,
		Kind:           s.Kind,
		Self:           ParticipantResponse{ID: s.Self.ID, Name: s.Self.Name},
		Peer:           ParticipantResponse{ID: s.Peer.ID, Name: s.Peer.Name},
		Muted:          s.Muted,
		CameraOff:      s.CameraOff,
		RaceLost:       s.RaceLost,
		EndReason:      s.EndReason,
	}
}

// CallEvent is one frame of the call state stream.
type CallEvent struct {
	Type string        `json:"type"`
	Call *CallResponse `json:"call"`
}

func CallEventToApi(s domain.CallSnapshot) CallEvent {
	return CallEvent{Type: "state", Call: CallToApi(s)}
}

type IncomingCallResponse struct {
	ConversationID string              `json:"conversation_id"`
	Caller         ParticipantResponse `json:"caller"`
	Kind           domain.CallKind     `json:"kind"`
	CreatedAt      time.Time           `json:"created_at"`
}

// IncomingEvent carries the full list of offers waiting for a participant.
type IncomingEvent struct {
	Type  string                 `json:"type"`
	Calls []IncomingCallResponse `json:"calls"`
}

func IncomingEventToApi(calls []domain.IncomingCall) IncomingEvent {
	out := make([]IncomingCallResponse, 0, len(calls))
	for _, c := range calls {
		out = append(out, IncomingCallResponse{
			ConversationID: c.ConversationID,
			Caller:         ParticipantResponse{ID: c.CallerID, Name: c.CallerName},
			Kind:           c.Kind,
			CreatedAt:      c.CreatedAt,
		})
	}
	return IncomingEvent{Type: "incoming", Calls: out}
}

type ConversationSummaryResponse struct {
	ConversationID      string         `json:"conversation_id"`
	LastMessage         string         `json:"last_message"`
	LastMessageSenderID string         `json:"last_message_sender_id"`
	LastMessageAt       time.Time      `json:"last_message_at"`
	UnreadCounts        map[string]int `json:"unread_counts"`
}

func SummaryToApi(s *domain.ConversationSummary) *ConversationSummaryResponse {
	unread := make(map[string]int, len(s.UnreadCounts))
	for k, v := range s.UnreadCounts {
		unread[k] = v
	}
	return &ConversationSummaryResponse{
		ConversationID:      s.ConversationID,
		LastMessage:         s.LastMessage,
		LastMessageSenderID: s.LastMessageSenderID,
		LastMessageAt:       s.LastMessageAt,
		UnreadCounts:        unread,
	}
}
