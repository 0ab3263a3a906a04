package domain

import (
	"sort"
	"time"

	"github.com/pion/webrtc/v3"
)

type CallKind string

const (
	CallKindAudio CallKind = "audio"
	CallKindVideo CallKind = "video"
)

func (k CallKind) Valid() bool {
	return k == CallKindAudio || k == CallKindVideo
}

type SessionStatus string

const (
	SessionStatusOffering SessionStatus = "offering"
	SessionStatusAnswered SessionStatus = "answered"
)

// CallSession is the signaling document of the single active call in a conversation.
// Its ID is the conversation id.
type CallSession struct {
	ID         string                     `json:"id"`
	CallerID   string                     `json:"caller_id"`
	CallerName string                     `json:"caller_name"`
	CalleeID   string                     `json:"callee_id"`
	CalleeName string                     `json:"callee_name"`
	Kind       CallKind                   `json:"call_type"`
	Offer      *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer     *webrtc.SessionDescription `json:"answer,omitempty"`
	Status     SessionStatus              `json:"status"`
	CreatedAt  time.Time                  `json:"created_at"`
}

// NewCallSession builds the offering document published by a caller.
func NewCallSession(conversationID string, caller, callee Participant, kind CallKind, offer webrtc.SessionDescription) *CallSession {
	return &CallSession{
		ID:         conversationID,
		CallerID:   caller.ID,
		CallerName: caller.DisplayName(),
		CalleeID:   callee.ID,
		CalleeName: callee.Name,
		Kind:       kind,
		Offer:      &offer,
		Status:     SessionStatusOffering,
		CreatedAt:  time.Now().UTC(),
	}
}

// Clone returns a deep copy so store snapshots never alias caller memory.
func (s *CallSession) Clone() *CallSession {
	if s == nil {
		return nil
	}
	c := *s
	if s.Offer != nil {
		offer := *s.Offer
		c.Offer = &offer
	}
	if s.Answer != nil {
		answer := *s.Answer
		c.Answer = &answer
	}
	return &c
}

// SessionPatch carries the fields a callee may change.
type SessionPatch struct {
	Answer *webrtc.SessionDescription
	Status *SessionStatus
}

// Apply mutates s with the non-nil fields of p.
func (p SessionPatch) Apply(s *CallSession) {
	if p.Answer != nil {
		answer := *p.Answer
		s.Answer = &answer
	}
	if p.Status != nil {
		s.Status = *p.Status
	}
}

// AnswerPatch is the patch a callee publishes once its answer is ready.
func AnswerPatch(answer webrtc.SessionDescription) SessionPatch {
	status := SessionStatusAnswered
	return SessionPatch{Answer: &answer, Status: &status}
}

// IncomingCall is an offer waiting for its callee to accept or decline.
type IncomingCall struct {
	ConversationID string
	CallerID       string
	CallerName     string
	CalleeID       string
	Kind           CallKind
	CreatedAt      time.Time
}

func (s *CallSession) Incoming() IncomingCall {
	return IncomingCall{
		ConversationID: s.ID,
		CallerID:       s.CallerID,
		CallerName:     s.CallerName,
		CalleeID:       s.CalleeID,
		Kind:           s.Kind,
		CreatedAt:      s.CreatedAt,
	}
}

// IncomingFor lists the sessions offered to calleeID, oldest first.
func IncomingFor(calleeID string, sessions []*CallSession) []IncomingCall {
	out := make([]IncomingCall, 0)
	for _, s := range sessions {
		if s == nil || s.CalleeID != calleeID || s.Status != SessionStatusOffering {
			continue
		}
		out = append(out, s.Incoming())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ConversationID < out[j].ConversationID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// SameIncoming reports whether two lists name the same offers in the same order.
func SameIncoming(a, b []IncomingCall) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ConversationID != b[i].ConversationID || !a[i].CreatedAt.Equal(b[i].CreatedAt) {
			return false
		}
	}
	return true
}
