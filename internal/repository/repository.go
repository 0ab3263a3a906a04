package repository

import (
	"context"
	"errors"
	"time"

	"github.com/immxrtalbeast/marketcall/internal/domain"
	"github.com/pion/webrtc/v3"
)

var ErrConversationNotFound = errors.New("conversation not found")

//go:generate mockgen -source=repository.go -destination=mocks/repository_mock.go -package=mocks

// SignalingStore hands out per-conversation views of the shared document store.
type SignalingStore interface {
	Session(conversationID string) SessionStore
	// SubscribeIncoming delivers the offers addressed to calleeID, oldest first: the
	// current list and then the whole list again each time it changes.
	SubscribeIncoming(ctx context.Context, calleeID string, cb func([]domain.IncomingCall)) (Subscription, error)
	Close(ctx context.Context) error
}

// SessionStore reads and writes the call session document of one conversation and
// its candidate lists. Failures of the backend are wrapped in domain.ErrStoreUnavailable.
type SessionStore interface {
	// PublishSession creates the session if none exists, else returns domain.ErrSessionExists.
	PublishSession(ctx context.Context, session *domain.CallSession) error
	GetSession(ctx context.Context) (*domain.CallSession, error)
	UpdateSession(ctx context.Context, patch domain.SessionPatch) error
	// DeleteSession removes the session together with its candidates. Deleting a missing
	// session is not an error.
	DeleteSession(ctx context.Context) error
	// SubscribeSession delivers the current document first and then one snapshot per change.
	// A nil snapshot means the session was deleted.
	SubscribeSession(ctx context.Context, cb func(*domain.CallSession)) (Subscription, error)
	AddCandidate(ctx context.Context, role domain.Role, candidate webrtc.ICECandidateInit) error
	// SubscribeCandidates delivers added candidates of one role in commit order, one batch per change.
	SubscribeCandidates(ctx context.Context, role domain.Role, cb func([]domain.IceCandidate)) (Subscription, error)
}

type Subscription interface {
	// Unsubscribe stops delivery. Calling it more than once is safe.
	Unsubscribe()
}

type ConversationRepository interface {
	AppendSystemMessage(ctx context.Context, msg *domain.SystemMessage) error
	RecordMissedCall(ctx context.Context, conversationID, senderID, recipientID, text string, at time.Time) error
	GetSummary(ctx context.Context, conversationID string) (*domain.ConversationSummary, error)
}
