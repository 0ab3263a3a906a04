package service

import (
	"context"

	"github.com/immxrtalbeast/marketcall/internal/domain"
	"github.com/immxrtalbeast/marketcall/internal/media"
	"github.com/immxrtalbeast/marketcall/internal/peer"
	"github.com/pion/webrtc/v3"
)

// CallInteractor is the surface the HTTP layer drives.
type CallInteractor interface {
	StartCall(ctx context.Context, params CallParams) (domain.CallSnapshot, error)
	GetCall(ctx context.Context, conversationID string) (domain.CallSnapshot, error)
	Hangup(ctx context.Context, conversationID string) error
	SetMuted(ctx context.Context, conversationID string, muted bool) error
	SetCameraOff(ctx context.Context, conversationID string, off bool) error
	Watch(ctx context.Context, conversationID string) (<-chan domain.CallSnapshot, func(), error)
	Incoming(ctx context.Context, participantID string) (<-chan []domain.IncomingCall, func(), error)
	Decline(ctx context.Context, conversationID, participantID string) error
}

type MediaAcquirer interface {
	Acquire(ctx context.Context, kind domain.CallKind) (*media.Handle, error)
}

// PeerConnection is the part of peer.Manager a call drives.
type PeerConnection interface {
	AddLocalTracks(h *media.Handle) error
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	CreateAnswer(ctx context.Context, remoteOffer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	SetRemoteDescription(desc webrtc.SessionDescription) error
	HasRemoteDescription() bool
	AddICECandidate(c webrtc.ICECandidateInit) error
	OnLocalCandidate(cb func(webrtc.ICECandidateInit))
	OnRemoteTrack(cb func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnConnectionStateChange(cb func(webrtc.PeerConnectionState))
	Close() error
}

type PeerFactory func() (PeerConnection, error)

var _ PeerConnection = (*peer.Manager)(nil)
