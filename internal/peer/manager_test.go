package peer

import (
	"context"
	"testing"

	"github.com/immxrtalbeast/marketcall/internal/domain"
	"github.com/immxrtalbeast/marketcall/internal/media"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(Config{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func newOfferer(t *testing.T) (*Manager, webrtc.SessionDescription) {
	t.Helper()
	m := newTestManager(t)

	tracks, err := media.NewSyntheticDevice().Open(context.Background(), media.ConstraintsFor(domain.CallKindVideo))
	require.NoError(t, err)
	h := media.NewHandle(tracks)
	t.Cleanup(h.Stop)
	require.NoError(t, m.AddLocalTracks(h))

	offer, err := m.CreateOffer(context.Background())
	require.NoError(t, err)
	require.Equal(t, webrtc.SDPTypeOffer, offer.Type)
	return m, offer
}

func TestSetRemoteDescriptionTwiceIsInvalidState(t *testing.T) {
	_, offer := newOfferer(t)
	callee := newTestManager(t)

	require.False(t, callee.HasRemoteDescription())
	require.NoError(t, callee.SetRemoteDescription(offer))
	require.True(t, callee.HasRemoteDescription())

	err := callee.SetRemoteDescription(offer)
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestAddICECandidateBeforeRemoteDescriptionIsRejected(t *testing.T) {
	m := newTestManager(t)
	err := m.AddICECandidate(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 192.0.2.1 50000 typ host"})
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestOfferAnswerExchange(t *testing.T) {
	caller, offer := newOfferer(t)
	callee := newTestManager(t)

	answer, err := callee.CreateAnswer(context.Background(), offer)
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	assert.True(t, callee.HasRemoteDescription())

	require.NoError(t, caller.SetRemoteDescription(answer))
	assert.True(t, caller.HasRemoteDescription())

	_, err = caller.CreateOffer(context.Background())
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestCreateAnswerAcceptsAlreadyAppliedOffer(t *testing.T) {
	_, offer := newOfferer(t)
	callee := newTestManager(t)

	require.NoError(t, callee.SetRemoteDescription(offer))
	_, err := callee.CreateAnswer(context.Background(), offer)
	require.NoError(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, err := m.CreateOffer(context.Background())
	require.ErrorIs(t, err, domain.ErrInvalidState)
}
