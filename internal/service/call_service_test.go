package service

import (
	"context"
	"testing"
	"time"

	"github.com/immxrtalbeast/marketcall/internal/domain"
	"github.com/immxrtalbeast/marketcall/internal/repository"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, store repository.SignalingStore) (*CallService, *side) {
	t.Helper()
	s := newSide(t, "svc", store, repository.NewInMemoryConversationRepository())
	svc := NewCallService(s.deps)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc, s
}

func TestStartCallRejectsSecondActiveCall(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, repository.NewInMemorySignalingStore())
	params := CallParams{Self: alice, Peer: bob, Kind: domain.CallKindAudio}

	snap, err := svc.StartCall(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, "u1_u2", snap.ConversationID)

	_, err = svc.StartCall(ctx, params)
	require.ErrorIs(t, err, domain.ErrCallActive)
	assert.True(t, IsClientError(err))

	require.NoError(t, svc.Hangup(ctx, "u1_u2"))
	got, err := svc.GetCall(ctx, "u1_u2")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStateEnded, got.State)

	_, err = svc.StartCall(ctx, params)
	require.NoError(t, err)
}

func TestStartCallRejectsInvalidParams(t *testing.T) {
	svc, _ := newTestService(t, repository.NewInMemorySignalingStore())

	_, err := svc.StartCall(context.Background(), CallParams{Self: alice, Peer: bob, Kind: "hologram"})
	require.ErrorIs(t, err, ErrInvalidParams)
	assert.True(t, IsClientError(err))
}

func TestUnknownConversationIsNotFound(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, repository.NewInMemorySignalingStore())

	_, err := svc.GetCall(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrCallNotFound)
	require.ErrorIs(t, svc.Hangup(ctx, "missing"), domain.ErrCallNotFound)
	require.ErrorIs(t, svc.SetMuted(ctx, "missing", true), domain.ErrCallNotFound)
	require.ErrorIs(t, svc.SetCameraOff(ctx, "missing", true), domain.ErrCallNotFound)
	_, _, err = svc.Watch(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrCallNotFound)
}

func TestWatchStreamsStateChanges(t *testing.T) {
	ctx := context.Background()
	svc, s := newTestService(t, repository.NewInMemorySignalingStore())
	s.device.entered = make(chan struct{})
	s.device.release = make(chan struct{})

	_, err := svc.StartCall(ctx, CallParams{ConversationID: "c1", Self: alice, Peer: bob, Kind: domain.CallKindVideo})
	require.NoError(t, err)
	<-s.device.entered

	ch, cancel, err := svc.Watch(ctx, "c1")
	require.NoError(t, err)
	defer cancel()

	first := <-ch
	assert.Equal(t, domain.CallStateInitializing, first.State)
	close(s.device.release)

	seen := map[domain.CallState]bool{}
	timeout := time.After(waitFor)
	for !seen[domain.CallStateCalling] {
		select {
		case snap := <-ch:
			seen[snap.State] = true
		case <-timeout:
			t.Fatalf("never observed calling, saw %v", seen)
		}
	}

	require.NoError(t, svc.SetMuted(ctx, "c1", true))
	require.Eventually(t, func() bool {
		select {
		case snap := <-ch:
			return snap.Muted
		default:
			return false
		}
	}, waitFor, tick)
}

func TestWatchCancelClosesChannel(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, repository.NewInMemorySignalingStore())
	_, err := svc.StartCall(ctx, CallParams{ConversationID: "c1", Self: alice, Peer: bob, Kind: domain.CallKindAudio})
	require.NoError(t, err)

	ch, cancel, err := svc.Watch(ctx, "c1")
	require.NoError(t, err)
	cancel()
	cancel()

	for range ch {
	}
	require.NoError(t, svc.Hangup(ctx, "c1"))
}

func TestShutdownTearsDownEveryCall(t *testing.T) {
	ctx := context.Background()
	store := repository.NewInMemorySignalingStore()
	svc, s := newTestService(t, store)

	_, err := svc.StartCall(ctx, CallParams{ConversationID: "c1", Self: alice, Peer: bob, Kind: domain.CallKindAudio})
	require.NoError(t, err)
	_, err = svc.StartCall(ctx, CallParams{ConversationID: "c2", Self: alice, Peer: domain.Participant{ID: "u3"}, Kind: domain.CallKindVideo})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return store.SessionCount("c1") == 1 && store.SessionCount("c2") == 1
	}, waitFor, tick)

	sctx, cancel := context.WithTimeout(ctx, waitFor)
	defer cancel()
	require.NoError(t, svc.Shutdown(sctx))

	for _, id := range []string{"c1", "c2"} {
		snap, err := svc.GetCall(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.CallStateEnded, snap.State)
		assert.Equal(t, EndReasonTornDown, snap.EndReason)
	}
	for _, tr := range s.device.all() {
		assert.Equal(t, int32(1), tr.stops.Load())
	}
}

func nextIncoming(t *testing.T, ch <-chan []domain.IncomingCall) []domain.IncomingCall {
	t.Helper()
	select {
	case calls, ok := <-ch:
		require.True(t, ok, "incoming stream closed")
		return calls
	case <-time.After(waitFor):
		t.Fatal("no incoming list delivered")
		return nil
	}
}

func TestIncomingListsOffersAndDeclineRemovesThem(t *testing.T) {
	ctx := context.Background()
	store := repository.NewInMemorySignalingStore()
	svc, _ := newTestService(t, store)

	ch, cancel, err := svc.Incoming(ctx, "u2")
	require.NoError(t, err)
	defer cancel()
	assert.Empty(t, nextIncoming(t, ch))

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-a"}
	require.NoError(t, store.Session("c1").PublishSession(ctx, domain.NewCallSession("c1", alice, bob, domain.CallKindVideo, offer)))

	calls := nextIncoming(t, ch)
	require.Len(t, calls, 1)
	assert.Equal(t, "c1", calls[0].ConversationID)
	assert.Equal(t, "u1", calls[0].CallerID)
	assert.Equal(t, "Alice", calls[0].CallerName)
	assert.Equal(t, domain.CallKindVideo, calls[0].Kind)

	require.ErrorIs(t, svc.Decline(ctx, "c1", "u1"), domain.ErrInvalidState)
	require.NoError(t, svc.Decline(ctx, "c1", "u2"))
	assert.Empty(t, nextIncoming(t, ch))
	assert.Equal(t, 0, store.SessionCount("c1"))

	require.ErrorIs(t, svc.Decline(ctx, "c1", "u2"), domain.ErrSessionNotFound)
	require.ErrorIs(t, svc.Decline(ctx, "", "u2"), ErrInvalidParams)

	cancel()
	cancel()
	for range ch {
	}
}

func TestIncomingRequiresParticipant(t *testing.T) {
	svc, _ := newTestService(t, repository.NewInMemorySignalingStore())
	_, _, err := svc.Incoming(context.Background(), "")
	require.ErrorIs(t, err, ErrInvalidParams)
}

func TestDeclineEndsTheCallersCall(t *testing.T) {
	ctx := context.Background()
	store := repository.NewInMemorySignalingStore()
	caller, _ := newTestService(t, store)
	callee, _ := newTestService(t, store)

	ch, cancel, err := callee.Incoming(ctx, "u2")
	require.NoError(t, err)
	defer cancel()

	_, err = caller.StartCall(ctx, CallParams{ConversationID: "c1", Self: alice, Peer: bob, Kind: domain.CallKindAudio})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		select {
		case calls := <-ch:
			return len(calls) == 1 && calls[0].ConversationID == "c1"
		default:
			return false
		}
	}, waitFor, tick)

	require.NoError(t, callee.Decline(ctx, "c1", "u2"))
	require.Eventually(t, func() bool {
		snap, err := caller.GetCall(ctx, "c1")
		return err == nil && snap.State == domain.CallStateEnded && snap.EndReason == EndReasonRemoteHangup
	}, waitFor, tick)
}

func TestDeclineRejectsConversationWithLocalCall(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, repository.NewInMemorySignalingStore())

	_, err := svc.StartCall(ctx, CallParams{ConversationID: "c1", Self: bob, Peer: alice, Kind: domain.CallKindAudio})
	require.NoError(t, err)
	require.ErrorIs(t, svc.Decline(ctx, "c1", "u2"), domain.ErrCallActive)
}

func TestEndedCallIsEvictedButStaysReadable(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, repository.NewInMemorySignalingStore())

	_, err := svc.StartCall(ctx, CallParams{ConversationID: "c1", Self: alice, Peer: bob, Kind: domain.CallKindAudio})
	require.NoError(t, err)
	require.NoError(t, svc.Hangup(ctx, "c1"))

	require.Eventually(t, func() bool {
		svc.mu.RLock()
		defer svc.mu.RUnlock()
		return len(svc.calls) == 0
	}, waitFor, tick)

	snap, err := svc.GetCall(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStateEnded, snap.State)
	assert.Equal(t, EndReasonHangup, snap.EndReason)
	require.NoError(t, svc.Hangup(ctx, "c1"))

	ch, cancel, err := svc.Watch(ctx, "c1")
	require.NoError(t, err)
	defer cancel()
	last := <-ch
	assert.Equal(t, domain.CallStateEnded, last.State)
	_, open := <-ch
	assert.False(t, open)

	_, err = svc.StartCall(ctx, CallParams{ConversationID: "c1", Self: alice, Peer: bob, Kind: domain.CallKindAudio})
	require.NoError(t, err)
	snap, err = svc.GetCall(ctx, "c1")
	require.NoError(t, err)
	assert.NotEqual(t, domain.CallStateEnded, snap.State)
}
