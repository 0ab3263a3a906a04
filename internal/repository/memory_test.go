package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/immxrtalbeast/marketcall/internal/domain"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func testSession(caller, callee string) *domain.CallSession {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-" + caller}
	return domain.NewCallSession("c1",
		domain.Participant{ID: caller}, domain.Participant{ID: callee},
		domain.CallKindVideo, offer)
}

type recorder[T any] struct {
	mu  sync.Mutex
	got []T
}

func (r *recorder[T]) add(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, v)
}

func (r *recorder[T]) snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.got...)
}

func TestPublishSessionIsCreateIfAbsent(t *testing.T) {
	ctx := context.Background()
	store := NewInMemorySignalingStore()
	s := store.Session("c1")

	require.NoError(t, s.PublishSession(ctx, testSession("u1", "u2")))
	require.ErrorIs(t, s.PublishSession(ctx, testSession("u2", "u1")), domain.ErrSessionExists)
	assert.Equal(t, 1, store.SessionCount("c1"))

	got, err := s.GetSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.CallerID)
	assert.Equal(t, "Seller", got.CallerName)
}

func TestConcurrentPublishLeavesOneSession(t *testing.T) {
	ctx := context.Background()
	store := NewInMemorySignalingStore()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.Session("c1").PublishSession(ctx, testSession("u1", "u2"))
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		require.ErrorIs(t, err, domain.ErrSessionExists)
	}
	assert.Equal(t, 1, won)
}

func TestUpdateAndDeleteSession(t *testing.T) {
	ctx := context.Background()
	store := NewInMemorySignalingStore()
	s := store.Session("c1")

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}
	require.ErrorIs(t, s.UpdateSession(ctx, domain.AnswerPatch(answer)), domain.ErrSessionNotFound)
	_, err := s.GetSession(ctx)
	require.ErrorIs(t, err, domain.ErrSessionNotFound)

	require.NoError(t, s.PublishSession(ctx, testSession("u1", "u2")))
	require.NoError(t, s.AddCandidate(ctx, domain.RoleOfferer, webrtc.ICECandidateInit{Candidate: "o1"}))
	require.NoError(t, s.UpdateSession(ctx, domain.AnswerPatch(answer)))

	got, err := s.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, got.Answer)
	assert.Equal(t, "answer", got.Answer.SDP)
	assert.Equal(t, domain.SessionStatusAnswered, got.Status)

	require.NoError(t, s.DeleteSession(ctx))
	require.NoError(t, s.DeleteSession(ctx))
	assert.Equal(t, 0, store.SessionCount("c1"))

	rec := &recorder[[]domain.IceCandidate]{}
	sub, err := s.SubscribeCandidates(ctx, domain.RoleOfferer, rec.add)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.snapshot(), "candidates must be removed with the session")
}

func TestSubscribeSessionDeliversInitialStateThenChanges(t *testing.T) {
	ctx := context.Background()
	store := NewInMemorySignalingStore()
	s := store.Session("c1")

	rec := &recorder[*domain.CallSession]{}
	sub, err := s.SubscribeSession(ctx, rec.add)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, s.PublishSession(ctx, testSession("u1", "u2")))
	require.NoError(t, s.UpdateSession(ctx, domain.AnswerPatch(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "a"})))
	require.NoError(t, s.DeleteSession(ctx))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 4 }, waitFor, tick)
	got := rec.snapshot()
	assert.Nil(t, got[0], "no session existed when subscribing")
	require.NotNil(t, got[1])
	assert.Nil(t, got[1].Answer)
	require.NotNil(t, got[2])
	assert.NotNil(t, got[2].Answer)
	assert.Nil(t, got[3], "deletion is reported as nil")
}

func TestSubscribeCandidatesPreservesCommitOrderPerRole(t *testing.T) {
	ctx := context.Background()
	store := NewInMemorySignalingStore()
	s := store.Session("c1")

	require.NoError(t, s.AddCandidate(ctx, domain.RoleOfferer, webrtc.ICECandidateInit{Candidate: "o1"}))
	require.NoError(t, s.AddCandidate(ctx, domain.RoleOfferer, webrtc.ICECandidateInit{Candidate: "o2"}))

	rec := &recorder[string]{}
	sub, err := s.SubscribeCandidates(ctx, domain.RoleOfferer, func(batch []domain.IceCandidate) {
		for _, c := range batch {
			assert.Equal(t, domain.RoleOfferer, c.Role)
			rec.add(c.Init.Candidate)
		}
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, s.AddCandidate(ctx, domain.RoleAnswerer, webrtc.ICECandidateInit{Candidate: "a1"}))
	require.NoError(t, s.AddCandidate(ctx, domain.RoleOfferer, webrtc.ICECandidateInit{Candidate: "o3"}))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 3 }, waitFor, tick)
	assert.Equal(t, []string{"o1", "o2", "o3"}, rec.snapshot())

	require.Error(t, s.AddCandidate(ctx, domain.Role("observer"), webrtc.ICECandidateInit{Candidate: "x"}))
}

func TestUnsubscribeStopsDeliveryAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewInMemorySignalingStore()
	s := store.Session("c1")

	rec := &recorder[*domain.CallSession]{}
	sub, err := s.SubscribeSession(ctx, rec.add)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, waitFor, tick)

	sub.Unsubscribe()
	sub.Unsubscribe()

	require.NoError(t, s.PublishSession(ctx, testSession("u1", "u2")))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, rec.snapshot(), 1)
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	store := NewInMemorySignalingStore()
	s := store.Session("c1")
	ctx, cancel := context.WithCancel(context.Background())

	rec := &recorder[[]domain.IceCandidate]{}
	_, err := s.SubscribeCandidates(ctx, domain.RoleAnswerer, rec.add)
	require.NoError(t, err)
	cancel()

	require.Eventually(t, func() bool {
		store.mu.RLock()
		defer store.mu.RUnlock()
		return len(store.candidateSubs["c1"][domain.RoleAnswerer]) == 0
	}, waitFor, tick)
}

func TestUnavailableStoreWrapsCause(t *testing.T) {
	ctx := context.Background()
	store := NewInMemorySignalingStore()
	s := store.Session("c1")

	store.SetUnavailable(errors.New("network partition"))
	err := s.PublishSession(ctx, testSession("u1", "u2"))
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "network partition")
	_, err = s.SubscribeSession(ctx, func(*domain.CallSession) {})
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)

	store.SetUnavailable(nil)
	require.NoError(t, s.PublishSession(ctx, testSession("u1", "u2")))
}

func TestConversationRepositoryRecordsMissedCall(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryConversationRepository()

	_, err := repo.GetSummary(ctx, "c1")
	require.ErrorIs(t, err, ErrConversationNotFound)

	msg := domain.NewSystemMessage("c1", "u1", domain.MissedCallText(domain.CallKindAudio))
	require.NoError(t, repo.AppendSystemMessage(ctx, msg))
	require.NoError(t, repo.RecordMissedCall(ctx, "c1", "u1", "u2", msg.Text, msg.CreatedAt))
	require.NoError(t, repo.RecordMissedCall(ctx, "c1", "u1", "u2", msg.Text, msg.CreatedAt))

	summary, err := repo.GetSummary(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Missed audio call", summary.LastMessage)
	assert.Equal(t, "u1", summary.LastMessageSenderID)
	assert.Equal(t, 2, summary.UnreadCounts["u2"])
	assert.Zero(t, summary.UnreadCounts["u1"])

	msgs := repo.Messages("c1")
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsSystem)
}

func incomingIDs(calls []domain.IncomingCall) []string {
	ids := make([]string, 0, len(calls))
	for _, c := range calls {
		ids = append(ids, c.ConversationID)
	}
	return ids
}

func TestSubscribeIncomingTracksOffersToCallee(t *testing.T) {
	ctx := context.Background()
	store := NewInMemorySignalingStore()
	rec := &recorder[[]string]{}

	sub, err := store.SubscribeIncoming(ctx, "u2", func(calls []domain.IncomingCall) {
		rec.add(incomingIDs(calls))
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, store.Session("c1").PublishSession(ctx, testSession("u1", "u2")))
	require.NoError(t, store.Session("c2").PublishSession(ctx, testSession("u3", "u2")))
	require.NoError(t, store.Session("c3").PublishSession(ctx, testSession("u2", "u1")))
	require.NoError(t, store.Session("c1").UpdateSession(ctx, domain.AnswerPatch(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "a"})))
	require.NoError(t, store.Session("c2").DeleteSession(ctx))

	want := [][]string{{}, {"c1"}, {"c1", "c2"}, {"c2"}, {}}
	require.Eventually(t, func() bool { return len(rec.snapshot()) == len(want) }, waitFor, tick)
	assert.Equal(t, want, rec.snapshot())

	require.NoError(t, store.Session("c3").DeleteSession(ctx))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, rec.snapshot(), len(want), "changes to other callees are not delivered")
}
