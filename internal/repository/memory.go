package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/marketcall/internal/domain"
	"github.com/pion/webrtc/v3"
)

// InMemorySignalingStore keeps call sessions in process. Every subscriber owns a
// dispatcher goroutine so callbacks run outside the store lock in commit order.
type InMemorySignalingStore struct {
	mu            sync.RWMutex
	sessions      map[string]*domain.CallSession
	candidates    map[string]map[domain.Role][]domain.IceCandidate
	sessionSubs   map[string]map[*dispatcher[*domain.CallSession]]struct{}
	candidateSubs map[string]map[domain.Role]map[*dispatcher[[]domain.IceCandidate]]struct{}
	incomingSubs  map[string]map[*incomingSub]struct{}
	seq           int64
	unavailable   error
}

func NewInMemorySignalingStore() *InMemorySignalingStore {
	return &InMemorySignalingStore{
		sessions:      make(map[string]*domain.CallSession),
		candidates:    make(map[string]map[domain.Role][]domain.IceCandidate),
		sessionSubs:   make(map[string]map[*dispatcher[*domain.CallSession]]struct{}),
		candidateSubs: make(map[string]map[domain.Role]map[*dispatcher[[]domain.IceCandidate]]struct{}),
		incomingSubs:  make(map[string]map[*incomingSub]struct{}),
	}
}

// SetUnavailable makes every later operation fail with domain.ErrStoreUnavailable
// wrapping cause. A nil cause restores the store.
func (s *InMemorySignalingStore) SetUnavailable(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = cause
}

func (s *InMemorySignalingStore) Session(conversationID string) SessionStore {
	return &inMemorySessionStore{store: s, id: conversationID}
}

func (s *InMemorySignalingStore) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, subs := range s.sessionSubs {
		for d := range subs {
			d.stop()
		}
		delete(s.sessionSubs, id)
	}
	for id, byRole := range s.candidateSubs {
		for _, subs := range byRole {
			for d := range subs {
				d.stop()
			}
		}
		delete(s.candidateSubs, id)
	}
	for id, subs := range s.incomingSubs {
		for sub := range subs {
			sub.d.stop()
		}
		delete(s.incomingSubs, id)
	}
	return nil
}

type incomingSub struct {
	d    *dispatcher[[]domain.IncomingCall]
	last []domain.IncomingCall
}

func (s *InMemorySignalingStore) SubscribeIncoming(ctx context.Context, calleeID string, cb func([]domain.IncomingCall)) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return nil, err
	}

	in := &incomingSub{d: newDispatcher(cb), last: s.incomingLocked(calleeID)}
	if s.incomingSubs[calleeID] == nil {
		s.incomingSubs[calleeID] = make(map[*incomingSub]struct{})
	}
	s.incomingSubs[calleeID][in] = struct{}{}
	in.d.push(in.last)

	sub := &inMemorySubscription{stop: func() {
		s.mu.Lock()
		delete(s.incomingSubs[calleeID], in)
		if len(s.incomingSubs[calleeID]) == 0 {
			delete(s.incomingSubs, calleeID)
		}
		s.mu.Unlock()
		in.d.stop()
	}}
	go sub.stopOnDone(ctx, in.d.done)
	return sub, nil
}

func (s *InMemorySignalingStore) incomingLocked(calleeID string) []domain.IncomingCall {
	sessions := make([]*domain.CallSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	return domain.IncomingFor(calleeID, sessions)
}

// notifyIncomingLocked refreshes the incoming lists of calleeID, skipping
// subscribers whose list did not change.
func (s *InMemorySignalingStore) notifyIncomingLocked(calleeID string) {
	subs := s.incomingSubs[calleeID]
	if len(subs) == 0 {
		return
	}
	current := s.incomingLocked(calleeID)
	for in := range subs {
		if domain.SameIncoming(in.last, current) {
			continue
		}
		in.last = current
		in.d.push(current)
	}
}

// SessionCount reports how many call sessions exist for a conversation (0 or 1).
func (s *InMemorySignalingStore) SessionCount(conversationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[conversationID]; ok {
		return 1
	}
	return 0
}

func (s *InMemorySignalingStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.unavailable != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, s.unavailable)
	}
	return nil
}

type inMemorySessionStore struct {
	store *InMemorySignalingStore
	id    string
}

func (r *inMemorySessionStore) PublishSession(ctx context.Context, session *domain.CallSession) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return err
	}
	if session == nil {
		return errors.New("session is nil")
	}
	if _, ok := s.sessions[r.id]; ok {
		return domain.ErrSessionExists
	}

	stored := session.Clone()
	stored.ID = r.id
	s.sessions[r.id] = stored
	s.notifySessionLocked(r.id, stored)
	s.notifyIncomingLocked(stored.CalleeID)
	return nil
}

func (r *inMemorySessionStore) GetSession(ctx context.Context) (*domain.CallSession, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(ctx); err != nil {
		return nil, err
	}
	session, ok := s.sessions[r.id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session.Clone(), nil
}

func (r *inMemorySessionStore) UpdateSession(ctx context.Context, patch domain.SessionPatch) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return err
	}
	session, ok := s.sessions[r.id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	patch.Apply(session)
	s.notifySessionLocked(r.id, session)
	s.notifyIncomingLocked(session.CalleeID)
	return nil
}

func (r *inMemorySessionStore) DeleteSession(ctx context.Context) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return err
	}
	session, ok := s.sessions[r.id]
	if !ok {
		return nil
	}
	delete(s.sessions, r.id)
	delete(s.candidates, r.id)
	s.notifySessionLocked(r.id, nil)
	s.notifyIncomingLocked(session.CalleeID)
	return nil
}

func (r *inMemorySessionStore) SubscribeSession(ctx context.Context, cb func(*domain.CallSession)) (Subscription, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return nil, err
	}

	d := newDispatcher(cb)
	if s.sessionSubs[r.id] == nil {
		s.sessionSubs[r.id] = make(map[*dispatcher[*domain.CallSession]]struct{})
	}
	s.sessionSubs[r.id][d] = struct{}{}
	d.push(s.sessions[r.id].Clone())

	sub := &inMemorySubscription{stop: func() {
		s.mu.Lock()
		delete(s.sessionSubs[r.id], d)
		s.mu.Unlock()
		d.stop()
	}}
	go sub.stopOnDone(ctx, d.done)
	return sub, nil
}

func (r *inMemorySessionStore) AddCandidate(ctx context.Context, role domain.Role, candidate webrtc.ICECandidateInit) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return err
	}
	if !role.Valid() {
		return fmt.Errorf("unknown candidate role %q", role)
	}

	s.seq++
	record := domain.IceCandidate{
		ID:        uuid.NewString(),
		SessionID: r.id,
		Role:      role,
		Init:      candidate,
		Seq:       s.seq,
		CreatedAt: time.Now().UTC(),
	}
	if s.candidates[r.id] == nil {
		s.candidates[r.id] = make(map[domain.Role][]domain.IceCandidate)
	}
	s.candidates[r.id][role] = append(s.candidates[r.id][role], record)

	for d := range s.candidateSubs[r.id][role] {
		d.push([]domain.IceCandidate{record})
	}
	return nil
}

func (r *inMemorySessionStore) SubscribeCandidates(ctx context.Context, role domain.Role, cb func([]domain.IceCandidate)) (Subscription, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return nil, err
	}

	d := newDispatcher(cb)
	if s.candidateSubs[r.id] == nil {
		s.candidateSubs[r.id] = make(map[domain.Role]map[*dispatcher[[]domain.IceCandidate]]struct{})
	}
	if s.candidateSubs[r.id][role] == nil {
		s.candidateSubs[r.id][role] = make(map[*dispatcher[[]domain.IceCandidate]]struct{})
	}
	s.candidateSubs[r.id][role][d] = struct{}{}

	if existing := s.candidates[r.id][role]; len(existing) > 0 {
		batch := make([]domain.IceCandidate, len(existing))
		copy(batch, existing)
		d.push(batch)
	}

	sub := &inMemorySubscription{stop: func() {
		s.mu.Lock()
		delete(s.candidateSubs[r.id][role], d)
		s.mu.Unlock()
		d.stop()
	}}
	go sub.stopOnDone(ctx, d.done)
	return sub, nil
}

func (s *InMemorySignalingStore) notifySessionLocked(id string, session *domain.CallSession) {
	for d := range s.sessionSubs[id] {
		d.push(session.Clone())
	}
}

type inMemorySubscription struct {
	once sync.Once
	stop func()
}

func (s *inMemorySubscription) Unsubscribe() {
	s.once.Do(s.stop)
}

func (s *inMemorySubscription) stopOnDone(ctx context.Context, done <-chan struct{}) {
	select {
	case <-ctx.Done():
		s.Unsubscribe()
	case <-done:
	}
}

// dispatcher delivers queued values to one callback from a dedicated goroutine.
type dispatcher[T any] struct {
	mu      sync.Mutex
	queue   []T
	notify  chan struct{}
	done    chan struct{}
	once    sync.Once
	deliver func(T)
}

func newDispatcher[T any](deliver func(T)) *dispatcher[T] {
	d := &dispatcher[T]{
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		deliver: deliver,
	}
	go d.run()
	return d
}

func (d *dispatcher[T]) push(v T) {
	d.mu.Lock()
	d.queue = append(d.queue, v)
	d.mu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}
}

func (d *dispatcher[T]) run() {
	for {
		select {
		case <-d.done:
			return
		case <-d.notify:
		}

		for {
			d.mu.Lock()
			if len(d.queue) == 0 {
				d.mu.Unlock()
				break
			}
			v := d.queue[0]
			var zero T
			d.queue[0] = zero
			d.queue = d.queue[1:]
			d.mu.Unlock()

			select {
			case <-d.done:
				return
			default:
			}
			d.deliver(v)
		}
	}
}

func (d *dispatcher[T]) stop() {
	d.once.Do(func() { close(d.done) })
}

// InMemoryConversationRepository stores missed-call bookkeeping in process.
type InMemoryConversationRepository struct {
	mu        sync.RWMutex
	messages  map[string][]*domain.SystemMessage
	summaries map[string]*domain.ConversationSummary
}

func NewInMemoryConversationRepository() *InMemoryConversationRepository {
	return &InMemoryConversationRepository{
		messages:  make(map[string][]*domain.SystemMessage),
		summaries: make(map[string]*domain.ConversationSummary),
	}
}

func (r *InMemoryConversationRepository) AppendSystemMessage(ctx context.Context, msg *domain.SystemMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg == nil {
		return errors.New("message is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *msg
	r.messages[msg.ConversationID] = append(r.messages[msg.ConversationID], &copied)
	return nil
}

func (r *InMemoryConversationRepository) RecordMissedCall(ctx context.Context, conversationID, senderID, recipientID, text string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	summary, ok := r.summaries[conversationID]
	if !ok {
		summary = &domain.ConversationSummary{
			ConversationID: conversationID,
			UnreadCounts:   make(map[string]int),
		}
		r.summaries[conversationID] = summary
	}
	summary.LastMessage = text
	summary.LastMessageSenderID = senderID
	summary.LastMessageAt = at.UTC()
	summary.UnreadCounts[recipientID]++
	return nil
}

func (r *InMemoryConversationRepository) GetSummary(ctx context.Context, conversationID string) (*domain.ConversationSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	summary, ok := r.summaries[conversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}
	copied := *summary
	copied.UnreadCounts = make(map[string]int, len(summary.UnreadCounts))
	for k, v := range summary.UnreadCounts {
		copied.UnreadCounts[k] = v
	}
	return &copied, nil
}

// Messages returns the system messages logged for a conversation.
func (r *InMemoryConversationRepository) Messages(conversationID string) []domain.SystemMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.SystemMessage, 0, len(r.messages[conversationID]))
	for _, m := range r.messages[conversationID] {
		result = append(result, *m)
	}
	return result
}
