package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/immxrtalbeast/marketcall/internal/domain"
)

const (
	watchBuffer = 16
	endedCalls  = 256
)

// CallService owns the calls of this agent, at most one per conversation.
// Ended calls are dropped once their goroutine exits; the last snapshots of the
// most recent ones stay readable.
type CallService struct {
	deps CallDeps
	log  *slog.Logger

	mu       sync.RWMutex
	calls    map[string]*Call
	watchers map[string]map[chan domain.CallSnapshot]struct{}
	ended    *lru.Cache
}

func NewCallService(deps CallDeps) *CallService {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.StoreTimeout <= 0 {
		deps.StoreTimeout = defaultStoreTimeout
	}
	ended, err := lru.New(endedCalls)
	if err != nil {
		panic(err)
	}
	return &CallService{
		deps:     deps,
		log:      deps.Log,
		calls:    make(map[string]*Call),
		watchers: make(map[string]map[chan domain.CallSnapshot]struct{}),
		ended:    ended,
	}
}

func (s *CallService) StartCall(ctx context.Context, params CallParams) (domain.CallSnapshot, error) {
	const op = "service.call.StartCall"
	log := s.log.With(slog.String("op", op))

	if params.ConversationID == "" {
		params.ConversationID = domain.ConversationIDFor(params.Self.ID, params.Peer.ID)
	}

	s.mu.Lock()
	if existing, ok := s.calls[params.ConversationID]; ok && !existing.Snapshot().State.Terminal() {
		s.mu.Unlock()
		return domain.CallSnapshot{}, fmt.Errorf("%s: %w", op, domain.ErrCallActive)
	}
	call, err := NewCall(params, s.deps)
	if err != nil {
		s.mu.Unlock()
		return domain.CallSnapshot{}, err
	}
	call.OnChange(s.fanout)
	s.calls[params.ConversationID] = call
	s.mu.Unlock()

	go s.evictWhenDone(params.ConversationID, call)
	call.Start()
	log.Info("call started",
		slog.String("conversation_id", params.ConversationID),
		slog.String("kind", string(params.Kind)),
	)
	return call.Snapshot(), nil
}

func (s *CallService) GetCall(ctx context.Context, conversationID string) (domain.CallSnapshot, error) {
	call, err := s.call(conversationID)
	if err != nil {
		if snap, ok := s.endedSnapshot(conversationID); ok {
			return snap, nil
		}
		return domain.CallSnapshot{}, err
	}
	return call.Snapshot(), nil
}

func (s *CallService) Hangup(ctx context.Context, conversationID string) error {
	const op = "service.call.Hangup"

	call, err := s.call(conversationID)
	if err != nil {
		if _, ok := s.endedSnapshot(conversationID); ok {
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := call.Hangup(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *CallService) SetMuted(ctx context.Context, conversationID string, muted bool) error {
	const op = "service.call.SetMuted"

	call, err := s.call(conversationID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := call.SetMuted(muted); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *CallService) SetCameraOff(ctx context.Context, conversationID string, off bool) error {
	const op = "service.call.SetCameraOff"

	call, err := s.call(conversationID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := call.SetCameraOff(off); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Watch streams snapshots of a call starting with the current one.
// Slow watchers miss intermediate snapshots rather than stall the call.
func (s *CallService) Watch(ctx context.Context, conversationID string) (<-chan domain.CallSnapshot, func(), error) {
	call, err := s.call(conversationID)
	if err != nil {
		snap, ok := s.endedSnapshot(conversationID)
		if !ok {
			return nil, nil, err
		}
		ch := make(chan domain.CallSnapshot, 1)
		ch <- snap
		close(ch)
		return ch, func() {}, nil
	}

	ch := make(chan domain.CallSnapshot, watchBuffer)
	s.mu.Lock()
	if s.watchers[conversationID] == nil {
		s.watchers[conversationID] = make(map[chan domain.CallSnapshot]struct{})
	}
	s.watchers[conversationID][ch] = struct{}{}
	ch <- call.Snapshot()
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers[conversationID], ch)
			if len(s.watchers[conversationID]) == 0 {
				delete(s.watchers, conversationID)
			}
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel, nil
}

// Shutdown tears down every call still running.
func (s *CallService) Shutdown(ctx context.Context) error {
	const op = "service.call.Shutdown"
	log := s.log.With(slog.String("op", op))

	s.mu.RLock()
	calls := make([]*Call, 0, len(s.calls))
	for _, c := range s.calls {
		calls = append(calls, c)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, c := range calls {
		wg.Add(1)
		go func(c *Call) {
			defer wg.Done()
			c.Teardown()
		}(c)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info("all calls torn down", slog.Int("count", len(calls)))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

// Incoming streams the offers waiting for participantID, starting with the
// current list. A slow reader only ever sees the newest list.
func (s *CallService) Incoming(ctx context.Context, participantID string) (<-chan []domain.IncomingCall, func(), error) {
	const op = "service.call.Incoming"

	if participantID == "" {
		return nil, nil, fmt.Errorf("%s: %w: participant id is required", op, ErrInvalidParams)
	}

	stream := &incomingStream{ch: make(chan []domain.IncomingCall, 1)}
	sub, err := s.deps.Store.SubscribeIncoming(ctx, participantID, stream.push)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			sub.Unsubscribe()
			stream.close()
		})
	}
	return stream.ch, cancel, nil
}

// Decline rejects an offer addressed to participantID by removing its session.
// The caller observes the removal as a remote hangup.
func (s *CallService) Decline(ctx context.Context, conversationID, participantID string) error {
	const op = "service.call.Decline"
	log := s.log.With(slog.String("op", op), slog.String("conversation_id", conversationID))

	if conversationID == "" || participantID == "" {
		return fmt.Errorf("%s: %w: conversation and participant are required", op, ErrInvalidParams)
	}
	if call, err := s.call(conversationID); err == nil && !call.Snapshot().State.Terminal() {
		return fmt.Errorf("%s: %w", op, domain.ErrCallActive)
	}

	ctx, cancel := context.WithTimeout(ctx, s.deps.StoreTimeout)
	defer cancel()

	store := s.deps.Store.Session(conversationID)
	session, err := store.GetSession(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if session.CalleeID != participantID || session.Status != domain.SessionStatusOffering {
		return fmt.Errorf("%s: %w: no offer waiting for %s", op, domain.ErrInvalidState, participantID)
	}
	if err := store.DeleteSession(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("call declined", slog.String("caller", session.CallerID), slog.String("callee", participantID))
	return nil
}

func (s *CallService) evictWhenDone(conversationID string, call *Call) {
	<-call.Done()
	s.ended.Add(conversationID, call.Snapshot())

	s.mu.Lock()
	if s.calls[conversationID] == call {
		delete(s.calls, conversationID)
	}
	s.mu.Unlock()
}

func (s *CallService) endedSnapshot(conversationID string) (domain.CallSnapshot, bool) {
	v, ok := s.ended.Get(conversationID)
	if !ok {
		return domain.CallSnapshot{}, false
	}
	return v.(domain.CallSnapshot), true
}

func (s *CallService) call(conversationID string) (*Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	call, ok := s.calls[conversationID]
	if !ok {
		return nil, domain.ErrCallNotFound
	}
	return call, nil
}

func (s *CallService) fanout(snap domain.CallSnapshot) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.watchers[snap.ConversationID] {
		select {
		case ch <- snap:
		default:
			s.log.Debug("watcher lagging, dropping snapshot", slog.String("conversation_id", snap.ConversationID))
		}
	}
}

var _ CallInteractor = (*CallService)(nil)

// IsClientError reports whether err was caused by the request rather than the agent.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidParams) ||
		errors.Is(err, domain.ErrCallActive) ||
		errors.Is(err, domain.ErrInvalidState)
}

// incomingStream keeps only the newest incoming list for its reader.
type incomingStream struct {
	mu     sync.Mutex
	closed bool
	ch     chan []domain.IncomingCall
}

func (st *incomingStream) push(calls []domain.IncomingCall) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return
	}
	select {
	case <-st.ch:
	default:
	}
	st.ch <- calls
}

func (st *incomingStream) close() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.closed = true
	close(st.ch)
}
