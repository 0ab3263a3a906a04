package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/immxrtalbeast/marketcall/internal/domain"
	"github.com/immxrtalbeast/marketcall/internal/media"
	"github.com/immxrtalbeast/marketcall/internal/peer"
	"github.com/immxrtalbeast/marketcall/internal/repository"
	"github.com/immxrtalbeast/marketcall/lib/logger/sl"
	"github.com/pion/webrtc/v3"
)

const (
	EndReasonHangup       = "hangup"
	EndReasonRemoteHangup = "remote hangup"
	EndReasonTornDown     = "torn down"

	defaultStoreTimeout = 10 * time.Second
	eventBuffer         = 64
	outboxSize          = 128
)

var ErrInvalidParams = errors.New("invalid call parameters")

type CallParams struct {
	ConversationID string
	Self           domain.Participant
	Peer           domain.Participant
	Kind           domain.CallKind
}

func (p CallParams) validate() error {
	if p.Self.ID == "" || p.Peer.ID == "" {
		return fmt.Errorf("%w: both participants are required", ErrInvalidParams)
	}
	if p.Self.ID == p.Peer.ID {
		return fmt.Errorf("%w: cannot call yourself", ErrInvalidParams)
	}
	if !p.Kind.Valid() {
		return fmt.Errorf("%w: unknown call kind %q", ErrInvalidParams, p.Kind)
	}
	return nil
}

// CallDeps are the collaborators shared by every call of a process.
type CallDeps struct {
	Store         repository.SignalingStore
	Conversations repository.ConversationRepository
	Media         MediaAcquirer
	NewPeer       PeerFactory
	Sink          peer.TrackSink
	Log           *slog.Logger
	StoreTimeout  time.Duration
}

// Call drives one call attempt from media acquisition to teardown.
// All state transitions happen on a single goroutine fed by the events channel;
// store and media operations run elsewhere and report back as events.
type Call struct {
	params  CallParams
	deps    CallDeps
	session repository.SessionStore
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan event
	done   chan struct{}
	postMu sync.RWMutex
	closed bool

	listenerMu sync.Mutex
	listeners  []func(domain.CallSnapshot)

	snapMu sync.RWMutex
	snap   domain.CallSnapshot
	err    error

	// an offer write may still be in flight when the call ends
	publishMu        sync.Mutex
	publishInFlight  bool
	publishCommitted bool
	publishOrphaned  bool

	// owned by run
	state          domain.CallState
	role           domain.Role
	handle         *media.Handle
	pc             PeerConnection
	gen            int
	queue          peer.CandidateQueue
	pendingLocal   []webrtc.ICECandidateInit
	published      bool
	answerReceived bool
	outbox         chan webrtc.ICECandidateInit
	subs           []repository.Subscription
	muted          bool
	cameraOff      bool
	raceLost       bool
	endReason      string
	startOnce      sync.Once
}

func NewCall(params CallParams, deps CallDeps) (*Call, error) {
	const op = "service.NewCall"

	if err := params.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if params.ConversationID == "" {
		params.ConversationID = domain.ConversationIDFor(params.Self.ID, params.Peer.ID)
	}
	if deps.Store == nil || deps.Media == nil || deps.NewPeer == nil {
		return nil, fmt.Errorf("%s: store, media and peer factory are required", op)
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.StoreTimeout <= 0 {
		deps.StoreTimeout = defaultStoreTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Call{
		params:  params,
		deps:    deps,
		session: deps.Store.Session(params.ConversationID),
		log: deps.Log.With(
			slog.String("conversation_id", params.ConversationID),
			slog.String("self", params.Self.ID),
			slog.String("peer", params.Peer.ID),
			slog.String("kind", string(params.Kind)),
		),
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan event, eventBuffer),
		done:      make(chan struct{}),
		state:     domain.CallStateInitializing,
		cameraOff: params.Kind == domain.CallKindAudio,
	}
	c.snap = c.snapshot()
	return c, nil
}

// OnChange registers fn to receive every snapshot change. fn runs on the
// call goroutine and must not block.
func (c *Call) OnChange(fn func(domain.CallSnapshot)) {
	c.listenerMu.Lock()
	c.listeners = append(c.listeners, fn)
	c.listenerMu.Unlock()
}

// Start begins media acquisition and signaling. Calling it again is a no-op.
func (c *Call) Start() {
	c.startOnce.Do(func() {
		c.log.Info("starting call")
		go c.run()
		c.spawn(func(ctx context.Context) event {
			h, err := c.deps.Media.Acquire(ctx, c.params.Kind)
			return mediaResult{handle: h, err: err}
		})
	})
}

func (c *Call) Snapshot() domain.CallSnapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap
}

// Done is closed once the call has ended and released its resources.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Err reports why setup failed, or nil if the call ended normally.
func (c *Call) Err() error {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.err
}

// Hangup ends the call and waits for the best-effort store cleanup.
// A caller hanging up before the callee answered records a missed call.
func (c *Call) Hangup(ctx context.Context) error {
	err := c.command(ctx, hangupCmd{ctx: ctx, reply: make(chan error, 1)})
	if errors.Is(err, domain.ErrCallNotFound) {
		return nil
	}
	return err
}

// Teardown releases everything the call holds without logging a missed call.
func (c *Call) Teardown() {
	_ = c.command(context.Background(), teardownCmd{reply: make(chan error, 1)})
}

func (c *Call) SetMuted(muted bool) error {
	return c.command(context.Background(), muteCmd{muted: muted, reply: make(chan error, 1)})
}

func (c *Call) SetCameraOff(off bool) error {
	return c.command(context.Background(), cameraCmd{off: off, reply: make(chan error, 1)})
}

type replier interface {
	event
	replyTo() chan error
}

// command hands cmd to the call goroutine. Replies are always sent before
// done is closed, so a closed done with no reply means cmd was never handled.
func (c *Call) command(ctx context.Context, cmd replier) error {
	if !c.post(cmd) {
		return domain.ErrCallNotFound
	}
	select {
	case err := <-cmd.replyTo():
		return err
	case <-c.done:
		select {
		case err := <-cmd.replyTo():
			return err
		default:
			return domain.ErrCallNotFound
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

type event any

type (
	mediaResult struct {
		handle *media.Handle
		err    error
	}
	existingResult struct {
		session *domain.CallSession
		err     error
	}
	publishResult struct {
		gen int
		err error
	}
	raceResult struct {
		session *domain.CallSession
		err     error
	}
	subscribed struct {
		sub repository.Subscription
		err error
	}
	sessionChanged struct {
		session *domain.CallSession
	}
	remoteCandidates struct {
		gen   int
		batch []domain.IceCandidate
	}
	localCandidate struct {
		gen  int
		init webrtc.ICECandidateInit
	}
	answerPublished struct {
		err error
	}
	peerState struct {
		gen   int
		state webrtc.PeerConnectionState
	}
	hangupCmd struct {
		ctx   context.Context
		reply chan error
	}
	teardownCmd struct {
		reply chan error
	}
	muteCmd struct {
		muted bool
		reply chan error
	}
	cameraCmd struct {
		off   bool
		reply chan error
	}
)

func (h hangupCmd) replyTo() chan error   { return h.reply }
func (t teardownCmd) replyTo() chan error { return t.reply }
func (m muteCmd) replyTo() chan error     { return m.reply }
func (m cameraCmd) replyTo() chan error   { return m.reply }

// discard releases what an event holds when the call is already gone.
func discard(ev event) {
	switch e := ev.(type) {
	case mediaResult:
		if e.handle != nil {
			e.handle.Stop()
		}
	case subscribed:
		if e.sub != nil {
			e.sub.Unsubscribe()
		}
	}
}

func (c *Call) post(ev event) bool {
	c.postMu.RLock()
	defer c.postMu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *Call) spawn(fn func(ctx context.Context) event) {
	go func() {
		ev := fn(c.ctx)
		if !c.post(ev) {
			discard(ev)
		}
	}()
}

func (c *Call) storeCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, c.deps.StoreTimeout)
}

func (c *Call) run() {
	defer c.close()
	for ev := range c.events {
		c.reduce(ev)
		if c.state == domain.CallStateEnded {
			return
		}
	}
}

// close stops accepting events and releases whatever was still queued.
func (c *Call) close() {
	close(c.done)
	c.postMu.Lock()
	c.closed = true
	c.postMu.Unlock()
	for {
		select {
		case ev := <-c.events:
			discard(ev)
		default:
			return
		}
	}
}

func (c *Call) reduce(ev event) {
	switch e := ev.(type) {
	case mediaResult:
		c.onMedia(e)
	case existingResult:
		c.onExisting(e)
	case publishResult:
		c.onPublished(e)
	case raceResult:
		c.onRaceResolved(e)
	case subscribed:
		c.onSubscribed(e)
	case sessionChanged:
		c.onSessionChanged(e.session)
	case remoteCandidates:
		c.onRemoteCandidates(e)
	case localCandidate:
		c.onLocalCandidate(e)
	case answerPublished:
		c.onAnswerPublished(e)
	case peerState:
		if e.gen == c.gen {
			c.log.Debug("peer connection state", slog.String("state", e.state.String()))
		}
	case hangupCmd:
		c.onHangup(e)
	case teardownCmd:
		c.finish(EndReasonTornDown, nil)
		e.reply <- nil
	case muteCmd:
		c.muted = e.muted
		if c.handle != nil {
			c.handle.SetAudioEnabled(!e.muted)
		}
		c.publishSnapshot()
		e.reply <- nil
	case cameraCmd:
		if c.params.Kind == domain.CallKindAudio && !e.off {
			e.reply <- fmt.Errorf("%w: audio call has no camera", domain.ErrInvalidState)
			return
		}
		c.cameraOff = e.off
		if c.handle != nil {
			c.handle.SetVideoEnabled(!e.off)
		}
		c.publishSnapshot()
		e.reply <- nil
	}
}

func (c *Call) onMedia(e mediaResult) {
	if e.err != nil {
		c.fail(e.err)
		return
	}
	c.handle = e.handle
	c.handle.SetAudioEnabled(!c.muted)
	c.handle.SetVideoEnabled(!c.cameraOff)

	c.spawn(func(ctx context.Context) event {
		ctx, cancel := c.storeCtx(ctx)
		defer cancel()
		s, err := c.session.GetSession(ctx)
		return existingResult{session: s, err: err}
	})
}

func (c *Call) onExisting(e existingResult) {
	switch {
	case errors.Is(e.err, domain.ErrSessionNotFound):
		c.startAsCaller()
	case e.err != nil:
		c.fail(e.err)
	case e.session.CallerID == c.params.Self.ID:
		c.fail(fmt.Errorf("%w: a session placed by this participant is still open", domain.ErrSetupRace))
	case e.session.Status != domain.SessionStatusOffering || e.session.Offer == nil:
		c.fail(fmt.Errorf("%w: session %q is %s", domain.ErrInvalidState, e.session.ID, e.session.Status))
	default:
		c.startAsCallee(e.session)
	}
}

func (c *Call) newPeer() bool {
	pc, err := c.deps.NewPeer()
	if err != nil {
		c.fail(err)
		return false
	}
	if err := pc.AddLocalTracks(c.handle); err != nil {
		_ = pc.Close()
		c.fail(err)
		return false
	}

	c.gen++
	gen := c.gen
	pc.OnLocalCandidate(func(init webrtc.ICECandidateInit) {
		c.post(localCandidate{gen: gen, init: init})
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.post(peerState{gen: gen, state: s})
	})
	if c.deps.Sink != nil {
		pc.OnRemoteTrack(c.deps.Sink.Attach)
	}
	c.pc = pc
	return true
}

func (c *Call) dropPeer() {
	if c.pc != nil {
		if err := c.pc.Close(); err != nil {
			c.log.Warn("failed to close peer connection", sl.Err(err))
		}
		c.pc = nil
	}
	c.gen++
	c.pendingLocal = nil
	c.queue = peer.CandidateQueue{}
}

func (c *Call) startAsCaller() {
	if !c.newPeer() {
		return
	}
	c.role = domain.RoleOfferer
	c.setState(domain.CallStateCalling)

	offer, err := c.pc.CreateOffer(c.ctx)
	if err != nil {
		c.fail(err)
		return
	}
	session := domain.NewCallSession(c.params.ConversationID, c.params.Self, c.params.Peer, c.params.Kind, offer)
	gen := c.gen
	c.beginPublish()
	c.spawn(func(ctx context.Context) event {
		// the write is not canceled with the call so its outcome is always known
		sctx, cancel := c.storeCtx(context.WithoutCancel(ctx))
		defer cancel()
		err := c.session.PublishSession(sctx, session)
		if c.settlePublish(err) {
			c.removeSession("removed session published after the call ended")
		}
		return publishResult{gen: gen, err: err}
	})
}

func (c *Call) beginPublish() {
	c.publishMu.Lock()
	c.publishInFlight = true
	c.publishMu.Unlock()
}

// settlePublish records the outcome of the offer write and reports whether the
// call ended while it was in flight, leaving the committed session to the writer.
func (c *Call) settlePublish(err error) bool {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()
	c.publishInFlight = false
	c.publishCommitted = err == nil
	return err == nil && c.publishOrphaned
}

// abandonPublish reports whether the offer is known to be committed. An offer
// still in flight is marked orphaned so its writer removes it.
func (c *Call) abandonPublish() bool {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()
	if c.publishInFlight {
		c.publishOrphaned = true
		return false
	}
	return c.publishCommitted
}

func (c *Call) removeSession(msg string) {
	ctx, cancel := c.storeCtx(context.Background())
	defer cancel()
	if err := c.session.DeleteSession(ctx); err != nil {
		c.log.Warn("failed to delete call session", sl.Err(err))
		return
	}
	c.log.Info(msg)
}

func (c *Call) onPublished(e publishResult) {
	if e.gen != c.gen {
		return
	}
	switch {
	case errors.Is(e.err, domain.ErrSessionExists):
		c.log.Warn("lost the race to place the call, joining as callee")
		c.raceLost = true
		c.dropPeer()
		c.setState(domain.CallStateInitializing)
		c.spawn(func(ctx context.Context) event {
			ctx, cancel := c.storeCtx(ctx)
			defer cancel()
			s, err := c.session.GetSession(ctx)
			return raceResult{session: s, err: err}
		})
	case e.err != nil:
		c.fail(e.err)
	default:
		c.log.Info("call session published")
		c.confirmRole()
		c.subscribe(c.role.Other())
	}
}

func (c *Call) onRaceResolved(e raceResult) {
	switch {
	case e.err != nil:
		c.fail(fmt.Errorf("%w: %w", domain.ErrSetupRace, e.err))
	case e.session.CallerID == c.params.Self.ID || e.session.Offer == nil:
		c.fail(fmt.Errorf("%w: competing session is unusable", domain.ErrSetupRace))
	default:
		c.startAsCallee(e.session)
	}
}

func (c *Call) startAsCallee(s *domain.CallSession) {
	if !c.newPeer() {
		return
	}
	c.role = domain.RoleAnswerer
	c.setState(domain.CallStateConnecting)
	c.confirmRole()
	c.subscribe(c.role.Other())

	if err := c.pc.SetRemoteDescription(*s.Offer); err != nil {
		c.fail(err)
		return
	}
	c.drainQueue()

	answer, err := c.pc.CreateAnswer(c.ctx, *s.Offer)
	if err != nil {
		c.fail(err)
		return
	}
	c.spawn(func(ctx context.Context) event {
		ctx, cancel := c.storeCtx(ctx)
		defer cancel()
		return answerPublished{err: c.session.UpdateSession(ctx, domain.AnswerPatch(answer))}
	})
}

func (c *Call) onAnswerPublished(e answerPublished) {
	switch {
	case errors.Is(e.err, domain.ErrSessionNotFound):
		c.finish(EndReasonRemoteHangup, nil)
	case e.err != nil:
		c.fail(e.err)
	default:
		c.log.Info("answer published")
		c.setState(domain.CallStateConnected)
	}
}

// confirmRole starts publishing local candidates under the current role.
func (c *Call) confirmRole() {
	c.published = true
	out := make(chan webrtc.ICECandidateInit, outboxSize)
	c.outbox = out
	role := c.role
	ctx := c.ctx
	go func() {
		for init := range out {
			sctx, cancel := c.storeCtx(ctx)
			err := c.session.AddCandidate(sctx, role, init)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.log.Warn("failed to publish local candidate", sl.Err(err))
			}
		}
	}()
	for _, init := range c.pendingLocal {
		c.enqueueLocal(init)
	}
	c.pendingLocal = nil
}

func (c *Call) enqueueLocal(init webrtc.ICECandidateInit) {
	select {
	case c.outbox <- init:
	default:
		c.log.Warn("local candidate outbox full, dropping candidate")
	}
}

func (c *Call) onLocalCandidate(e localCandidate) {
	if e.gen != c.gen {
		return
	}
	if !c.published {
		c.pendingLocal = append(c.pendingLocal, e.init)
		return
	}
	c.enqueueLocal(e.init)
}

// subscribe watches the session document and the remote side's candidates.
func (c *Call) subscribe(remote domain.Role) {
	gen := c.gen
	c.spawn(func(ctx context.Context) event {
		sub, err := c.session.SubscribeSession(ctx, func(s *domain.CallSession) {
			c.post(sessionChanged{session: s})
		})
		return subscribed{sub: sub, err: err}
	})
	c.spawn(func(ctx context.Context) event {
		sub, err := c.session.SubscribeCandidates(ctx, remote, func(batch []domain.IceCandidate) {
			c.post(remoteCandidates{gen: gen, batch: batch})
		})
		return subscribed{sub: sub, err: err}
	})
}

func (c *Call) onSubscribed(e subscribed) {
	if e.err != nil {
		c.fail(e.err)
		return
	}
	c.subs = append(c.subs, e.sub)
}

func (c *Call) onSessionChanged(s *domain.CallSession) {
	if s == nil {
		c.log.Info("call session removed by peer")
		c.finish(EndReasonRemoteHangup, nil)
		return
	}
	if c.role != domain.RoleOfferer || c.pc == nil || c.answerReceived || s.Answer == nil {
		return
	}
	if err := c.pc.SetRemoteDescription(*s.Answer); err != nil {
		c.fail(err)
		return
	}
	c.answerReceived = true
	c.drainQueue()
	c.setState(domain.CallStateConnected)
}

func (c *Call) onRemoteCandidates(e remoteCandidates) {
	if e.gen != c.gen || c.pc == nil {
		return
	}
	for _, cand := range e.batch {
		if !c.pc.HasRemoteDescription() {
			c.queue.Push(cand.Init)
			continue
		}
		if err := c.pc.AddICECandidate(cand.Init); err != nil {
			c.log.Warn("failed to add remote candidate", sl.Err(err))
		}
	}
}

func (c *Call) drainQueue() {
	for _, err := range c.queue.Drain(c.pc.AddICECandidate) {
		c.log.Warn("failed to add queued candidate", sl.Err(err))
	}
}

func (c *Call) onHangup(e hangupCmd) {
	missed := c.role == domain.RoleOfferer && c.state == domain.CallStateCalling
	c.finish(EndReasonHangup, nil)

	ctx, cancel := c.storeCtx(context.WithoutCancel(e.ctx))
	defer cancel()
	if missed {
		c.recordMissedCall(ctx)
	}
	if err := c.session.DeleteSession(ctx); err != nil {
		c.log.Warn("failed to delete call session", sl.Err(err))
	}
	e.reply <- nil
}

func (c *Call) recordMissedCall(ctx context.Context) {
	if c.deps.Conversations == nil {
		return
	}
	text := domain.MissedCallText(c.params.Kind)
	msg := domain.NewSystemMessage(c.params.ConversationID, c.params.Self.ID, text)
	if err := c.deps.Conversations.AppendSystemMessage(ctx, msg); err != nil {
		c.log.Warn("failed to log missed call", sl.Err(err))
		return
	}
	err := c.deps.Conversations.RecordMissedCall(ctx, c.params.ConversationID, c.params.Self.ID, c.params.Peer.ID, text, msg.CreatedAt)
	if err != nil {
		c.log.Warn("failed to update conversation after missed call", sl.Err(err))
		return
	}
	c.log.Info("missed call recorded")
}

func (c *Call) fail(err error) {
	c.log.Error("call setup failed", sl.Err(err))
	c.finish("setup failed: "+err.Error(), err)
}

// finish releases every resource and moves to ended. It runs at most once.
func (c *Call) finish(reason string, err error) {
	if c.state == domain.CallStateEnded {
		return
	}
	committed := c.abandonPublish()
	abandoned := c.role == domain.RoleOfferer && committed && !c.answerReceived && reason == EndReasonTornDown

	c.cancel()
	for _, sub := range c.subs {
		sub.Unsubscribe()
	}
	c.subs = nil
	if c.outbox != nil {
		close(c.outbox)
		c.outbox = nil
	}
	if c.handle != nil {
		c.handle.Stop()
	}
	if c.pc != nil {
		if cerr := c.pc.Close(); cerr != nil {
			c.log.Warn("failed to close peer connection", sl.Err(cerr))
		}
	}

	if abandoned {
		go c.removeSession("removed unanswered call session")
	}

	c.endReason = reason
	c.snapMu.Lock()
	c.err = err
	c.snapMu.Unlock()
	c.setState(domain.CallStateEnded)
	c.log.Info("call ended", slog.String("reason", reason))
}

func (c *Call) setState(s domain.CallState) {
	if c.state == s {
		return
	}
	c.log.Debug("call state changed", slog.String("from", string(c.state)), slog.String("to", string(s)))
	c.state = s
	c.publishSnapshot()
}

func (c *Call) snapshot() domain.CallSnapshot {
	return domain.CallSnapshot{
		ConversationID: c.params.ConversationID,
		State:          c.state,
		Role:           c.role,
		Kind:           c.params.Kind,
		Self:           c.params.Self,
		Peer:           c.params.Peer,
		Muted:          c.muted,
		CameraOff:      c.cameraOff,
		RaceLost:       c.raceLost,
		EndReason:      c.endReason,
	}
}

func (c *Call) publishSnapshot() {
	snap := c.snapshot()
	c.snapMu.Lock()
	c.snap = snap
	c.snapMu.Unlock()

	c.listenerMu.Lock()
	listeners := append([]func(domain.CallSnapshot){}, c.listeners...)
	c.listenerMu.Unlock()
	for _, fn := range listeners {
		fn(snap)
	}
}
