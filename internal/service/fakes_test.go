package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/immxrtalbeast/marketcall/internal/domain"
	"github.com/immxrtalbeast/marketcall/internal/media"
	"github.com/immxrtalbeast/marketcall/internal/repository"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

var (
	alice = domain.Participant{ID: "u1", Name: "Alice"}
	bob   = domain.Participant{ID: "u2", Name: "Bob"}
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTrack struct {
	kind    webrtc.RTPCodecType
	enabled atomic.Bool
	stops   atomic.Int32
}

func newFakeTrack(kind webrtc.RTPCodecType) *fakeTrack {
	t := &fakeTrack{kind: kind}
	t.enabled.Store(true)
	return t
}

func (t *fakeTrack) Kind() webrtc.RTPCodecType { return t.kind }
func (t *fakeTrack) Local() webrtc.TrackLocal  { return nil }
func (t *fakeTrack) SetEnabled(enabled bool)   { t.enabled.Store(enabled) }
func (t *fakeTrack) Enabled() bool             { return t.enabled.Load() }
func (t *fakeTrack) Stop()                     { t.stops.Add(1) }

// fakeDevice hands out fresh fake tracks, optionally blocking until released.
type fakeDevice struct {
	mu      sync.Mutex
	tracks  []*fakeTrack
	entered chan struct{}
	once    sync.Once
	release chan struct{}
	err     error
}

func (d *fakeDevice) Open(_ context.Context, c media.Constraints) ([]media.Track, error) {
	if d.entered != nil {
		d.once.Do(func() { close(d.entered) })
	}
	if d.release != nil {
		<-d.release
	}
	if d.err != nil {
		return nil, d.err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	out := []media.Track{}
	if c.Audio {
		t := newFakeTrack(webrtc.RTPCodecTypeAudio)
		d.tracks = append(d.tracks, t)
		out = append(out, t)
	}
	if c.Video {
		t := newFakeTrack(webrtc.RTPCodecTypeVideo)
		d.tracks = append(d.tracks, t)
		out = append(out, t)
	}
	return out, nil
}

func (d *fakeDevice) all() []*fakeTrack {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeTrack(nil), d.tracks...)
}

// fakePeer mimics the description rules of peer.Manager without networking.
type fakePeer struct {
	id string

	mu      sync.Mutex
	remote  *webrtc.SessionDescription
	applied []webrtc.ICECandidateInit
	onLocal func(webrtc.ICECandidateInit)
	closed  bool
	reject  string
}

func (p *fakePeer) AddLocalTracks(*media.Handle) error { return nil }

func (p *fakePeer) CreateOffer(context.Context) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote != nil {
		return webrtc.SessionDescription{}, domain.ErrInvalidState
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-" + p.id}, nil
}

func (p *fakePeer) CreateAnswer(_ context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.remote == nil:
		p.remote = &offer
	case p.remote.SDP != offer.SDP:
		return webrtc.SessionDescription{}, domain.ErrInvalidState
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-" + p.id}, nil
}

func (p *fakePeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote != nil {
		return domain.ErrInvalidState
	}
	p.remote = &desc
	return nil
}

func (p *fakePeer) HasRemoteDescription() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote != nil
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return domain.ErrInvalidState
	}
	if p.reject != "" && c.Candidate == p.reject {
		return errors.New("malformed candidate")
	}
	p.applied = append(p.applied, c)
	return nil
}

func (p *fakePeer) OnLocalCandidate(cb func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	p.onLocal = cb
	p.mu.Unlock()
}

func (p *fakePeer) OnRemoteTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {}
func (p *fakePeer) OnConnectionStateChange(func(webrtc.PeerConnectionState))      {}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// emit simulates ICE gathering producing a local candidate.
func (p *fakePeer) emit(candidate string) {
	p.mu.Lock()
	cb := p.onLocal
	p.mu.Unlock()
	if cb != nil {
		cb(webrtc.ICECandidateInit{Candidate: candidate})
	}
}

func (p *fakePeer) remoteSDP() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return ""
	}
	return p.remote.SDP
}

func (p *fakePeer) appliedCandidates() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.applied))
	for _, c := range p.applied {
		out = append(out, c.Candidate)
	}
	return out
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type peerRecorder struct {
	prefix string
	mu     sync.Mutex
	peers  []*fakePeer
}

func (r *peerRecorder) factory() PeerFactory {
	return func() (PeerConnection, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		p := &fakePeer{id: fmt.Sprintf("%s-%d", r.prefix, len(r.peers))}
		r.peers = append(r.peers, p)
		return p, nil
	}
}

func (r *peerRecorder) last() *fakePeer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.peers) == 0 {
		return nil
	}
	return r.peers[len(r.peers)-1]
}

func (r *peerRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

type side struct {
	device *fakeDevice
	peers  *peerRecorder
	deps   CallDeps
}

func newSide(t *testing.T, name string, store repository.SignalingStore, convs repository.ConversationRepository) *side {
	t.Helper()
	s := &side{device: &fakeDevice{}, peers: &peerRecorder{prefix: name}}
	s.deps = CallDeps{
		Store:         store,
		Conversations: convs,
		Media:         media.NewAcquirer(s.device, discardLogger()),
		NewPeer:       s.peers.factory(),
		Log:           discardLogger(),
		StoreTimeout:  time.Second,
	}
	return s
}

func startCall(t *testing.T, deps CallDeps, params CallParams) *Call {
	t.Helper()
	c, err := NewCall(params, deps)
	require.NoError(t, err)
	c.Start()
	t.Cleanup(c.Teardown)
	return c
}

func requireState(t *testing.T, c *Call, want domain.CallState) {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.Snapshot().State == want
	}, waitFor, tick, "call never reached %s, last snapshot %+v", want, c.Snapshot())
}

// collectCandidates subscribes to one role's candidate list of a conversation.
func collectCandidates(t *testing.T, store repository.SignalingStore, conv string, role domain.Role) func() []string {
	t.Helper()
	var mu sync.Mutex
	var got []string
	sub, err := store.Session(conv).SubscribeCandidates(context.Background(), role, func(batch []domain.IceCandidate) {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range batch {
			got = append(got, c.Init.Candidate)
		}
	})
	require.NoError(t, err)
	t.Cleanup(sub.Unsubscribe)
	return func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), got...)
	}
}

// waitPublished blocks until the caller has confirmed its session. Local candidates
// reach the store only after that, so a marker candidate showing up is the signal.
func waitPublished(t *testing.T, store repository.SignalingStore, conv string, pc *fakePeer) {
	t.Helper()
	require.NotNil(t, pc)
	offered := collectCandidates(t, store, conv, domain.RoleOfferer)
	pc.emit("marker")
	require.Eventually(t, func() bool { return len(offered()) > 0 }, waitFor, tick)
}

// barrierStore holds the first n GetSession calls until all of them have arrived,
// forcing concurrent callers to both see an empty conversation.
type barrierStore struct {
	repository.SignalingStore
	n       int32
	arrived atomic.Int32
	all     chan struct{}
	once    sync.Once
}

func newBarrierStore(inner repository.SignalingStore, n int32) *barrierStore {
	return &barrierStore{SignalingStore: inner, n: n, all: make(chan struct{})}
}

func (b *barrierStore) Session(conversationID string) repository.SessionStore {
	return &barrierSession{SessionStore: b.SignalingStore.Session(conversationID), b: b}
}

type barrierSession struct {
	repository.SessionStore
	b *barrierStore
}

func (s *barrierSession) GetSession(ctx context.Context) (*domain.CallSession, error) {
	if s.b.arrived.Add(1) <= s.b.n {
		if s.b.arrived.Load() >= s.b.n {
			s.b.once.Do(func() { close(s.b.all) })
		}
		select {
		case <-s.b.all:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.SessionStore.GetSession(ctx)
}

// gatedStore holds PublishSession on a gate, either before the write reaches the
// store or after it has been committed.
type gatedStore struct {
	repository.SignalingStore
	commitFirst bool
	entered     chan struct{}
	release     chan struct{}
	once        sync.Once
}

func newGatedStore(inner repository.SignalingStore, commitFirst bool) *gatedStore {
	return &gatedStore{
		SignalingStore: inner,
		commitFirst:    commitFirst,
		entered:        make(chan struct{}),
		release:        make(chan struct{}),
	}
}

func (g *gatedStore) Session(conversationID string) repository.SessionStore {
	return &gatedSession{SessionStore: g.SignalingStore.Session(conversationID), g: g}
}

type gatedSession struct {
	repository.SessionStore
	g *gatedStore
}

func (s *gatedSession) PublishSession(ctx context.Context, session *domain.CallSession) error {
	var err error
	if s.g.commitFirst {
		err = s.SessionStore.PublishSession(ctx, session)
	}
	s.g.once.Do(func() { close(s.g.entered) })
	<-s.g.release
	if !s.g.commitFirst {
		err = s.SessionStore.PublishSession(ctx, session)
	}
	return err
}
