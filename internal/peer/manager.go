package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/immxrtalbeast/marketcall/internal/domain"
	"github.com/immxrtalbeast/marketcall/internal/media"
	"github.com/pion/webrtc/v3"
)

type Config struct {
	STUNServers          []string
	ICECandidatePoolSize uint8
}

// Manager owns one pion peer connection for the duration of a call.
type Manager struct {
	pc  *webrtc.PeerConnection
	log *slog.Logger

	mu        sync.Mutex
	remoteSet bool
	closed    bool
}

func New(cfg Config, log *slog.Logger) (*Manager, error) {
	const op = "peer.new"
	if log == nil {
		log = slog.Default()
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m))

	config := webrtc.Configuration{ICECandidatePoolSize: cfg.ICECandidatePoolSize}
	if len(cfg.STUNServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: cfg.STUNServers}}
	}

	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Manager{pc: pc, log: log.With(slog.String("component", "peer"))}, nil
}

func (m *Manager) AddLocalTracks(h *media.Handle) error {
	const op = "peer.addLocalTracks"
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("%s: %w: connection closed", op, domain.ErrInvalidState)
	}
	for _, t := range h.Tracks() {
		sender, err := m.pc.AddTrack(t.Local())
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		// RTCP has to be read for interceptors to run
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := sender.Read(buf); err != nil {
					return
				}
			}
		}()
	}
	return nil
}

// CreateOffer creates the caller's offer and applies it locally.
func (m *Manager) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	const op = "peer.createOffer"
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.usable(ctx); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%s: %w", op, err)
	}
	if m.remoteSet {
		return webrtc.SessionDescription{}, fmt.Errorf("%s: %w: remote description already set", op, domain.ErrInvalidState)
	}

	offer, err := m.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := m.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%s: %w", op, err)
	}
	return offer, nil
}

// CreateAnswer applies remoteOffer unless it is already the remote description, then
// creates the callee's answer and applies it locally.
func (m *Manager) CreateAnswer(ctx context.Context, remoteOffer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	const op = "peer.createAnswer"
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.usable(ctx); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%s: %w", op, err)
	}
	if remoteOffer.Type != webrtc.SDPTypeOffer {
		return webrtc.SessionDescription{}, fmt.Errorf("%s: %w: expected offer, got %s", op, domain.ErrInvalidState, remoteOffer.Type)
	}

	if !m.remoteSet {
		if err := m.setRemoteLocked(remoteOffer); err != nil {
			return webrtc.SessionDescription{}, fmt.Errorf("%s: %w", op, err)
		}
	} else if current := m.pc.RemoteDescription(); current == nil || current.SDP != remoteOffer.SDP {
		return webrtc.SessionDescription{}, fmt.Errorf("%s: %w: a different remote description is set", op, domain.ErrInvalidState)
	}

	answer, err := m.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := m.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%s: %w", op, err)
	}
	return answer, nil
}

// SetRemoteDescription fails with domain.ErrInvalidState once a remote description is set.
func (m *Manager) SetRemoteDescription(desc webrtc.SessionDescription) error {
	const op = "peer.setRemoteDescription"
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("%s: %w: connection closed", op, domain.ErrInvalidState)
	}
	if err := m.setRemoteLocked(desc); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (m *Manager) setRemoteLocked(desc webrtc.SessionDescription) error {
	if m.remoteSet {
		return fmt.Errorf("%w: remote description already set", domain.ErrInvalidState)
	}
	if err := m.pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	m.remoteSet = true
	return nil
}

func (m *Manager) HasRemoteDescription() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remoteSet
}

// AddICECandidate applies a remote candidate. Candidates that arrive before the remote
// description must be held in a CandidateQueue by the caller.
func (m *Manager) AddICECandidate(c webrtc.ICECandidateInit) error {
	const op = "peer.addICECandidate"
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("%s: %w: connection closed", op, domain.ErrInvalidState)
	}
	if !m.remoteSet {
		return fmt.Errorf("%s: %w: remote description not set", op, domain.ErrInvalidState)
	}
	if err := m.pc.AddICECandidate(c); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (m *Manager) OnLocalCandidate(cb func(webrtc.ICECandidateInit)) {
	m.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if c == nil {
			return
		}
		cb(c.ToJSON())
	})
}

func (m *Manager) OnRemoteTrack(cb func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	m.pc.OnTrack(cb)
}

func (m *Manager) OnConnectionStateChange(cb func(webrtc.PeerConnectionState)) {
	m.pc.OnConnectionStateChange(cb)
}

func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if err := m.pc.Close(); err != nil && !errors.Is(err, webrtc.ErrConnectionClosed) {
		return fmt.Errorf("peer.close: %w", err)
	}
	return nil
}

func (m *Manager) usable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.closed {
		return fmt.Errorf("%w: connection closed", domain.ErrInvalidState)
	}
	return nil
}
