package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/immxrtalbeast/marketcall/internal/domain"
	"github.com/pion/webrtc/v3"
)

// Constraints select which capture kinds a device must provide.
type Constraints struct {
	Audio bool
	Video bool
}

func ConstraintsFor(kind domain.CallKind) Constraints {
	return Constraints{Audio: true, Video: kind == domain.CallKindVideo}
}

// Track is one captured local track.
type Track interface {
	Kind() webrtc.RTPCodecType
	Local() webrtc.TrackLocal
	SetEnabled(enabled bool)
	Enabled() bool
	// Stop releases the capture source. It is safe to call more than once.
	Stop()
}

// Device opens capture tracks. Implementations return domain.ErrPermissionDenied or
// domain.ErrDeviceUnavailable when capture cannot start.
type Device interface {
	Open(ctx context.Context, c Constraints) ([]Track, error)
}

// Handle owns the local tracks of one call until Stop.
type Handle struct {
	mu      sync.Mutex
	tracks  []Track
	stopped bool
}

func NewHandle(tracks []Track) *Handle {
	return &Handle{tracks: tracks}
}

func (h *Handle) Tracks() []Track {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Track, len(h.tracks))
	copy(out, h.tracks)
	return out
}

func (h *Handle) SetAudioEnabled(enabled bool) {
	h.setEnabled(webrtc.RTPCodecTypeAudio, enabled)
}

func (h *Handle) SetVideoEnabled(enabled bool) {
	h.setEnabled(webrtc.RTPCodecTypeVideo, enabled)
}

func (h *Handle) AudioEnabled() bool {
	return h.anyEnabled(webrtc.RTPCodecTypeAudio)
}

func (h *Handle) VideoEnabled() bool {
	return h.anyEnabled(webrtc.RTPCodecTypeVideo)
}

// Stop stops every track once.
func (h *Handle) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	stopAll(h.tracks)
}

func (h *Handle) Stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

func (h *Handle) setEnabled(kind webrtc.RTPCodecType, enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range h.tracks {
		if t.Kind() == kind {
			t.SetEnabled(enabled)
		}
	}
}

func (h *Handle) anyEnabled(kind webrtc.RTPCodecType) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range h.tracks {
		if t.Kind() == kind && t.Enabled() {
			return true
		}
	}
	return false
}

// Acquirer requests capture from a Device on behalf of a call.
type Acquirer struct {
	device Device
	log    *slog.Logger
}

func NewAcquirer(device Device, log *slog.Logger) *Acquirer {
	if log == nil {
		log = slog.Default()
	}
	return &Acquirer{device: device, log: log}
}

type openResult struct {
	tracks []Track
	err    error
}

// Acquire opens capture for kind. When ctx ends before the device resolves, Acquire
// returns domain.ErrAcquireCanceled right away and the tracks are stopped as soon as
// the device hands them over.
func (a *Acquirer) Acquire(ctx context.Context, kind domain.CallKind) (*Handle, error) {
	const op = "media.acquire"
	log := a.log.With(slog.String("op", op), slog.String("kind", string(kind)))

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, domain.ErrAcquireCanceled, err)
	}

	results := make(chan openResult, 1)
	go func() {
		tracks, err := a.device.Open(ctx, ConstraintsFor(kind))
		results <- openResult{tracks: tracks, err: err}
	}()

	select {
	case res := <-results:
		if res.err != nil {
			stopAll(res.tracks)
			return nil, fmt.Errorf("%s: %w", op, classify(res.err))
		}
		if ctx.Err() != nil {
			stopAll(res.tracks)
			log.Debug("capture resolved after cancellation, tracks stopped")
			return nil, fmt.Errorf("%s: %w: %v", op, domain.ErrAcquireCanceled, ctx.Err())
		}
		log.Debug("capture acquired", slog.Int("tracks", len(res.tracks)))
		return NewHandle(res.tracks), nil
	case <-ctx.Done():
		go func() {
			res := <-results
			if len(res.tracks) > 0 {
				stopAll(res.tracks)
				log.Debug("capture resolved after cancellation, tracks stopped")
			}
		}()
		return nil, fmt.Errorf("%s: %w: %v", op, domain.ErrAcquireCanceled, ctx.Err())
	}
}

func classify(err error) error {
	if errors.Is(err, domain.ErrPermissionDenied) || errors.Is(err, domain.ErrDeviceUnavailable) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrAcquireCanceled, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
}

func stopAll(tracks []Track) {
	for _, t := range tracks {
		if t != nil {
			t.Stop()
		}
	}
}
