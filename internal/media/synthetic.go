package media

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/marketcall/internal/domain"
	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
)

const opusFrameDuration = 20 * time.Millisecond

// opus comfort-noise frame
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SyntheticDevice produces pion sample tracks. The audio track carries opus silence
// while enabled; the video track is negotiated but has no capture source.
type SyntheticDevice struct {
	StreamID string
}

func NewSyntheticDevice() *SyntheticDevice {
	return &SyntheticDevice{StreamID: "marketcall-" + uuid.NewString()}
}

func (d *SyntheticDevice) Open(ctx context.Context, c Constraints) ([]Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.Audio && !c.Video {
		return nil, fmt.Errorf("%w: no capture kind requested", domain.ErrDeviceUnavailable)
	}

	var tracks []Track
	if c.Audio {
		t, err := newSampleTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, "audio", d.StreamID, webrtc.RTPCodecTypeAudio)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
		}
		t.pump(opusSilence, opusFrameDuration)
		tracks = append(tracks, t)
	}
	if c.Video {
		t, err := newSampleTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, "video", d.StreamID, webrtc.RTPCodecTypeVideo)
		if err != nil {
			stopAll(tracks)
			return nil, fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

type sampleTrack struct {
	track   *webrtc.TrackLocalStaticSample
	kind    webrtc.RTPCodecType
	enabled atomic.Bool
	done    chan struct{}
	once    sync.Once
}

func newSampleTrack(codec webrtc.RTPCodecCapability, id, streamID string, kind webrtc.RTPCodecType) (*sampleTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(codec, id, streamID)
	if err != nil {
		return nil, err
	}
	t := &sampleTrack{track: track, kind: kind, done: make(chan struct{})}
	t.enabled.Store(true)
	return t, nil
}

func (t *sampleTrack) Kind() webrtc.RTPCodecType { return t.kind }
func (t *sampleTrack) Local() webrtc.TrackLocal  { return t.track }
func (t *sampleTrack) SetEnabled(enabled bool)   { t.enabled.Store(enabled) }
func (t *sampleTrack) Enabled() bool             { return t.enabled.Load() }

func (t *sampleTrack) Stop() {
	t.once.Do(func() { close(t.done) })
}

func (t *sampleTrack) pump(frame []byte, every time.Duration) {
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-t.done:
				return
			case <-ticker.C:
			}
			if !t.enabled.Load() {
				continue
			}
			// no bound sender yet is not an error for a static track
			_ = t.track.WriteSample(pionmedia.Sample{Data: frame, Duration: every})
		}
	}()
}
