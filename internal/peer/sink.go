package peer

import (
	"errors"
	"io"
	"log/slog"

	"github.com/immxrtalbeast/marketcall/lib/logger/sl"
	"github.com/pion/webrtc/v3"
)

// TrackSink receives inbound media of a call.
type TrackSink interface {
	Attach(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
}

// DiscardSink reads and drops inbound RTP so the receive pipeline keeps flowing.
type DiscardSink struct {
	Log *slog.Logger
}

func (s DiscardSink) Attach(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With(
		slog.String("kind", track.Kind().String()),
		slog.String("track_id", track.ID()),
		slog.String("codec", track.Codec().MimeType),
	)
	log.Info("remote track attached")

	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := track.Read(buf); err != nil {
				if !errors.Is(err, io.EOF) {
					log.Debug("remote track stopped", sl.Err(err))
				}
				return
			}
		}
	}()
}
