package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gate-service/internal/domain/gate"
)

const DefaultStreamID = "default"

type FrameRelayConfig struct {
	MaxStreams int
	MaxBytes   int64
}

// FrameRelay keeps the most recent frame per stream and announces new frames
// on the video channel. Frame bytes are never published.
type FrameRelay struct {
	mu     sync.RWMutex
	frames map[string]gate.LatestFrame

	cfg FrameRelayConfig
	now func() time.Time
	pub Publisher
	log zerolog.Logger
}

func NewFrameRelay(cfg FrameRelayConfig, pub Publisher, log zerolog.Logger) *FrameRelay {
	if cfg.MaxStreams <= 0 {
		cfg.MaxStreams = 32
	}
	return &FrameRelay{
		frames: make(map[string]gate.LatestFrame),
		cfg:    cfg,
		now:    time.Now,
		pub:    pub,
		log:    log.With().Str("component", "frames").Logger(),
	}
}

// Store replaces the latest frame of the stream. When a new stream would
// exceed MaxStreams the least recently updated stream is dropped.
func (r *FrameRelay) Store(ctx context.Context, streamID string, data []byte, contentType string) error {
	streamID = strings.TrimSpace(streamID)
	if streamID == "" {
		streamID = DefaultStreamID
	}
	if err := validateImage(data, contentType, r.cfg.MaxBytes); err != nil {
		return err
	}

	frame := gate.LatestFrame{
		StreamID:    streamID,
		Image:       append([]byte(nil), data...),
		ContentType: contentType,
		CapturedAt:  r.now(),
	}

	r.mu.Lock()
	if _, ok := r.frames[streamID]; !ok && len(r.frames) >= r.cfg.MaxStreams {
		r.evictOldestLocked()
	}
	r.frames[streamID] = frame
	r.mu.Unlock()

	if r.pub != nil {
		payload := gate.FramePayload{StreamID: streamID, TS: frame.CapturedAt.UnixMilli()}
		if err := r.pub.Publish(ctx, gate.VideoChannel, gate.FrameEvent, payload); err != nil {
			r.log.Warn().Err(err).Str("stream_id", streamID).Msg("failed to publish frame event")
		}
	}
	return nil
}

func (r *FrameRelay) Get(streamID string) (gate.LatestFrame, error) {
	streamID = strings.TrimSpace(streamID)
	if streamID == "" {
		streamID = DefaultStreamID
	}

	r.mu.RLock()
	frame, ok := r.frames[streamID]
	r.mu.RUnlock()
	if !ok {
		return gate.LatestFrame{}, fmt.Errorf("%w: no frame for stream %q", ErrNotFound, streamID)
	}
	return frame, nil
}

func (r *FrameRelay) Streams() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.frames)
}

func (r *FrameRelay) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, f := range r.frames {
		if oldestID == "" || f.CapturedAt.Before(oldest) {
			oldestID = id
			oldest = f.CapturedAt
		}
	}
	if oldestID != "" {
		delete(r.frames, oldestID)
		r.log.Debug().Str("stream_id", oldestID).Msg("evicted stale stream")
	}
}
