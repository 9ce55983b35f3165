package service

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"gate-service/internal/domain/gate"
	"gate-service/internal/vision"
)

type publishedEvent struct {
	Channel string
	Event   string
	Payload interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, channel, event string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Channel: channel, Event: event, Payload: payload})
	return nil
}

func (p *recordingPublisher) count(channel string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Channel == channel {
			n++
		}
	}
	return n
}

func (p *recordingPublisher) last() publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

// scriptedDetector returns the scripted outcomes in order, repeating the last.
type scriptedDetector struct {
	mu       sync.Mutex
	outcomes []vision.Outcome
	creds    []string
	calls    atomic.Int32
	started  chan struct{}
	release  chan struct{}
}

func (d *scriptedDetector) Detect(ctx context.Context, cred gate.Credential, _ []byte, _ string) (vision.Outcome, error) {
	n := int(d.calls.Add(1))
	d.mu.Lock()
	d.creds = append(d.creds, cred.Identifier)
	d.mu.Unlock()

	if d.started != nil {
		d.started <- struct{}{}
	}
	if d.release != nil {
		<-d.release
	}

	if n > len(d.outcomes) {
		return d.outcomes[len(d.outcomes)-1], nil
	}
	return d.outcomes[n-1], nil
}

type mapRegistry map[string]*gate.RegistryMatch

func (r mapRegistry) FindActiveByPlate(_ context.Context, normalized string) (*gate.RegistryMatch, error) {
	return r[normalized], nil
}

type countingStore struct {
	inner interface {
		AcquireLeastUsed(ctx context.Context) (gate.Credential, error)
	}
	calls atomic.Int32
}

func (s *countingStore) AcquireLeastUsed(ctx context.Context) (gate.Credential, error) {
	s.calls.Add(1)
	return s.inner.AcquireLeastUsed(ctx)
}

type recordingEventLog struct {
	mu     sync.Mutex
	events []gate.EventRecord
}

func (l *recordingEventLog) Create(_ context.Context, ev gate.EventRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func pngImage(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func success(plate string, conf float64, box gate.NormalizedBox) vision.Outcome {
	return vision.Outcome{
		Kind:   vision.Success,
		Result: gate.DetectionResult{PlateText: plate, OCRConfidence: conf, Box: box},
	}
}

var transient = vision.Outcome{Kind: vision.TransientFailure, Reason: "rate_limited"}
