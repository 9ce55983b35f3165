package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"gate-service/internal/domain/gate"
	"gate-service/internal/repository"
	"gate-service/internal/vision"
)

type detectionFixture struct {
	svc      *DetectionService
	gate     *GateMachine
	pub      *recordingPublisher
	detector *scriptedDetector
	store    *countingStore
	events   *recordingEventLog
}

func newDetectionFixture(t *testing.T, detector *scriptedDetector, registry mapRegistry, creds []gate.Credential) *detectionFixture {
	t.Helper()
	if creds == nil {
		creds = []gate.Credential{
			{Identifier: "a@example.com", SecretKey: "ka", Active: true},
			{Identifier: "b@example.com", SecretKey: "kb", Active: true},
			{Identifier: "c@example.com", SecretKey: "kc", Active: true},
		}
	}

	pub := &recordingPublisher{}
	machine := NewGateMachine(GateConfig{DwellTime: 5 * time.Second, ResetTimeout: time.Minute}, pub, zerolog.Nop())
	t.Cleanup(machine.Stop)

	store := &countingStore{inner: repository.NewMemoryCredentialStore(creds)}
	events := &recordingEventLog{}
	svc := NewDetectionService(
		DetectionConfig{MaxAttempts: 3, MaxImageBytes: 4 << 20, MaxConcurrent: 1, RequirePresence: true},
		NewCredentialRotator(store, zerolog.Nop()),
		detector,
		registry,
		machine,
		events,
		zerolog.Nop(),
	)
	return &detectionFixture{svc: svc, gate: machine, pub: pub, detector: detector, store: store, events: events}
}

func (f *detectionFixture) detect(t *testing.T, img []byte) (*gate.DetectResponse, error) {
	t.Helper()
	stream := "gate-1"
	return f.svc.Detect(context.Background(), DetectRequest{StreamID: &stream, Image: img, ContentType: "image/png"})
}

func TestDetection_ScenarioA_PixelBox(t *testing.T) {
	driver := "Jamie Doe"
	registry := mapRegistry{"ABC1234": {VehicleID: 7, PlateNumber: "ABC-1234", Vehicle: gate.VehicleSummary{Brand: "Toyota", Model: "Vios", Type: "Sedan"}, DriverName: &driver}}
	detector := &scriptedDetector{outcomes: []vision.Outcome{
		success("ABC1234", 0.9, gate.NormalizedBox{NX1: 0.1, NY1: 0.2, NX2: 0.3, NY2: 0.4}),
	}}
	f := newDetectionFixture(t, detector, registry, nil)
	f.gate.SetSensor(context.Background(), true)

	resp, err := f.detect(t, pngImage(t, 800, 600))
	require.NoError(t, err)
	require.Equal(t, 800, resp.ImageWidth)
	require.Equal(t, 600, resp.ImageHeight)
	require.NotNil(t, resp.FocusPlate)
	require.Equal(t, "ABC1234", *resp.FocusPlate)
	require.Len(t, resp.Detections, 1)

	box := resp.Detections[0].Box
	require.InDelta(t, 80.0, box.X1, 1e-9)
	require.InDelta(t, 120.0, box.Y1, 1e-9)
	require.InDelta(t, 240.0, box.X2, 1e-9)
	require.InDelta(t, 240.0, box.Y2, 1e-9)
	require.InDelta(t, 160.0, box.Width, 1e-9)
	require.InDelta(t, 120.0, box.Height, 1e-9)
	require.InDelta(t, 160.0, box.CenterX, 1e-9)
	require.InDelta(t, 180.0, box.CenterY, 1e-9)
	require.True(t, resp.Detections[0].IsFocus)
	require.InDelta(t, 0.9, resp.Detections[0].OCRConfidence, 1e-9)

	state := f.gate.State()
	require.Equal(t, gate.StatusPresentRegistered, state.Status)
	require.True(t, state.Registered)
	require.Equal(t, "Toyota", state.Vehicle.Brand)
	require.Equal(t, "Jamie Doe", *state.Driver)

	require.Len(t, f.events.events, 1)
	require.True(t, f.events.events[0].Registered)
	require.Equal(t, int64(7), *f.events.events[0].VehicleID)
}

func TestDetection_ScenarioB_UnknownPlateNotRetried(t *testing.T) {
	detector := &scriptedDetector{outcomes: []vision.Outcome{{Kind: vision.NoPlateVisible}}}
	f := newDetectionFixture(t, detector, mapRegistry{}, nil)
	f.gate.SetSensor(context.Background(), true)

	resp, err := f.detect(t, pngImage(t, 320, 240))
	require.NoError(t, err)
	require.Nil(t, resp.FocusPlate)
	require.Empty(t, resp.Detections)
	require.NotNil(t, resp.Detections)
	require.Equal(t, int32(1), detector.calls.Load())
	require.Equal(t, int32(1), f.store.calls.Load())

	state := f.gate.State()
	require.Equal(t, gate.StatusPresentUnregistered, state.Status)
	require.Nil(t, state.Plate)
}

func TestDetection_ScenarioC_RotatesUntilSuccess(t *testing.T) {
	detector := &scriptedDetector{outcomes: []vision.Outcome{
		transient,
		transient,
		success("XYZ 987", 0.8, gate.NormalizedBox{NX1: 0.5, NY1: 0.5, NX2: 0.6, NY2: 0.6}),
	}}
	f := newDetectionFixture(t, detector, mapRegistry{}, nil)
	f.gate.SetSensor(context.Background(), true)

	resp, err := f.detect(t, pngImage(t, 100, 100))
	require.NoError(t, err)
	require.Equal(t, int32(3), f.store.calls.Load())
	require.Equal(t, int32(3), detector.calls.Load())
	require.Equal(t, []string{"a@example.com", "b@example.com", "c@example.com"}, detector.creds)
	require.Equal(t, "XYZ 987", *resp.FocusPlate)
}

func TestDetection_ExhaustedAttemptsDegradeToNoDetection(t *testing.T) {
	detector := &scriptedDetector{outcomes: []vision.Outcome{transient}}
	f := newDetectionFixture(t, detector, mapRegistry{}, nil)
	f.gate.SetSensor(context.Background(), true)

	resp, err := f.detect(t, pngImage(t, 100, 100))
	require.NoError(t, err)
	require.Equal(t, int32(3), detector.calls.Load())
	require.Nil(t, resp.FocusPlate)
	require.Empty(t, resp.Detections)
	require.False(t, resp.Busy)
}

func TestDetection_ScenarioD_UnregisteredPublishesOnce(t *testing.T) {
	detector := &scriptedDetector{outcomes: []vision.Outcome{
		success("NEW 0001", 0.7, gate.NormalizedBox{NX2: 1, NY2: 1}),
	}}
	f := newDetectionFixture(t, detector, mapRegistry{}, nil)
	f.gate.SetSensor(context.Background(), true)
	before := f.pub.count(gate.GateChannel)

	_, err := f.detect(t, pngImage(t, 64, 48))
	require.NoError(t, err)

	require.Equal(t, before+1, f.pub.count(gate.GateChannel))
	state := f.gate.State()
	require.Equal(t, gate.StatusPresentUnregistered, state.Status)
	require.NotNil(t, state.Plate)
	require.Equal(t, "NEW 0001", *state.Plate)
	require.False(t, state.Registered)

	published := f.pub.last().Payload.(gate.GateState)
	require.Equal(t, state.Status, published.Status)
}

func TestDetection_BusyWhenAtCapacity(t *testing.T) {
	detector := &scriptedDetector{
		outcomes: []vision.Outcome{{Kind: vision.NoPlateVisible}},
		started:  make(chan struct{}, 1),
		release:  make(chan struct{}),
	}
	f := newDetectionFixture(t, detector, mapRegistry{}, nil)
	f.gate.SetSensor(context.Background(), true)
	img := pngImage(t, 10, 10)

	done := make(chan error, 1)
	go func() {
		_, err := f.detect(t, img)
		done <- err
	}()
	<-detector.started
	require.Equal(t, int64(1), f.svc.InFlight())

	resp, err := f.detect(t, img)
	require.NoError(t, err)
	require.True(t, resp.Busy)
	require.Empty(t, resp.Detections)
	require.Equal(t, int32(1), detector.calls.Load())

	close(detector.release)
	require.NoError(t, <-done)
	require.Equal(t, int64(0), f.svc.InFlight())
}

func TestDetection_NoPresenceSkipsOCR(t *testing.T) {
	detector := &scriptedDetector{outcomes: []vision.Outcome{success("ABC1", 1, gate.NormalizedBox{})}}
	f := newDetectionFixture(t, detector, mapRegistry{}, nil)

	resp, err := f.detect(t, pngImage(t, 10, 10))
	require.NoError(t, err)
	require.Nil(t, resp.FocusPlate)
	require.Empty(t, resp.Detections)
	require.False(t, resp.Busy)
	require.Equal(t, int32(0), detector.calls.Load())
}

func TestDetection_RegisteredEpisodeReturnsCachedResult(t *testing.T) {
	registry := mapRegistry{"ABC1": {VehicleID: 1, PlateNumber: "ABC1"}}
	detector := &scriptedDetector{outcomes: []vision.Outcome{success("ABC1", 1, gate.NormalizedBox{NX2: 0.5, NY2: 0.5})}}
	f := newDetectionFixture(t, detector, registry, nil)
	f.gate.SetSensor(context.Background(), true)

	_, err := f.detect(t, pngImage(t, 100, 100))
	require.NoError(t, err)

	resp, err := f.detect(t, pngImage(t, 100, 100))
	require.NoError(t, err)
	require.Equal(t, int32(1), detector.calls.Load())
	require.Equal(t, "ABC1", *resp.FocusPlate)
	require.Len(t, resp.Detections, 1)
}

func TestDetection_NoActiveCredential(t *testing.T) {
	detector := &scriptedDetector{outcomes: []vision.Outcome{success("ABC1", 1, gate.NormalizedBox{})}}
	f := newDetectionFixture(t, detector, mapRegistry{}, []gate.Credential{{Identifier: "off", SecretKey: "k", Active: false}})
	f.gate.SetSensor(context.Background(), true)

	_, err := f.detect(t, pngImage(t, 10, 10))
	require.ErrorIs(t, err, ErrServiceUnavailable)
	require.ErrorIs(t, err, ErrNoActiveCredential)
	require.Equal(t, int32(0), detector.calls.Load())
	require.Equal(t, int64(0), f.svc.InFlight())

	// the in-progress flag was released
	ticket := f.gate.BeginDetection(true)
	require.Equal(t, BeginProceed, ticket.Decision)
	f.gate.EndDetection(ticket.Episode)
}

func TestDetection_InvalidImages(t *testing.T) {
	f := newDetectionFixture(t, &scriptedDetector{outcomes: []vision.Outcome{transient}}, mapRegistry{}, nil)
	ctx := context.Background()

	_, err := f.svc.Detect(ctx, DetectRequest{ContentType: "image/png"})
	require.ErrorIs(t, err, ErrInvalidImage)

	_, err = f.svc.Detect(ctx, DetectRequest{Image: pngImage(t, 2, 2), ContentType: "text/plain"})
	require.ErrorIs(t, err, ErrInvalidImage)

	_, err = f.svc.Detect(ctx, DetectRequest{Image: make([]byte, 4<<20+1), ContentType: "image/jpeg"})
	require.ErrorIs(t, err, ErrInvalidImage)

	_, err = f.svc.Detect(ctx, DetectRequest{Image: []byte("not really an image"), ContentType: "image/jpeg"})
	require.ErrorIs(t, err, ErrUnreadableImage)

	require.Equal(t, int64(0), f.svc.InFlight())
}
