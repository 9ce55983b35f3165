package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"gate-service/internal/domain/gate"
	"gate-service/internal/utils"
	"gate-service/internal/vision"
)

type Detector interface {
	Detect(ctx context.Context, cred gate.Credential, image []byte, contentType string) (vision.Outcome, error)
}

type Registry interface {
	FindActiveByPlate(ctx context.Context, normalized string) (*gate.RegistryMatch, error)
}

type EventLog interface {
	Create(ctx context.Context, event gate.EventRecord) error
}

type DetectionConfig struct {
	MaxAttempts     int
	MaxImageBytes   int64
	MaxConcurrent   int64
	RequirePresence bool
}

type DetectRequest struct {
	StreamID    *string
	Image       []byte
	ContentType string
}

// DetectionService runs one frame through admission control, the presence
// check, OCR with credential rotation and the registry lookup, then hands
// the outcome to the gate machine.
type DetectionService struct {
	cfg      DetectionConfig
	slots    *semaphore.Weighted
	inFlight atomic.Int64

	rotator  *CredentialRotator
	detector Detector
	registry Registry
	gate     *GateMachine
	events   EventLog
	log      zerolog.Logger
}

func NewDetectionService(
	cfg DetectionConfig,
	rotator *CredentialRotator,
	detector Detector,
	registry Registry,
	gateMachine *GateMachine,
	events EventLog,
	log zerolog.Logger,
) *DetectionService {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = 4 * 1024 * 1024
	}
	return &DetectionService{
		cfg:      cfg,
		slots:    semaphore.NewWeighted(cfg.MaxConcurrent),
		rotator:  rotator,
		detector: detector,
		registry: registry,
		gate:     gateMachine,
		events:   events,
		log:      log.With().Str("component", "detection").Logger(),
	}
}

func (s *DetectionService) InFlight() int64 {
	return s.inFlight.Load()
}

func (s *DetectionService) Detect(ctx context.Context, req DetectRequest) (*gate.DetectResponse, error) {
	if err := validateImage(req.Image, req.ContentType, s.cfg.MaxImageBytes); err != nil {
		return nil, err
	}
	width, height, err := imageDimensions(req.Image)
	if err != nil {
		return nil, err
	}

	resp := &gate.DetectResponse{
		StreamID:    req.StreamID,
		ImageWidth:  width,
		ImageHeight: height,
		Detections:  []gate.Detection{},
	}

	if !s.slots.TryAcquire(1) {
		s.log.Debug().Msg("detection at capacity, returning busy")
		resp.Busy = true
		return resp, nil
	}
	s.inFlight.Add(1)
	defer func() {
		s.inFlight.Add(-1)
		s.slots.Release(1)
	}()

	ticket := s.gate.BeginDetection(s.cfg.RequirePresence)
	switch ticket.Decision {
	case BeginNoPresence:
		s.log.Debug().Msg("no vehicle present, skipping OCR")
		return resp, nil
	case BeginInProgress:
		resp.Busy = true
		resp.FocusPlate = ticket.State.Plate
		resp.Detections = ticket.State.Detections
		return resp, nil
	case BeginAlreadyResolved:
		resp.FocusPlate = ticket.State.Plate
		resp.Detections = ticket.State.Detections
		if ticket.State.ImageWidth > 0 {
			resp.ImageWidth = ticket.State.ImageWidth
			resp.ImageHeight = ticket.State.ImageHeight
		}
		return resp, nil
	}
	defer s.gate.EndDetection(ticket.Episode)

	outcome, attempts, err := s.runOCR(ctx, req)
	if err != nil {
		return nil, err
	}

	res := gate.Resolution{
		Detections:  []gate.Detection{},
		ImageWidth:  width,
		ImageHeight: height,
	}
	var normalized string

	if outcome.Kind == vision.Success {
		plate := outcome.Result.PlateText
		res.Plate = &plate
		res.Detections = []gate.Detection{{
			PlateText:           plate,
			DetectionConfidence: outcome.Result.OCRConfidence,
			OCRConfidence:       outcome.Result.OCRConfidence,
			IsFocus:             true,
			Box:                 gate.ToPixelBox(outcome.Result.Box, width, height),
		}}

		normalized = utils.NormalizePlate(plate)
		if normalized != "" {
			match, err := s.registry.FindActiveByPlate(ctx, normalized)
			if err != nil {
				s.log.Error().Err(err).Str("plate", normalized).Msg("registry lookup failed")
				return nil, fmt.Errorf("failed to look up plate: %w", err)
			}
			res.Match = match
		}

		resp.FocusPlate = res.Plate
		resp.Detections = res.Detections
	}

	state, applied := s.gate.Resolve(ctx, ticket.Episode, res)

	s.log.Info().
		Str("outcome", outcome.Kind.String()).
		Int("attempts", attempts).
		Bool("registered", res.Match != nil).
		Bool("applied", applied).
		Msg("detection finished")

	s.recordEvent(ctx, req.StreamID, normalized, res, state, applied)
	return resp, nil
}

// runOCR tries up to MaxAttempts credentials, stopping on the first outcome
// that is not a transient failure.
func (s *DetectionService) runOCR(ctx context.Context, req DetectRequest) (vision.Outcome, int, error) {
	outcome := vision.Outcome{Kind: vision.TransientFailure}
	attempts := 0

	for attempts < s.cfg.MaxAttempts {
		cred, err := s.rotator.Acquire(ctx)
		if err != nil {
			if errors.Is(err, ErrNoActiveCredential) {
				return outcome, attempts, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
			}
			return outcome, attempts, err
		}
		attempts++

		outcome, err = s.detector.Detect(ctx, cred, req.Image, req.ContentType)
		if err != nil {
			return outcome, attempts, fmt.Errorf("detection attempt failed: %w", err)
		}
		if outcome.Kind != vision.TransientFailure {
			break
		}
		s.log.Debug().
			Int("attempt", attempts).
			Str("credential", cred.Identifier).
			Str("reason", outcome.Reason).
			Msg("OCR attempt failed, rotating credential")
	}
	return outcome, attempts, nil
}

func (s *DetectionService) recordEvent(ctx context.Context, streamID *string, normalized string, res gate.Resolution, state gate.GateState, applied bool) {
	if s.events == nil {
		return
	}

	status := gate.StatusPresentUnregistered
	if res.Match != nil {
		status = gate.StatusPresentRegistered
	}
	if applied {
		status = state.Status
	}

	record := gate.EventRecord{
		ID:          uuid.NewString(),
		StreamID:    streamID,
		Plate:       res.Plate,
		Registered:  res.Match != nil,
		Status:      status,
		Detections:  res.Detections,
		ImageWidth:  res.ImageWidth,
		ImageHeight: res.ImageHeight,
		CreatedAt:   time.Now(),
	}
	if normalized != "" {
		record.NormalizedPlate = &normalized
	}
	if res.Match != nil {
		vehicleID := res.Match.VehicleID
		record.VehicleID = &vehicleID
		record.DriverName = res.Match.DriverName
	}

	if err := s.events.Create(ctx, record); err != nil {
		s.log.Warn().Err(err).Msg("failed to record gate event")
	}
}
