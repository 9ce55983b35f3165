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

// ParseSensorState accepts "YES"/"NO" in any case.
func ParseSensorState(state string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(state)) {
	case "YES":
		return true, nil
	case "NO":
		return false, nil
	default:
		return false, fmt.Errorf("%w: state must be YES or NO, got %q", ErrInvalidSensorState, state)
	}
}

type BeginDecision int

const (
	BeginProceed BeginDecision = iota
	BeginNoPresence
	BeginInProgress
	BeginAlreadyResolved
)

// DetectionTicket is handed to the detection pipeline by BeginDetection.
// Episode identifies the presence episode the pipeline is working on.
type DetectionTicket struct {
	Decision BeginDecision
	Episode  uint64
	State    gate.GateState
}

type GateConfig struct {
	DwellTime    time.Duration
	ResetTimeout time.Duration
}

// GateMachine owns the gate state. Presence starts an episode, the detection
// pipeline resolves it, and absence (after the dwell time) or the reset
// timeout clears it. Every visible change is published once, in order, and
// never while mu is held.
type GateMachine struct {
	mu             sync.Mutex
	state          gate.GateState
	detecting      bool
	episode        uint64
	pendingAbsence bool
	outbox         []gate.GateState

	// pubMu serializes delivery of the outbox.
	pubMu sync.Mutex

	timer    *time.Timer
	timerGen uint64

	cfg GateConfig
	now func() time.Time
	pub Publisher
	log zerolog.Logger
}

func NewGateMachine(cfg GateConfig, pub Publisher, log zerolog.Logger) *GateMachine {
	return newGateMachine(cfg, pub, log, time.Now)
}

func newGateMachine(cfg GateConfig, pub Publisher, log zerolog.Logger, now func() time.Time) *GateMachine {
	m := &GateMachine{
		cfg: cfg,
		now: now,
		pub: pub,
		log: log.With().Str("component", "gate").Logger(),
	}
	m.state = gate.IdleState()
	m.state.LastUpdate = now().UnixMilli()
	return m
}

func (m *GateMachine) State() gate.GateState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// SetSensor applies a presence report. Repeating the current state is a
// no-op. Absence inside the dwell window is deferred until the window ends.
func (m *GateMachine) SetSensor(ctx context.Context, present bool) gate.SensorResponse {
	m.mu.Lock()
	resp := m.setSensorLocked(present)
	m.mu.Unlock()

	m.flush(ctx)
	return resp
}

func (m *GateMachine) setSensorLocked(present bool) gate.SensorResponse {
	if present {
		if m.state.Sensor {
			if m.pendingAbsence {
				m.pendingAbsence = false
				m.arm(m.cfg.ResetTimeout)
				m.log.Debug().Msg("presence restored inside dwell window")
			}
			return m.sensorResponse()
		}

		m.episode++
		m.detecting = false
		m.pendingAbsence = false
		m.state = gate.GateState{
			Status:     gate.StatusPresentUnknown,
			Sensor:     true,
			Detections: []gate.Detection{},
			LastUpdate: m.now().UnixMilli(),
		}
		m.log.Info().Uint64("episode", m.episode).Msg("vehicle present")
		m.enqueue()
		m.arm(m.cfg.ResetTimeout)
		return m.sensorResponse()
	}

	if !m.state.Sensor {
		m.detecting = false
		return m.sensorResponse()
	}

	elapsed := m.now().Sub(time.UnixMilli(m.state.LastUpdate))
	if elapsed >= m.cfg.DwellTime {
		m.clear("sensor absent")
		return m.sensorResponse()
	}

	m.pendingAbsence = true
	m.arm(m.cfg.DwellTime - elapsed)
	m.log.Debug().
		Dur("remaining", m.cfg.DwellTime-elapsed).
		Msg("absence deferred until dwell time elapses")
	return m.sensorResponse()
}

// BeginDetection decides whether a detection may run for the current episode
// and marks it in progress when it may. A BeginProceed ticket must be
// released with EndDetection.
func (m *GateMachine) BeginDetection(requirePresence bool) DetectionTicket {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case requirePresence && !m.state.Sensor:
		m.detecting = false
		return DetectionTicket{Decision: BeginNoPresence, Episode: m.episode, State: m.state.Clone()}
	case m.detecting:
		return DetectionTicket{Decision: BeginInProgress, Episode: m.episode, State: m.state.Clone()}
	case m.state.Status == gate.StatusPresentRegistered:
		return DetectionTicket{Decision: BeginAlreadyResolved, Episode: m.episode, State: m.state.Clone()}
	}

	m.detecting = true
	return DetectionTicket{Decision: BeginProceed, Episode: m.episode, State: m.state.Clone()}
}

func (m *GateMachine) EndDetection(episode uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if episode == m.episode {
		m.detecting = false
	}
}

// Resolve records the detection outcome for an episode. Outcomes for an
// episode that has already ended are dropped and reported as not applied.
func (m *GateMachine) Resolve(ctx context.Context, episode uint64, res gate.Resolution) (gate.GateState, bool) {
	m.mu.Lock()
	state, applied := m.resolveLocked(episode, res)
	m.mu.Unlock()

	m.flush(ctx)
	return state, applied
}

func (m *GateMachine) resolveLocked(episode uint64, res gate.Resolution) (gate.GateState, bool) {
	if episode != m.episode || !m.state.Sensor {
		m.log.Debug().
			Uint64("episode", episode).
			Uint64("current_episode", m.episode).
			Msg("dropping detection outcome for ended episode")
		return m.state.Clone(), false
	}

	detections := res.Detections
	if detections == nil {
		detections = []gate.Detection{}
	}

	next := gate.GateState{
		Status:      gate.StatusPresentUnregistered,
		Sensor:      true,
		Plate:       res.Plate,
		Detections:  detections,
		ImageWidth:  res.ImageWidth,
		ImageHeight: res.ImageHeight,
		LastUpdate:  m.now().UnixMilli(),
	}
	if res.Match != nil && res.Plate != nil {
		vehicle := res.Match.Vehicle
		next.Status = gate.StatusPresentRegistered
		next.Registered = true
		next.Vehicle = &vehicle
		next.Driver = res.Match.DriverName
	}
	m.state = next.Clone()

	event := m.log.Info().Str("status", string(next.Status)).Uint64("episode", episode)
	if next.Plate != nil {
		event = event.Str("plate", *next.Plate)
	}
	event.Msg("gate resolved")

	m.enqueue()
	if m.pendingAbsence {
		m.arm(m.cfg.DwellTime)
	} else {
		m.arm(m.cfg.ResetTimeout)
	}
	return m.state.Clone(), true
}

// Stop cancels the pending timer.
func (m *GateMachine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timerGen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *GateMachine) onTimer(gen uint64) {
	m.mu.Lock()
	if gen != m.timerGen || m.state.Status == gate.StatusIdle {
		m.mu.Unlock()
		return
	}
	reason := "reset timeout"
	if m.pendingAbsence {
		reason = "sensor absent after dwell"
	}
	m.clear(reason)
	m.mu.Unlock()

	m.flush(context.Background())
}

// clear must be called with mu held.
func (m *GateMachine) clear(reason string) {
	m.episode++
	m.detecting = false
	m.pendingAbsence = false
	m.timerGen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}

	m.state = gate.IdleState()
	m.state.LastUpdate = m.now().UnixMilli()
	m.log.Info().Str("reason", reason).Msg("gate cleared")
	m.enqueue()
}

// arm replaces the single pending timer; mu must be held.
func (m *GateMachine) arm(d time.Duration) {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timerGen++
	gen := m.timerGen
	m.timer = time.AfterFunc(d, func() { m.onTimer(gen) })
}

// enqueue queues the current state for publishing; mu must be held.
func (m *GateMachine) enqueue() {
	if m.pub == nil {
		return
	}
	m.outbox = append(m.outbox, m.state.Clone())
}

// flush publishes queued updates in the order they were made. It must be
// called without mu held so slow publishers never block state readers.
func (m *GateMachine) flush(ctx context.Context) {
	if m.pub == nil {
		return
	}
	m.pubMu.Lock()
	defer m.pubMu.Unlock()

	m.mu.Lock()
	pending := m.outbox
	m.outbox = nil
	m.mu.Unlock()

	for _, state := range pending {
		if err := m.pub.Publish(ctx, gate.GateChannel, gate.GateUpdateEvent, state); err != nil {
			m.log.Warn().Err(err).Msg("failed to publish gate update")
		}
	}
}

func (m *GateMachine) sensorResponse() gate.SensorResponse {
	var plate *string
	if m.state.Plate != nil {
		p := *m.state.Plate
		plate = &p
	}
	return gate.SensorResponse{
		Plate:      plate,
		Registered: m.state.Registered,
		Sensor:     m.state.Sensor,
		LastUpdate: m.state.LastUpdate,
	}
}
