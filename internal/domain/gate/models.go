package gate

import (
	"strings"
	"time"
)

// UnknownPlate is the sentinel plate text the OCR model returns when no plate is visible.
const UnknownPlate = "UNKNOWN"

// Pub/sub channels and events consumed by the dashboard.
const (
	GateChannel  = "gate-channel"
	VideoChannel = "video-channel"

	GateUpdateEvent = "gate-update"
	FrameEvent      = "frame"
)

type Credential struct {
	Identifier  string `json:"identifier"`
	DisplayName string `json:"display_name"`
	SecretKey   string `json:"-"`
	UsageCount  int64  `json:"usage_count"`
	Active      bool   `json:"active"`
}

// NormalizedBox holds fractions of image width/height. Producers keep every
// coordinate in [0,1] with NX1 <= NX2 and NY1 <= NY2.
type NormalizedBox struct {
	NX1 float64 `json:"nx1"`
	NY1 float64 `json:"ny1"`
	NX2 float64 `json:"nx2"`
	NY2 float64 `json:"ny2"`
}

type DetectionResult struct {
	PlateText     string        `json:"plate_text"`
	OCRConfidence float64       `json:"ocr_conf"`
	Box           NormalizedBox `json:"box"`
}

// IsUnknown reports whether the model answered with the "no plate visible" sentinel.
func (r DetectionResult) IsUnknown() bool {
	plate := strings.TrimSpace(r.PlateText)
	return plate == "" || strings.EqualFold(plate, UnknownPlate)
}

type PixelBox struct {
	X1      float64 `json:"x1"`
	Y1      float64 `json:"y1"`
	X2      float64 `json:"x2"`
	Y2      float64 `json:"y2"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	CenterX float64 `json:"cx"`
	CenterY float64 `json:"cy"`
	NormalizedBox
}

// ToPixelBox scales a normalized box to an image of the given pixel size.
func ToPixelBox(box NormalizedBox, imageWidth, imageHeight int) PixelBox {
	w := float64(imageWidth)
	h := float64(imageHeight)

	x1 := box.NX1 * w
	y1 := box.NY1 * h
	x2 := box.NX2 * w
	y2 := box.NY2 * h

	width := x2 - x1
	height := y2 - y1

	return PixelBox{
		X1:            x1,
		Y1:            y1,
		X2:            x2,
		Y2:            y2,
		Width:         width,
		Height:        height,
		CenterX:       x1 + width/2,
		CenterY:       y1 + height/2,
		NormalizedBox: box,
	}
}

type Detection struct {
	PlateText           string   `json:"plate_text"`
	DetectionConfidence float64  `json:"detection_conf"`
	OCRConfidence       float64  `json:"ocr_conf"`
	IsFocus             bool     `json:"is_focus"`
	Box                 PixelBox `json:"box"`
}

type VehicleSummary struct {
	Brand string `json:"brand"`
	Model string `json:"model"`
	Type  string `json:"type"`
}

// RegistryMatch is an active vehicle found for a normalized plate.
type RegistryMatch struct {
	VehicleID   int64
	PlateNumber string
	Vehicle     VehicleSummary
	DriverName  *string
}

type GateStatus string

const (
	StatusIdle                GateStatus = "idle"
	StatusPresentUnknown      GateStatus = "present_unknown"
	StatusPresentRegistered   GateStatus = "present_registered"
	StatusPresentUnregistered GateStatus = "present_unregistered"
)

type GateState struct {
	Status      GateStatus      `json:"status"`
	Sensor      bool            `json:"sensor"`
	Plate       *string         `json:"plate"`
	Registered  bool            `json:"registered"`
	Vehicle     *VehicleSummary `json:"vehicle"`
	Driver      *string         `json:"driver"`
	Detections  []Detection     `json:"detections"`
	ImageWidth  int             `json:"image_w"`
	ImageHeight int             `json:"image_h"`
	LastUpdate  int64           `json:"lastUpdate"`
}

// IdleState is the empty "no vehicle" value.
func IdleState() GateState {
	return GateState{
		Status:     StatusIdle,
		Detections: []Detection{},
	}
}

// Clone returns a copy that shares no mutable memory with s.
func (s GateState) Clone() GateState {
	out := s
	if s.Plate != nil {
		p := *s.Plate
		out.Plate = &p
	}
	if s.Driver != nil {
		d := *s.Driver
		out.Driver = &d
	}
	if s.Vehicle != nil {
		v := *s.Vehicle
		out.Vehicle = &v
	}
	out.Detections = make([]Detection, len(s.Detections))
	copy(out.Detections, s.Detections)
	return out
}

// Resolution is what the detection pipeline learned about the vehicle at the gate.
type Resolution struct {
	Plate       *string
	Match       *RegistryMatch
	Detections  []Detection
	ImageWidth  int
	ImageHeight int
}

type DetectResponse struct {
	StreamID    *string     `json:"stream_id"`
	ImageWidth  int         `json:"image_w"`
	ImageHeight int         `json:"image_h"`
	FocusPlate  *string     `json:"focus_plate"`
	Detections  []Detection `json:"detections"`
	Busy        bool        `json:"busy,omitempty"`
}

type LatestFrame struct {
	StreamID    string
	Image       []byte
	ContentType string
	CapturedAt  time.Time
}

type FramePayload struct {
	StreamID string `json:"stream_id"`
	TS       int64  `json:"ts"`
}

type SensorResponse struct {
	Plate      *string `json:"plate"`
	Registered bool    `json:"registered"`
	Sensor     bool    `json:"sensor"`
	LastUpdate int64   `json:"lastUpdate"`
}

// EventRecord is one resolved detection outcome kept in the gate event log.
type EventRecord struct {
	ID              string      `json:"id"`
	StreamID        *string     `json:"stream_id,omitempty"`
	Plate           *string     `json:"plate"`
	NormalizedPlate *string     `json:"normalized_plate,omitempty"`
	Registered      bool        `json:"registered"`
	VehicleID       *int64      `json:"vehicle_id,omitempty"`
	DriverName      *string     `json:"driver_name,omitempty"`
	Status          GateStatus  `json:"status"`
	Detections      []Detection `json:"detections"`
	ImageWidth      int         `json:"image_w"`
	ImageHeight     int         `json:"image_h"`
	CreatedAt       time.Time   `json:"created_at"`
}
