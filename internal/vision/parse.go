package vision

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"gate-service/internal/domain/gate"
)

var (
	errNoJSONObject  = errors.New("no JSON object in model output")
	errMissingFields = errors.New("model output has none of the expected fields")
)

var schemaFields = []string{"plate_text", "ocr_conf", "nx1", "ny1", "nx2", "ny2"}

// extractJSONObject returns the span from the first '{' to the last '}'.
func extractJSONObject(text string) (string, bool) {
	first := strings.Index(text, "{")
	last := strings.LastIndex(text, "}")
	if first == -1 || last == -1 || last <= first {
		return "", false
	}
	return text[first : last+1], true
}

// parseDetection turns free-form model text into a coerced DetectionResult.
// The box is clamped into [0,1] and axis-ordered, a missing plate becomes
// UNKNOWN and a missing or non-numeric confidence becomes 0.
func parseDetection(text string) (gate.DetectionResult, error) {
	text = strings.TrimSpace(text)
	raw, ok := extractJSONObject(text)
	if !ok {
		return gate.DetectionResult{}, errNoJSONObject
	}

	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return gate.DetectionResult{}, err
	}
	known := 0
	for _, f := range schemaFields {
		if _, ok := fields[f]; ok {
			known++
		}
	}
	if known == 0 {
		return gate.DetectionResult{}, errMissingFields
	}

	plate := strings.TrimSpace(coerceString(fields["plate_text"]))
	if plate == "" {
		plate = gate.UnknownPlate
	}

	box := normalizeBox(
		coerceFloat(fields["nx1"]),
		coerceFloat(fields["ny1"]),
		coerceFloat(fields["nx2"]),
		coerceFloat(fields["ny2"]),
	)

	return gate.DetectionResult{
		PlateText:     plate,
		OCRConfidence: clamp01(coerceFloat(fields["ocr_conf"])),
		Box:           box,
	}, nil
}

func normalizeBox(nx1, ny1, nx2, ny2 float64) gate.NormalizedBox {
	nx1, ny1, nx2, ny2 = clamp01(nx1), clamp01(ny1), clamp01(nx2), clamp01(ny2)
	if nx2 < nx1 {
		nx1, nx2 = nx2, nx1
	}
	if ny2 < ny1 {
		ny1, ny2 = ny2, ny1
	}
	return gate.NormalizedBox{NX1: nx1, NY1: ny1, NX2: nx2, NY2: ny2}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}

func coerceFloat(v interface{}) float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		f = parsed
	case bool:
		if t {
			f = 1
		}
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func coerceString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
