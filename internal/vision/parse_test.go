package vision

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"gate-service/internal/domain/gate"
)

func TestParseDetection_Malformed(t *testing.T) {
	cases := map[string]string{
		"empty":           "",
		"no braces":       "I could not find a plate, sorry.",
		"only open brace": "{ \"plate_text\": \"ABC",
		"reversed braces": "} nothing here {",
		"invalid json":    "{ plate_text: ABC123 }",
		"truncated":       "{\"plate_text\": \"ABC1234\", \"ocr_conf\": 0.9, \"nx1\": }",
		"no known fields": "{\"foo\": 1, \"bar\": \"baz\"}",
		"empty object":    "{}",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseDetection(text)
			require.Error(t, err)
		})
	}
}

func TestParseDetection_ExtractsFromCommentary(t *testing.T) {
	text := "Sure! Here is the result:\n```json\n{\"plate_text\": \" ABC1234 \", \"ocr_conf\": 0.87, \"nx1\": 0.1, \"ny1\": 0.2, \"nx2\": 0.3, \"ny2\": 0.4}\n```\nLet me know."
	res, err := parseDetection(text)
	require.NoError(t, err)
	require.Equal(t, "ABC1234", res.PlateText)
	require.InDelta(t, 0.87, res.OCRConfidence, 1e-9)
	require.Equal(t, gate.NormalizedBox{NX1: 0.1, NY1: 0.2, NX2: 0.3, NY2: 0.4}, res.Box)
}

func TestParseDetection_NestedBraces(t *testing.T) {
	res, err := parseDetection(`{"plate_text": "XY 12", "meta": {"note": "x"}, "ocr_conf": 0.5}`)
	require.NoError(t, err)
	require.Equal(t, "XY 12", res.PlateText)
	require.Equal(t, gate.NormalizedBox{}, res.Box)
}

func TestParseDetection_Coercion(t *testing.T) {
	t.Run("confidence absent", func(t *testing.T) {
		res, err := parseDetection(`{"plate_text": "ABC1234", "nx1": 0.1}`)
		require.NoError(t, err)
		require.Equal(t, 0.0, res.OCRConfidence)
	})

	t.Run("confidence not numeric", func(t *testing.T) {
		res, err := parseDetection(`{"plate_text": "ABC1234", "ocr_conf": "high"}`)
		require.NoError(t, err)
		require.Equal(t, 0.0, res.OCRConfidence)
	})

	t.Run("confidence numeric string", func(t *testing.T) {
		res, err := parseDetection(`{"plate_text": "ABC1234", "ocr_conf": "0.75"}`)
		require.NoError(t, err)
		require.InDelta(t, 0.75, res.OCRConfidence, 1e-9)
	})

	t.Run("confidence above one", func(t *testing.T) {
		res, err := parseDetection(`{"plate_text": "ABC1", "ocr_conf": 1.7}`)
		require.NoError(t, err)
		require.Equal(t, 1.0, res.OCRConfidence)
	})

	t.Run("confidence below zero", func(t *testing.T) {
		res, err := parseDetection(`{"plate_text": "ABC1", "ocr_conf": "-0.4"}`)
		require.NoError(t, err)
		require.Equal(t, 0.0, res.OCRConfidence)
	})

	t.Run("plate missing becomes unknown", func(t *testing.T) {
		res, err := parseDetection(`{"ocr_conf": 0.2, "nx1": 0.1}`)
		require.NoError(t, err)
		require.Equal(t, gate.UnknownPlate, res.PlateText)
		require.True(t, res.IsUnknown())
	})

	t.Run("unknown sentinel", func(t *testing.T) {
		res, err := parseDetection(`{ "plate_text": "UNKNOWN", "ocr_conf": 0, "nx1": 0, "ny1": 0, "nx2": 0, "ny2": 0 }`)
		require.NoError(t, err)
		require.True(t, res.IsUnknown())
	})

	t.Run("inverted and out of range box", func(t *testing.T) {
		res, err := parseDetection(`{"plate_text": "A1", "nx1": 1.4, "ny1": 0.9, "nx2": -0.2, "ny2": 0.3}`)
		require.NoError(t, err)
		require.Equal(t, gate.NormalizedBox{NX1: 0, NY1: 0.3, NX2: 1, NY2: 0.9}, res.Box)
	})
}

func TestNormalizeBox_AlwaysWellFormed(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	values := []float64{-1e9, -1, -0.5, 0, 0.25, 0.5, 1, 1.5, 1e9}
	pick := func() float64 {
		if rng.Intn(2) == 0 {
			return values[rng.Intn(len(values))]
		}
		return rng.Float64()*4 - 2
	}

	for i := 0; i < 5000; i++ {
		b := normalizeBox(pick(), pick(), pick(), pick())
		require.True(t, 0 <= b.NX1 && b.NX1 <= b.NX2 && b.NX2 <= 1, "x out of order: %+v", b)
		require.True(t, 0 <= b.NY1 && b.NY1 <= b.NY2 && b.NY2 <= 1, "y out of order: %+v", b)
	}
}
