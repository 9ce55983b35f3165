package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"gate-service/internal/domain/gate"
)

const DefaultBaseURL = "https://api.groq.com/openai/v1"

var (
	ErrEmptyImage   = errors.New("image is empty")
	ErrNoCredential = errors.New("credential has no secret")
)

type OutcomeKind int

const (
	// TransientFailure covers rate limits, transport errors and malformed
	// output. The caller may retry with another credential.
	TransientFailure OutcomeKind = iota
	// NoPlateVisible is a final negative answer from the model.
	NoPlateVisible
	Success
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case NoPlateVisible:
		return "no_plate_visible"
	default:
		return "transient_failure"
	}
}

// Outcome of a single OCR attempt. Result is set only for Success.
type Outcome struct {
	Kind   OutcomeKind
	Result gate.DetectionResult
	Reason string
}

type Config struct {
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// Adapter calls an OpenAI-compatible chat completions endpoint with one
// text+image user turn and parses the plate JSON out of the reply.
type Adapter struct {
	cfg        Config
	httpClient *http.Client
	log        zerolog.Logger
}

func NewAdapter(cfg Config, log zerolog.Logger) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 128
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Adapter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.With().Str("component", "vision").Logger(),
	}
}

// Detect performs exactly one OCR attempt. Failed attempts are reported via
// Outcome; an error is returned only for an empty image or a missing secret.
func (a *Adapter) Detect(ctx context.Context, cred gate.Credential, image []byte, contentType string) (Outcome, error) {
	if len(image) == 0 {
		return Outcome{}, ErrEmptyImage
	}
	if cred.SecretKey == "" {
		return Outcome{}, ErrNoCredential
	}

	clientCfg := openai.DefaultConfig(cred.SecretKey)
	clientCfg.BaseURL = a.cfg.BaseURL
	clientCfg.HTTPClient = a.httpClient
	client := openai.NewClientWithConfig(clientCfg)

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.cfg.Model,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: platePrompt},
				{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: dataURL(image, contentType)},
				},
			},
		}},
		Temperature: 0,
		MaxTokens:   a.cfg.MaxTokens,
	})
	if err != nil {
		if isRateLimit(err) {
			a.log.Warn().
				Err(err).
				Str("credential", cred.Identifier).
				Msg("OCR rate limited")
			return Outcome{Kind: TransientFailure, Reason: "rate_limited"}, nil
		}
		a.log.Error().
			Err(err).
			Str("credential", cred.Identifier).
			Msg("OCR request failed")
		return Outcome{Kind: TransientFailure, Reason: "request_failed"}, nil
	}

	text := responseText(resp)
	if text == "" {
		a.log.Warn().Str("credential", cred.Identifier).Msg("OCR returned empty content")
		return Outcome{Kind: TransientFailure, Reason: "empty_response"}, nil
	}

	result, err := parseDetection(text)
	if err != nil {
		a.log.Warn().
			Err(err).
			Str("raw", truncate(text, 256)).
			Msg("OCR returned malformed output")
		return Outcome{Kind: TransientFailure, Reason: "malformed_output"}, nil
	}

	if result.IsUnknown() {
		a.log.Debug().Str("credential", cred.Identifier).Msg("OCR saw no plate")
		return Outcome{Kind: NoPlateVisible, Reason: "unknown_plate"}, nil
	}

	a.log.Debug().
		Str("plate", result.PlateText).
		Float64("ocr_conf", result.OCRConfidence).
		Msg("OCR detected plate")
	return Outcome{Kind: Success, Result: result}, nil
}

func responseText(resp openai.ChatCompletionResponse) string {
	if len(resp.Choices) == 0 {
		return ""
	}
	msg := resp.Choices[0].Message

	var b strings.Builder
	b.WriteString(msg.Content)
	for _, part := range msg.MultiContent {
		if part.Type == openai.ChatMessagePartTypeText {
			b.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(b.String())
}

func isRateLimit(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "rate_limit_exceeded") || strings.Contains(msg, "Rate limit reached")
}

func dataURL(image []byte, contentType string) string {
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(image)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
