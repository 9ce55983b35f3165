package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"gate-service/internal/domain/gate"
	"gate-service/internal/service"
	"gate-service/internal/utils"
)

type GateEventLister interface {
	List(ctx context.Context, normalizedPlate *string, limit, offset int) ([]gate.EventRecord, error)
}

// multipartOverhead is the body allowance on top of the image size for
// boundaries, headers and the stream_id field.
const multipartOverhead = 64 * 1024

type UploadLimits struct {
	DetectBytes int64
	FrameBytes  int64
}

type Handler struct {
	limits    UploadLimits
	detection *service.DetectionService
	gate      *service.GateMachine
	frames    *service.FrameRelay
	events    GateEventLister
	log       zerolog.Logger
}

func NewHandler(
	detection *service.DetectionService,
	gateMachine *service.GateMachine,
	frames *service.FrameRelay,
	events GateEventLister,
	limits UploadLimits,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		limits:    limits,
		detection: detection,
		gate:      gateMachine,
		frames:    frames,
		events:    events,
		log:       log,
	}
}

func (h *Handler) Register(r *gin.Engine, uploadLimit gin.HandlerFunc) {
	api := r.Group("/api")
	{
		api.POST("/detect", h.detect)
		api.POST("/sensor", h.setSensor)
		api.GET("/gate-state", h.gateState)
		api.POST("/stream-frame", uploadLimit, h.storeFrame)
		api.GET("/latest-frame", h.latestFrame)
		api.GET("/gate-events", h.listGateEvents)
	}
}

func (h *Handler) detect(c *gin.Context) {
	data, contentType, err := readFrame(c, h.limits.DetectBytes)
	if err != nil {
		h.handleError(c, err)
		return
	}

	var streamID *string
	if id := streamIDParam(c); id != "" {
		streamID = &id
	}

	resp, err := h.detection.Detect(c.Request.Context(), service.DetectRequest{
		StreamID:    streamID,
		Image:       data,
		ContentType: contentType,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

type sensorRequest struct {
	State string `json:"state"`
}

func (h *Handler) setSensor(c *gin.Context) {
	var req sensorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	present, err := service.ParseSensorState(req.State)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.gate.SetSensor(c.Request.Context(), present))
}

func (h *Handler) gateState(c *gin.Context) {
	c.JSON(http.StatusOK, h.gate.State())
}

func (h *Handler) storeFrame(c *gin.Context) {
	data, contentType, err := readFrame(c, h.limits.FrameBytes)
	if err != nil {
		h.handleError(c, err)
		return
	}

	if err := h.frames.Store(c.Request.Context(), streamIDParam(c), data, contentType); err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) latestFrame(c *gin.Context) {
	frame, err := h.frames.Get(c.Query("stream_id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, frame.ContentType, frame.Image)
}

func (h *Handler) listGateEvents(c *gin.Context) {
	var plate *string
	if p := utils.NormalizePlate(c.Query("plate")); p != "" {
		plate = &p
	}
	limit, offset := pageParams(c, 50)

	events, err := h.events.List(c.Request.Context(), plate, limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(events))
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrInvalidImage),
		errors.Is(err, service.ErrUnreadableImage),
		errors.Is(err, service.ErrInvalidSensorState),
		errors.Is(err, service.ErrConflict):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, service.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, errorResponse(err.Error()))
	case errors.Is(err, service.ErrServiceUnavailable), errors.Is(err, service.ErrNoActiveCredential):
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("service unavailable")
		c.JSON(http.StatusServiceUnavailable, errorResponse("no active OCR credential available"))
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

// readFrame reads the multipart "frame" field, never buffering more than
// maxBytes of it (plus multipart overhead for the whole body). Untyped parts
// are sniffed; the image checks are left to the services.
func readFrame(c *gin.Context, maxBytes int64) ([]byte, string, error) {
	if maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+multipartOverhead)
	}

	fh, err := c.FormFile("frame")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "", fmt.Errorf("%w: upload too large", service.ErrInvalidImage)
		}
		return nil, "", fmt.Errorf("%w: frame is required", service.ErrInvalidImage)
	}
	if maxBytes > 0 && fh.Size > maxBytes {
		return nil, "", fmt.Errorf("%w: image exceeds %d bytes", service.ErrInvalidImage, maxBytes)
	}

	f, err := fh.Open()
	if err != nil {
		return nil, "", fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if maxBytes > 0 {
		r = io.LimitReader(f, maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read upload: %w", err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, "", fmt.Errorf("%w: image exceeds %d bytes", service.ErrInvalidImage, maxBytes)
	}
	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

func streamIDParam(c *gin.Context) string {
	if id := strings.TrimSpace(c.Query("stream_id")); id != "" {
		return id
	}
	return strings.TrimSpace(c.PostForm("stream_id"))
}

func pageParams(c *gin.Context, defaultLimit int) (int, int) {
	limit := defaultLimit
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	offset := 0
	if o := c.Query("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"success": true,
		"data":    data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"success": false,
		"message": message,
	}
}
