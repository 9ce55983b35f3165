package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"gate-service/internal/config"
	"gate-service/internal/domain/gate"
	"gate-service/internal/pubsub"
	"gate-service/internal/repository"
	"gate-service/internal/service"
	"gate-service/internal/vision"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubDetector struct {
	outcome vision.Outcome
	calls   atomic.Int32
}

func (d *stubDetector) Detect(_ context.Context, _ gate.Credential, _ []byte, _ string) (vision.Outcome, error) {
	d.calls.Add(1)
	return d.outcome, nil
}

type testServer struct {
	router   *gin.Engine
	admin    *service.AdminService
	gate     *service.GateMachine
	detector *stubDetector
}

func testConfig() *config.Config {
	return &config.Config{
		Env:    "test",
		HTTP:   config.HTTPConfig{CORSOrigins: []string{"*"}},
		OCR:    config.OCRConfig{MaxAttempts: 3, MaxImageBytes: 1 << 20, MaxConcurrent: 1},
		Gate:   config.GateConfig{DwellTime: time.Hour, ResetTimeout: time.Hour, RequirePresence: true},
		Frames: config.FramesConfig{MaxStreams: 4, MaxBytes: 1 << 20, UploadRatePerMinute: 1000},
		Auth:   config.AuthConfig{JWTSecret: "test-secret", TokenTTL: time.Hour},
	}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:http_%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, repository.AutoMigrate(db))
	return db
}

func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()

	log := zerolog.Nop()
	db := newTestDB(t)

	adminRepo := repository.NewAdminRepository(db)
	credentials := repository.NewCredentialRepository(db)
	events := repository.NewGateEventRepository(db)

	hub := pubsub.NewHub([]string{gate.GateChannel}, log)
	t.Cleanup(hub.Close)

	gateMachine := service.NewGateMachine(service.GateConfig{
		DwellTime:    cfg.Gate.DwellTime,
		ResetTimeout: cfg.Gate.ResetTimeout,
	}, hub, log)
	t.Cleanup(gateMachine.Stop)

	detector := &stubDetector{outcome: vision.Outcome{Kind: vision.NoPlateVisible}}
	rotator := service.NewCredentialRotator(repository.NewMemoryCredentialStoreFromKeys([]string{"k1", "k2"}), log)
	detection := service.NewDetectionService(service.DetectionConfig{
		MaxAttempts:     cfg.OCR.MaxAttempts,
		MaxImageBytes:   cfg.OCR.MaxImageBytes,
		MaxConcurrent:   cfg.OCR.MaxConcurrent,
		RequirePresence: cfg.Gate.RequirePresence,
	}, rotator, detector, repository.NewRegistryRepository(db), gateMachine, events, log)

	frames := service.NewFrameRelay(service.FrameRelayConfig{
		MaxStreams: cfg.Frames.MaxStreams,
		MaxBytes:   cfg.Frames.MaxBytes,
	}, hub, log)

	adminService := service.NewAdminService(adminRepo, credentials, log)
	authService := service.NewAuthService(adminRepo, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, log)

	router := NewRouter(cfg, Deps{
		Detection: detection,
		Gate:      gateMachine,
		Frames:    frames,
		Events:    events,
		Admin:     adminService,
		Auth:      authService,
		Hub:       hub,
	}, log)

	return &testServer{
		router:   router,
		admin:    adminService,
		gate:     gateMachine,
		detector: detector,
	}
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) doJSON(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return s.do(t, req)
}

func frameRequest(t *testing.T, path string, image []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if image != nil {
		part, err := w.CreateFormFile("frame", "frame.png")
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func pngImage(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Total   int64           `json:"total"`
}
