package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"gate-service/internal/config"
	"gate-service/internal/db"
	"gate-service/internal/domain/gate"
	httpapi "gate-service/internal/http"
	"gate-service/internal/pubsub"
	"gate-service/internal/repository"
	"gate-service/internal/service"
	"gate-service/internal/vision"
)

func main() {
	configPath := flag.String("config", "", "path to config file (yaml, json or toml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}

	log := newLogger(cfg.Log)
	if !cfg.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}

	gormDB, err := db.Open(cfg.DB, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}

	adminRepo := repository.NewAdminRepository(gormDB)
	credentialRepo := repository.NewCredentialRepository(gormDB)
	registryRepo := repository.NewRegistryRepository(gormDB)
	eventRepo := repository.NewGateEventRepository(gormDB)

	var credentials service.CredentialStore = credentialRepo
	if cfg.OCR.CredentialSource == config.CredentialSourceConfig {
		credentials = repository.NewMemoryCredentialStoreFromKeys(cfg.OCR.APIKeys)
		log.Info().Int("keys", len(cfg.OCR.APIKeys)).Msg("using OCR keys from config")
	}

	hub := pubsub.NewHub([]string{gate.GateChannel, gate.VideoChannel}, log)
	publisher := pubsub.Fanout{hub}

	var bridge *pubsub.MQTTBridge
	if cfg.MQTT.Enabled {
		bridge = pubsub.NewMQTTBridge(pubsub.MQTTConfig{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		}, log)
		if err := bridge.Connect(); err != nil {
			log.Warn().Err(err).Msg("mqtt unavailable at startup, retrying in background")
		}
		publisher = append(publisher, bridge)
	}

	gateMachine := service.NewGateMachine(service.GateConfig{
		DwellTime:    cfg.Gate.DwellTime,
		ResetTimeout: cfg.Gate.ResetTimeout,
	}, publisher, log)
	hub.SetSnapshot(gate.GateChannel, func() (string, interface{}) {
		return gate.GateUpdateEvent, gateMachine.State()
	})

	if bridge != nil && cfg.MQTT.SensorTopic != "" {
		err := bridge.SubscribeSensor(cfg.MQTT.SensorTopic, func(ctx context.Context, present bool) {
			gateMachine.SetSensor(ctx, present)
		})
		if err != nil {
			log.Warn().Err(err).Msg("presence sensor subscription failed")
		}
	}

	adapter := vision.NewAdapter(vision.Config{
		BaseURL:   cfg.OCR.BaseURL,
		Model:     cfg.OCR.Model,
		MaxTokens: cfg.OCR.MaxTokens,
		Timeout:   cfg.OCR.Timeout,
	}, log)

	detection := service.NewDetectionService(service.DetectionConfig{
		MaxAttempts:     cfg.OCR.MaxAttempts,
		MaxImageBytes:   cfg.OCR.MaxImageBytes,
		MaxConcurrent:   cfg.OCR.MaxConcurrent,
		RequirePresence: cfg.Gate.RequirePresence,
	}, service.NewCredentialRotator(credentials, log), adapter, registryRepo, gateMachine, eventRepo, log)

	frames := service.NewFrameRelay(service.FrameRelayConfig{
		MaxStreams: cfg.Frames.MaxStreams,
		MaxBytes:   cfg.Frames.MaxBytes,
	}, publisher, log)

	router := httpapi.NewRouter(cfg, httpapi.Deps{
		Detection: detection,
		Gate:      gateMachine,
		Frames:    frames,
		Events:    eventRepo,
		Admin:     service.NewAdminService(adminRepo, credentialRepo, log),
		Auth:      service.NewAuthService(adminRepo, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, log),
		Hub:       hub,
	}, log)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("env", cfg.Env).
			Str("credential_source", cfg.OCR.CredentialSource).
			Bool("mqtt", cfg.MQTT.Enabled).
			Bool("auth", cfg.Auth.Enabled).
			Msg("gate service starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}

	hub.Close()
	if bridge != nil {
		bridge.Disconnect()
	}
	gateMachine.Stop()
	if err := db.Close(gormDB); err != nil {
		log.Error().Err(err).Msg("failed to close database")
	}
	log.Info().Msg("stopped")
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			With().Timestamp().Str("service", "gate-service").Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Str("service", "gate-service").Logger()
}
