package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	CredentialSourceDatabase = "database"
	CredentialSourceConfig   = "config"
)

type Config struct {
	Env    string       `mapstructure:"env"`
	HTTP   HTTPConfig   `mapstructure:"http"`
	DB     DBConfig     `mapstructure:"db"`
	OCR    OCRConfig    `mapstructure:"ocr"`
	Gate   GateConfig   `mapstructure:"gate"`
	Frames FramesConfig `mapstructure:"frames"`
	MQTT   MQTTConfig   `mapstructure:"mqtt"`
	Auth   AuthConfig   `mapstructure:"auth"`
	Log    LogConfig    `mapstructure:"log"`
}

type HTTPConfig struct {
	Port         string        `mapstructure:"port"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DBConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type OCRConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	Model            string        `mapstructure:"model"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	MaxImageBytes    int64         `mapstructure:"max_image_bytes"`
	MaxConcurrent    int64         `mapstructure:"max_concurrent"`
	MaxTokens        int           `mapstructure:"max_tokens"`
	Timeout          time.Duration `mapstructure:"timeout"`
	CredentialSource string        `mapstructure:"credential_source"`
	APIKeys          []string      `mapstructure:"api_keys"`
}

type GateConfig struct {
	DwellTime       time.Duration `mapstructure:"dwell_time"`
	ResetTimeout    time.Duration `mapstructure:"reset_timeout"`
	RequirePresence bool          `mapstructure:"require_presence"`
}

type FramesConfig struct {
	MaxStreams          int   `mapstructure:"max_streams"`
	MaxBytes            int64 `mapstructure:"max_bytes"`
	UploadRatePerMinute int   `mapstructure:"upload_rate_per_minute"`
}

type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	SensorTopic string `mapstructure:"sensor_topic"`
}

type AuthConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// DSN builds the Postgres connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// DSNForLog is DSN with the password masked.
func (c DBConfig) DSNForLog() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=*** dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Name, c.SSLMode)
}

func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "production")

	v.SetDefault("http.port", "8000")
	v.SetDefault("http.cors_origins", []string{"*"})
	v.SetDefault("http.read_timeout", 30*time.Second)
	v.SetDefault("http.write_timeout", 60*time.Second)

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "gate")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)

	v.SetDefault("ocr.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("ocr.model", "meta-llama/llama-4-scout-17b-16e-instruct")
	v.SetDefault("ocr.max_attempts", 3)
	v.SetDefault("ocr.max_image_bytes", 4*1024*1024)
	v.SetDefault("ocr.max_concurrent", 1)
	v.SetDefault("ocr.max_tokens", 128)
	v.SetDefault("ocr.timeout", 30*time.Second)
	v.SetDefault("ocr.credential_source", CredentialSourceDatabase)
	v.SetDefault("ocr.api_keys", []string{})

	v.SetDefault("gate.dwell_time", 5*time.Second)
	v.SetDefault("gate.reset_timeout", 15*time.Second)
	v.SetDefault("gate.require_presence", true)

	v.SetDefault("frames.max_streams", 32)
	v.SetDefault("frames.max_bytes", 4*1024*1024)
	v.SetDefault("frames.upload_rate_per_minute", 600)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "gate-service")
	v.SetDefault("mqtt.topic_prefix", "gate")
	v.SetDefault("mqtt.sensor_topic", "gate/sensor")

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Load reads configuration from defaults, an optional config file and
// GATE_* environment variables (a .env file is honored when present).
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv("GATE_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.OCR.MaxAttempts < 1 {
		return fmt.Errorf("ocr.max_attempts must be at least 1, got %d", c.OCR.MaxAttempts)
	}
	if c.OCR.MaxConcurrent < 1 {
		return fmt.Errorf("ocr.max_concurrent must be at least 1, got %d", c.OCR.MaxConcurrent)
	}
	if c.OCR.MaxImageBytes <= 0 {
		return fmt.Errorf("ocr.max_image_bytes must be positive")
	}
	switch c.OCR.CredentialSource {
	case CredentialSourceDatabase:
	case CredentialSourceConfig:
		if len(c.OCR.APIKeys) == 0 {
			return errors.New("ocr.api_keys is required when ocr.credential_source=config")
		}
	default:
		return fmt.Errorf("unknown ocr.credential_source %q", c.OCR.CredentialSource)
	}
	if c.Gate.DwellTime < 0 || c.Gate.ResetTimeout <= 0 {
		return errors.New("gate.dwell_time must be >= 0 and gate.reset_timeout > 0")
	}
	if c.Frames.MaxStreams < 1 {
		return fmt.Errorf("frames.max_streams must be at least 1, got %d", c.Frames.MaxStreams)
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required when auth is enabled")
	}
	return nil
}
