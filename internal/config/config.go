package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Audio    AudioConfig    `yaml:"audio"`
	Session  SessionConfig  `yaml:"session"`
	Provider ProviderConfig `yaml:"provider"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds the listener settings
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuthConfig holds handshake authentication settings
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled"`
	SecretKey string `yaml:"secret_key"`
	AdminKey  string `yaml:"admin_key"`
}

// AudioConfig describes the audio format offered in the server hello
type AudioConfig struct {
	Format        string `yaml:"format"`
	SampleRate    int    `yaml:"sample_rate"`
	Channels      int    `yaml:"channels"`
	FrameDuration int    `yaml:"frame_duration"`
	Language      string `yaml:"language"`
}

// SessionConfig holds protocol and buffering settings
type SessionConfig struct {
	ProtocolVersion   int           `yaml:"protocol_version"`
	HelloTimeout      time.Duration `yaml:"hello_timeout"`
	FlushThreshold    int           `yaml:"flush_threshold"`
	ResponseQueueSize int           `yaml:"response_queue_size"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	HistoryLimit      int           `yaml:"history_limit"`
}

// ProviderConfig selects the speech and language collaborators
type ProviderConfig struct {
	STT string `yaml:"stt"`
	LLM string `yaml:"llm"`
	TTS string `yaml:"tts"`

	GeminiAPIKey string `yaml:"gemini_api_key"`
	GeminiModel  string `yaml:"gemini_model"`
}

// StorageConfig selects where conversations are recorded
type StorageConfig struct {
	Provider      string `yaml:"provider"`
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Provider names
const (
	ProviderMock       = "mock"
	ProviderGoogle     = "google"
	ProviderGemini     = "gemini"
	ProviderElevenLabs = "elevenlabs"
	StorageMemory      = "memory"
	StorageMongo       = "mongo"
)

// Default returns the configuration used when nothing is set
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ShutdownTimeout: 10 * time.Second,
		},
		Audio: AudioConfig{
			Format:        "opus",
			SampleRate:    16000,
			Channels:      1,
			FrameDuration: 60,
			Language:      "en-US",
		},
		Session: SessionConfig{
			ProtocolVersion:   1,
			HelloTimeout:      10 * time.Second,
			FlushThreshold:    10,
			ResponseQueueSize: 4,
			HistoryLimit:      10,
		},
		Provider: ProviderConfig{
			STT: ProviderMock,
			LLM: ProviderMock,
			TTS: ProviderMock,
		},
		Storage: StorageConfig{
			Provider:      StorageMemory,
			MongoURI:      "mongodb://localhost:27017",
			MongoDatabase: "arunika",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads .env (when present), the optional YAML file named by
// CONFIG_FILE and finally the environment, in increasing precedence.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error
	setString(&c.Server.Host, "WS_HOST")
	errs = append(errs, setInt(&c.Server.Port, "WS_PORT"))
	errs = append(errs, setDuration(&c.Server.ShutdownTimeout, "SHUTDOWN_TIMEOUT"))

	errs = append(errs, setBool(&c.Auth.Enabled, "AUTH_ENABLED"))
	setString(&c.Auth.SecretKey, "AUTH_SECRET_KEY")
	setString(&c.Auth.AdminKey, "AUTH_ADMIN_KEY")

	setString(&c.Audio.Format, "AUDIO_FORMAT")
	errs = append(errs, setInt(&c.Audio.SampleRate, "AUDIO_SAMPLE_RATE"))
	errs = append(errs, setInt(&c.Audio.Channels, "AUDIO_CHANNELS"))
	errs = append(errs, setInt(&c.Audio.FrameDuration, "AUDIO_FRAME_DURATION"))
	setString(&c.Audio.Language, "LANGUAGE")

	errs = append(errs, setInt(&c.Session.ProtocolVersion, "PROTOCOL_VERSION"))
	errs = append(errs, setDuration(&c.Session.HelloTimeout, "HELLO_TIMEOUT"))
	errs = append(errs, setInt(&c.Session.FlushThreshold, "FLUSH_THRESHOLD"))
	errs = append(errs, setInt(&c.Session.ResponseQueueSize, "RESPONSE_QUEUE_SIZE"))
	errs = append(errs, setDuration(&c.Session.IdleTimeout, "SESSION_IDLE_TIMEOUT"))
	errs = append(errs, setInt(&c.Session.HistoryLimit, "HISTORY_LIMIT"))

	setString(&c.Provider.STT, "STT_PROVIDER")
	setString(&c.Provider.LLM, "LLM_PROVIDER")
	setString(&c.Provider.TTS, "TTS_PROVIDER")
	setString(&c.Provider.GeminiAPIKey, "GEMINI_API_KEY")
	setString(&c.Provider.GeminiModel, "GEMINI_MODEL")

	setString(&c.Storage.Provider, "STORAGE_PROVIDER")
	setString(&c.Storage.MongoURI, "MONGODB_URI")
	setString(&c.Storage.MongoDatabase, "MONGODB_DATABASE")

	setString(&c.Log.Level, "LOG_LEVEL")
	if env := os.Getenv("APP_ENV"); env != "" {
		c.Log.Development = env == "development"
	}

	return errors.Join(errs...)
}

// Validate checks every section
func (c Config) Validate() error {
	return errors.Join(
		c.Server.Validate(),
		c.Auth.Validate(),
		c.Audio.Validate(),
		c.Session.Validate(),
		c.Provider.Validate(),
		c.Storage.Validate(),
	)
}

// Validate validates the server section
func (s ServerConfig) Validate() error {
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", s.Port)
	}
	return nil
}

// Validate validates the auth section
func (a AuthConfig) Validate() error {
	if a.Enabled && a.SecretKey == "" {
		return errors.New("AUTH_SECRET_KEY is required when auth is enabled")
	}
	return nil
}

// Validate validates the audio section
func (a AudioConfig) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("audio sample rate must be between 8000 and 48000, got %d", a.SampleRate)
	}
	if a.Channels < 1 || a.Channels > 2 {
		return fmt.Errorf("audio channels must be 1 or 2, got %d", a.Channels)
	}
	if a.FrameDuration <= 0 {
		return fmt.Errorf("audio frame duration must be positive, got %d", a.FrameDuration)
	}
	return nil
}

// Validate validates the session section
func (s SessionConfig) Validate() error {
	if s.HelloTimeout <= 0 {
		return fmt.Errorf("hello timeout must be positive, got %s", s.HelloTimeout)
	}
	if s.FlushThreshold <= 0 {
		return fmt.Errorf("flush threshold must be positive, got %d", s.FlushThreshold)
	}
	if s.ResponseQueueSize <= 0 {
		return fmt.Errorf("response queue size must be positive, got %d", s.ResponseQueueSize)
	}
	if s.IdleTimeout < 0 {
		return fmt.Errorf("idle timeout must not be negative, got %s", s.IdleTimeout)
	}
	return nil
}

// Validate validates the provider section
func (p ProviderConfig) Validate() error {
	errs := []error{
		oneOf("STT_PROVIDER", p.STT, ProviderMock, ProviderGoogle),
		oneOf("LLM_PROVIDER", p.LLM, ProviderMock, ProviderGemini),
		oneOf("TTS_PROVIDER", p.TTS, ProviderMock, ProviderElevenLabs),
	}
	if p.LLM == ProviderGemini && p.GeminiAPIKey == "" {
		errs = append(errs, errors.New("GEMINI_API_KEY is required for the gemini provider"))
	}
	return errors.Join(errs...)
}

// Validate validates the storage section
func (s StorageConfig) Validate() error {
	if err := oneOf("STORAGE_PROVIDER", s.Provider, StorageMemory, StorageMongo); err != nil {
		return err
	}
	if s.Provider == StorageMongo && s.MongoURI == "" {
		return errors.New("MONGODB_URI is required for mongo storage")
	}
	return nil
}

// Address returns host:port for the HTTP listener
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, ", "), value)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", key, v)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: invalid boolean %q", key, v)
	}
	*dst = b
	return nil
}

// setDuration accepts Go durations ("10s") or a bare number of seconds.
func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = time.Duration(secs * float64(time.Second))
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q", key, v)
	}
	*dst = d
	return nil
}
