package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	WorkerEnabled      bool
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Storage (audio payloads)
	StorageURL        string
	StorageServiceKey string
	StorageBucket     string

	// Content collaborator (leveled text / book storage)
	ContentAPIURL string
	ContentAPIKey string

	// ElevenLabs (preferred TTS provider, returns character-level timestamps)
	ElevenLabsKey     string
	ElevenLabsVoiceID string

	// OpenAI (fallback TTS provider, timings estimated)
	OpenAIKey   string
	OpenAIVoice string

	// Gemini (optional TTS provider via genai SDK)
	GeminiTTSEnabled bool
	GeminiKey        string
	GeminiVoice      string

	// Worker
	MaxConcurrentJobs int
	JobMaxAttempts    int
	JobTimeoutSeconds int

	// Retention
	FailedJobRetentionHours int

	// Reader (device side)
	OriginAPIURL    string
	OriginAPIKey    string
	DeviceMemoryMB  int // 0 = probe from the runtime environment
	AudioOutputMock bool
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:            getEnv("API_PORT", "8080"),
		WorkerEnabled:      getEnvBool("WORKER_ENABLED", true),
		BackendAPIKey:      getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
		StorageURL:         getEnv("STORAGE_URL", ""),
		StorageServiceKey:  getEnv("STORAGE_SERVICE_KEY", ""),
		StorageBucket:      getEnv("STORAGE_BUCKET", "bookbridge-audio"),
		ContentAPIURL:      getEnv("CONTENT_API_URL", ""),
		ContentAPIKey:      getEnv("CONTENT_API_KEY", ""),
		ElevenLabsKey:      getEnv("ELEVENLABS_API_KEY", ""),
		ElevenLabsVoiceID:  getEnv("ELEVENLABS_VOICE_ID", ""),
		OpenAIKey:          getEnv("OPENAI_API_KEY", ""),
		OpenAIVoice:        getEnv("OPENAI_TTS_VOICE", "alloy"),
		GeminiTTSEnabled:   getEnvBool("GEMINI_TTS_ENABLED", false),
		GeminiKey:          getEnv("GEMINI_API_KEY", ""),
		GeminiVoice:        getEnv("GEMINI_TTS_VOICE", "Kore"),

		MaxConcurrentJobs: getEnvInt("MAX_CONCURRENT_JOBS", 4),
		JobMaxAttempts:    getEnvInt("JOB_MAX_ATTEMPTS", 3),
		JobTimeoutSeconds: getEnvInt("JOB_TIMEOUT_SECONDS", 120),

		FailedJobRetentionHours: getEnvInt("FAILED_JOB_RETENTION_HOURS", 72),

		OriginAPIURL:    getEnv("ORIGIN_API_URL", "http://localhost:8080"),
		OriginAPIKey:    getEnv("ORIGIN_API_KEY", ""),
		DeviceMemoryMB:  getEnvInt("DEVICE_MEMORY_MB", 0),
		AudioOutputMock: getEnvBool("AUDIO_OUTPUT_MOCK", false),
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.ContentAPIURL == "" {
		return nil, fmt.Errorf("CONTENT_API_URL is required")
	}

	// At least one TTS provider must be configured
	if cfg.ElevenLabsKey == "" && cfg.OpenAIKey == "" && !cfg.GeminiTTSEnabled {
		return nil, fmt.Errorf("either ELEVENLABS_API_KEY, OPENAI_API_KEY or GEMINI_TTS_ENABLED is required for synthesis")
	}

	if cfg.GeminiTTSEnabled && cfg.GeminiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required when GEMINI_TTS_ENABLED=true")
	}

	if cfg.StorageURL == "" || cfg.StorageServiceKey == "" {
		return nil, fmt.Errorf("STORAGE_URL and STORAGE_SERVICE_KEY are required")
	}

	return cfg, nil
}

// LoadReader loads only the settings the device-side reader needs.
// Unlike Load it has no server-side required fields.
func LoadReader() *Config {
	_ = godotenv.Load()

	return &Config{
		OriginAPIURL:    getEnv("ORIGIN_API_URL", "http://localhost:8080"),
		OriginAPIKey:    getEnv("ORIGIN_API_KEY", ""),
		ContentAPIURL:   getEnv("CONTENT_API_URL", ""),
		ContentAPIKey:   getEnv("CONTENT_API_KEY", ""),
		DeviceMemoryMB:  getEnvInt("DEVICE_MEMORY_MB", 0),
		AudioOutputMock: getEnvBool("AUDIO_OUTPUT_MOCK", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}
