package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config carries every tunable the services need. The poll and size
// constants default to the values the hosted services were tuned for;
// the two upload ceilings are intentionally distinct.
type Config struct {
	Port           string `env:"PORT" envDefault:"3000"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:5173"`

	JWTSecret string `env:"JWT_SECRET,required"`

	// Vision (OCR) service
	VisionEndpoint     string        `env:"VISION_ENDPOINT,required"`
	VisionAPIKey       string        `env:"VISION_API_KEY,required"`
	OCRPollInterval    time.Duration `env:"OCR_POLL_INTERVAL" envDefault:"1s"`
	OCRMaxPollAttempts int           `env:"OCR_MAX_POLL_ATTEMPTS" envDefault:"10"`

	// Upload ceilings
	MaxUploadBytes    int64 `env:"MAX_UPLOAD_BYTES" envDefault:"5242880"`
	MaxDirectOCRBytes int64 `env:"MAX_DIRECT_OCR_BYTES" envDefault:"10485760"`

	// Completion service
	CompletionBaseURL     string  `env:"COMPLETION_BASE_URL,required"`
	CompletionAPIKey      string  `env:"COMPLETION_API_KEY"`
	CompletionModel       string  `env:"COMPLETION_MODEL" envDefault:"gpt-4o"`
	CompletionTemperature float64 `env:"COMPLETION_TEMPERATURE" envDefault:"0.7"`
	CompletionMaxTokens   int64   `env:"COMPLETION_MAX_TOKENS" envDefault:"1000"`
	CompletionTopP        float64 `env:"COMPLETION_TOP_P" envDefault:"0.95"`

	// Object storage
	GCSBucketName         string `env:"GCS_BUCKET_NAME,required"`
	GoogleCredentialsFile string `env:"GOOGLE_APPLICATION_CREDENTIALS"`

	// Anonymous usage
	FreeTurnLimit int `env:"FREE_TURN_LIMIT" envDefault:"2"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
