package config

import (
	"os"
	"strconv"
	"time"
)

// Default thresholds and pacing, matching the portal's tolerances.
const (
	DefaultPhase1Threshold = 5
	DefaultFinalThreshold  = 9
	DefaultPhase2Threshold = 10
	DefaultRetentionDays   = 30

	// The portal's public API key, used when the rendered page never
	// exposes one. Override with CA_PUBLIC_API_KEY.
	defaultPublicAPIKey = "e93089e4-437c-4723-b343-4fa20045e3bc"
)

// Config holds the application configuration, loaded from the environment.
type Config struct {
	DatabaseURL string

	WebBase      string
	APIBase      string
	PublicAPIKey string
	Headless     bool

	RequestTimeout time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	PageDelayMin   time.Duration
	PageDelayMax   time.Duration
	DetailDelay    time.Duration

	Phase1Threshold  int
	FinalThreshold   int
	Phase2Threshold  int
	SecondCallPoints int
	RetentionDays    int
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		WebBase:          getEnv("CA_WEB_BASE", "https://buscador.mercadopublico.cl"),
		APIBase:          getEnv("CA_API_BASE", "https://api.buscador.mercadopublico.cl"),
		PublicAPIKey:     getEnv("CA_PUBLIC_API_KEY", defaultPublicAPIKey),
		Headless:         getEnvAsBool("CA_HEADLESS", true),
		RequestTimeout:   getEnvAsSeconds("CA_REQUEST_TIMEOUT_SECONDS", 90),
		MaxRetries:       getEnvAsInt("CA_MAX_RETRIES", 3),
		RetryDelay:       getEnvAsSeconds("CA_RETRY_DELAY_SECONDS", 5),
		PageDelayMin:     500 * time.Millisecond,
		PageDelayMax:     time.Second,
		DetailDelay:      500 * time.Millisecond,
		Phase1Threshold:  getEnvAsInt("CA_PHASE1_THRESHOLD", DefaultPhase1Threshold),
		FinalThreshold:   getEnvAsInt("CA_FINAL_THRESHOLD", DefaultFinalThreshold),
		Phase2Threshold:  getEnvAsInt("CA_PHASE2_THRESHOLD", DefaultPhase2Threshold),
		SecondCallPoints: getEnvAsInt("CA_SECOND_CALL_POINTS", 0),
		RetentionDays:    getEnvAsInt("CA_RETENTION_DAYS", DefaultRetentionDays),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return value
	}
	return fallback
}

func getEnvAsSeconds(key string, fallback int) time.Duration {
	return time.Duration(getEnvAsInt(key, fallback)) * time.Second
}
