// Package config loads the engine's process configuration from
// environment variables.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config carries every tunable the process reads at startup.
type Config struct {
	// HTTPAddr is the bind address of the monitoring API; empty disables it.
	HTTPAddr string
	// LogLevel is a zerolog level name (debug, info, warn, error).
	LogLevel string
	// DatabaseDSN, when set, enables the Postgres-backed model store;
	// otherwise the memory store is used.
	DatabaseDSN string
	// ModelPath is a YAML or CSV AOE model file loaded at startup into
	// whichever model store is active.
	ModelPath string
	// JWTSecret signs and verifies monitoring-API bearer tokens.
	JWTSecret string

	// MeasBufNum is the capacity of each AOE's inbound measurement channel.
	MeasBufNum int
	// ResultBuf is the capacity of the dispatcher's shared result channel.
	ResultBuf int
	// ControlBuf is the capacity of each AOE's outbound control channel.
	ControlBuf int

	// OTel* configure the OpenTelemetry tracing provider (one span per
	// AOE activation); disabled by default.
	OTelEnabled     bool
	OTelServiceName string
	OTelEndpoint    string
	OTelInsecure    bool
	OTelSampleRate  float64
}

// Load reads the configuration from the environment, applying defaults.
// A .env file in the working directory is merged in first, if present.
func Load() *Config {
	_ = godotenv.Load()
	return &Config{
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseDSN: getEnv("DATABASE_DSN", ""),
		ModelPath:   getEnv("AOE_MODEL_PATH", ""),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		MeasBufNum:  getEnvInt("AOE_MEAS_BUF_NUM", 100),
		ResultBuf:   getEnvInt("AOE_RESULT_BUF", 100),
		ControlBuf:  getEnvInt("AOE_CONTROL_BUF", 100),

		OTelEnabled:     getEnvBool("OTEL_ENABLED", false),
		OTelServiceName: getEnv("OTEL_SERVICE_NAME", "aoe-engine"),
		OTelEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		OTelInsecure:    getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTelSampleRate:  getEnvFloat("OTEL_SAMPLE_RATE", 1.0),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}
