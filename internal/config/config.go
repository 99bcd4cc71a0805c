package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the configuration for the application.
type Config struct {
	BackendURL     string
	DatabasePath   string
	RequestTimeout time.Duration

	// Client-side request pacing
	RequestsPerSecond float64
	RequestBurst      int

	// ScrollThreshold is the distance in pixels from the end of the loaded
	// content at which the next page is requested.
	ScrollThreshold int

	LogLevel    string
	MetricsAddr string
}

const (
	defaultDatabasePath      = "data/recipe-client.db"
	defaultRequestTimeout    = 15 * time.Second
	defaultRequestsPerSecond = 10
	defaultRequestBurst      = 5
	defaultScrollThreshold   = 300
	defaultLogLevel          = "info"
)

// NewFromEnv creates a new Config object from environment variables.
func NewFromEnv() (*Config, error) {
	backendURL := os.Getenv("BACKEND_URL")
	if backendURL == "" {
		return nil, fmt.Errorf("BACKEND_URL environment variable not set")
	}

	databasePath := os.Getenv("DATABASE_PATH")
	if databasePath == "" {
		databasePath = defaultDatabasePath
	}

	requestTimeout := defaultRequestTimeout
	if v := os.Getenv("REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("REQUEST_TIMEOUT environment variable is not a positive duration: %q", v)
		}
		requestTimeout = d
	}

	requestsPerSecond := float64(defaultRequestsPerSecond)
	if v := os.Getenv("REQUESTS_PER_SECOND"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("REQUESTS_PER_SECOND environment variable is not a positive number: %q", v)
		}
		requestsPerSecond = f
	}

	requestBurst, err := intFromEnv("REQUEST_BURST", defaultRequestBurst)
	if err != nil {
		return nil, err
	}

	scrollThreshold, err := intFromEnv("SCROLL_THRESHOLD_PX", defaultScrollThreshold)
	if err != nil {
		return nil, err
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = defaultLogLevel
	}

	return &Config{
		BackendURL:        backendURL,
		DatabasePath:      databasePath,
		RequestTimeout:    requestTimeout,
		RequestsPerSecond: requestsPerSecond,
		RequestBurst:      requestBurst,
		ScrollThreshold:   scrollThreshold,
		LogLevel:          logLevel,
		MetricsAddr:       os.Getenv("METRICS_ADDR"),
	}, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s environment variable is not a positive integer: %q", key, v)
	}
	return n, nil
}
