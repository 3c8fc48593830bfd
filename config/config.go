package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// R2Config holds the Cloudflare R2 credentials for screenshot storage. The
// whole block is optional; when unset the app runs without image storage.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicBaseURL   string
}

// Enabled reports whether any R2 setting was provided.
func (c R2Config) Enabled() bool {
	return c.AccountID != "" || c.AccessKeyID != "" || c.SecretAccessKey != "" || c.BucketName != "" || c.PublicBaseURL != ""
}

// Complete reports whether every R2 setting was provided.
func (c R2Config) Complete() bool {
	return c.AccountID != "" && c.AccessKeyID != "" && c.SecretAccessKey != "" && c.BucketName != "" && c.PublicBaseURL != ""
}

// Config holds all application settings.
type Config struct {
	DatabaseURL string
	ServerPort  int

	R2 R2Config

	ScanMaxScore  int
	SessionTTL    time.Duration
	RaceCount     int
	PointsPerRace int
	TeamSize      int
}

// Load reads configuration from environment variables, optionally seeded from
// a .env file for local development.
func Load() (*Config, error) {
	// A missing .env file is not an error.
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is not set")
	}

	port, err := intEnv("SERVER_PORT", 8080)
	if err != nil {
		return nil, err
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", port)
	}

	r2 := R2Config{
		AccountID:       os.Getenv("R2_ACCOUNT_ID"),
		AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("R2_SECRET_ACCESS_KEY"),
		BucketName:      os.Getenv("R2_BUCKET_NAME"),
		PublicBaseURL:   os.Getenv("R2_PUBLIC_BASE_URL"),
	}
	if r2.Enabled() && !r2.Complete() {
		return nil, fmt.Errorf("incomplete R2 configuration: set all R2_* variables or none")
	}

	maxScore, err := intEnv("SCAN_MAX_SCORE", 180)
	if err != nil {
		return nil, err
	}

	sessionTTL, err := durationEnv("SCAN_SESSION_TTL", 24*time.Hour)
	if err != nil {
		return nil, err
	}

	raceCount, err := intEnv("WAR_RACE_COUNT", 12)
	if err != nil {
		return nil, err
	}
	pointsPerRace, err := intEnv("WAR_POINTS_PER_RACE", 82)
	if err != nil {
		return nil, err
	}
	teamSize, err := intEnv("WAR_TEAM_SIZE", 6)
	if err != nil {
		return nil, err
	}
	if raceCount <= 0 || pointsPerRace <= 0 || teamSize <= 0 {
		return nil, fmt.Errorf("WAR_RACE_COUNT, WAR_POINTS_PER_RACE and WAR_TEAM_SIZE must be positive")
	}

	cfg := &Config{
		DatabaseURL:   dbURL,
		ServerPort:    port,
		R2:            r2,
		ScanMaxScore:  maxScore,
		SessionTTL:    sessionTTL,
		RaceCount:     raceCount,
		PointsPerRace: pointsPerRace,
		TeamSize:      teamSize,
	}

	return cfg, nil
}

func intEnv(name string, fallback int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", name, err)
	}
	return value, nil
}

func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", name, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %s", name, raw)
	}
	return value, nil
}
