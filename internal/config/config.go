package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice gateway and the local
// session runner.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	OpenAIAPIKey        string
	SessionsURL         string
	NegotiationBaseURL  string
	ModelID             string
	DefaultVoice        string
	DefaultInstructions string

	ScrapingAntAPIKey  string
	ScrapingAntBaseURL string

	SampleRate  int
	STUNServers []string

	CaptureCommand  string
	CaptureDevice   string
	CaptureFormat   string
	PlaybackCommand string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:           envOrDefault("APP_BIND_ADDR", ":8787"),
		MetricsNamespace:   envOrDefault("APP_METRICS_NAMESPACE", "voxlead"),
		AllowAnyOrigin:     false,
		OpenAIAPIKey:       stringsTrimSpace("OPENAI_API_KEY"),
		SessionsURL:        envOrDefault("OPENAI_SESSIONS_URL", "https://api.openai.com/v1/realtime/sessions"),
		NegotiationBaseURL: envOrDefault("OPENAI_REALTIME_URL", "https://api.openai.com/v1/realtime"),
		ModelID:            envOrDefault("OPENAI_REALTIME_MODEL", "gpt-4o-realtime-preview-2024-12-17"),
		DefaultVoice:       envOrDefault("APP_DEFAULT_VOICE", "alloy"),
		DefaultInstructions: envOrDefault("APP_DEFAULT_INSTRUCTIONS",
			"You are a helpful voice assistant for sales conversations."),
		ScrapingAntAPIKey:  stringsTrimSpace("SCRAPINGANT_API_KEY"),
		ScrapingAntBaseURL: envOrDefault("SCRAPINGANT_BASE_URL", "https://api.scrapingant.com/v2/general"),
		SampleRate:         24000,
		CaptureCommand:     envOrDefault("APP_CAPTURE_COMMAND", "ffmpeg"),
		CaptureDevice:      envOrDefault("APP_CAPTURE_DEVICE", "default"),
		CaptureFormat:      envOrDefault("APP_CAPTURE_FORMAT", "pulse"),
		PlaybackCommand:    envOrDefault("APP_PLAYBACK_COMMAND", "ffplay"),
		ShutdownTimeout:    15 * time.Second,
	}
	cfg.STUNServers = splitList(envOrDefault("APP_STUN_SERVERS", "stun:stun.l.google.com:19302"))

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.SampleRate, err = intFromEnv("APP_SAMPLE_RATE", cfg.SampleRate)
	if err != nil {
		return Config{}, err
	}

	if cfg.SampleRate <= 0 {
		return Config{}, fmt.Errorf("APP_SAMPLE_RATE must be positive")
	}
	if cfg.ShutdownTimeout < time.Second {
		return Config{}, fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be at least 1s")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
