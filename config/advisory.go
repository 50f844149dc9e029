package config

import "time"

const defaultAdvisoryBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

type AdvisorySettings struct {
	Enabled           bool
	APIKey            string
	BaseURL           string
	Model             string
	Temperature       float32
	MaxTokens         int
	Timeout           time.Duration
	RequestsPerMinute int
	CacheTTL          time.Duration
}

// Configured is false when the advisory source should be skipped entirely.
func (s AdvisorySettings) Configured() bool {
	return s.Enabled && s.APIKey != ""
}

func GetAdvisorySettings() AdvisorySettings {
	return AdvisorySettings{
		Enabled:           boolFromEnv("ADVISORY_ENABLED", true),
		APIKey:            stringFromEnv("", "ADVISORY_API_KEY", "GEMINI_API_KEY"),
		BaseURL:           stringFromEnv(defaultAdvisoryBaseURL, "ADVISORY_BASE_URL"),
		Model:             stringFromEnv("gemini-1.5-flash", "ADVISORY_MODEL"),
		Temperature:       float32(floatFromEnv("ADVISORY_TEMPERATURE", 0.7)),
		MaxTokens:         intFromEnv("ADVISORY_MAX_TOKENS", 2048),
		Timeout:           secondsFromEnv("ADVISORY_TIMEOUT_SECONDS", 20*time.Second),
		RequestsPerMinute: intFromEnv("ADVISORY_REQUESTS_PER_MINUTE", 30),
		CacheTTL:          secondsFromEnv("ADVISORY_CACHE_TTL_SECONDS", 600*time.Second),
	}
}
