// Package config provides askbridge configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds relay configuration. Values come from env vars or defaults.
//
// Required secrets (ANSWER_API_KEY, SLACK_BOT_TOKEN, SLACK_SIGNING_SECRET)
// are deliberately not validated here: a missing secret surfaces as an error
// on the call that needs it, so the process can start and serve the Slack
// URL-verification handshake before secrets are provisioned.
type Config struct {
	// --- Answer backend ---

	// AnswerAPIURL is the backend base URL (env: ANSWER_API_URL).
	AnswerAPIURL string `env:"ANSWER_API_URL"`

	// AnswerAPIKey is the backend bearer token (env: ANSWER_API_KEY).
	AnswerAPIKey string `env:"ANSWER_API_KEY"`

	// AnswerAPIVersion selects the backend API path prefix (env: ANSWER_API_VERSION).
	AnswerAPIVersion string `env:"ANSWER_API_VERSION" envDefault:"v1"`

	// BackendTimeout bounds each backend round trip (env: BACKEND_TIMEOUT).
	BackendTimeout time.Duration `env:"BACKEND_TIMEOUT" envDefault:"60s"`

	// --- Slack ---

	// SlackBotToken authenticates chat.postMessage calls (env: SLACK_BOT_TOKEN).
	SlackBotToken string `env:"SLACK_BOT_TOKEN"`

	// SlackSigningSecret verifies inbound request signatures (env: SLACK_SIGNING_SECRET).
	SlackSigningSecret string `env:"SLACK_SIGNING_SECRET"`

	// PostTimeout bounds each chat.postMessage call (env: POST_TIMEOUT).
	PostTimeout time.Duration `env:"POST_TIMEOUT" envDefault:"10s"`

	// --- Service ---

	// ListenAddr is the HTTP listen address (env: LISTEN_ADDR).
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8090"`

	// LogLevel controls log verbosity: debug, info, warn, error (env: LOG_LEVEL).
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// TaskCeiling bounds each background task after the ack (env: TASK_CEILING).
	// Both outbound calls must finish inside it.
	TaskCeiling time.Duration `env:"TASK_CEILING" envDefault:"90s"`

	// DrainTimeout bounds the shutdown wait for in-flight tasks (env: DRAIN_TIMEOUT).
	DrainTimeout time.Duration `env:"DRAIN_TIMEOUT" envDefault:"30s"`

	// DedupTTL is how long delivered event IDs are remembered (env: DEDUP_TTL).
	DedupTTL time.Duration `env:"DEDUP_TTL" envDefault:"10m"`
}

// Parse reads configuration from environment variables.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return cfg, nil
}
