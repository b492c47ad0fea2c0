package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

// AppConfig holds every runtime knob of the server. Values come from an
// optional YAML file (CHESSD_CONFIG) overridden by environment variables.
type AppConfig struct {
	WSAddr  string `yaml:"ws_addr"`
	APIAddr string `yaml:"api_addr"`

	AllowedOrigins []string `yaml:"allowed_origins"`

	StockfishPath string `yaml:"stockfish_path"`

	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`

	// Egress queue capacity per connection.
	EgressBuffer int `yaml:"egress_buffer"`

	// Delay before the AI turn trigger inspects the board, milliseconds.
	AITriggerDelayMillis int `yaml:"ai_trigger_delay_ms"`

	// Idle sessions older than this are swept from memory, seconds.
	// Zero disables the janitor.
	SessionIdleTTLSec int `yaml:"session_idle_ttl_sec"`
}

func defaults() *AppConfig {
	return &AppConfig{
		WSAddr:               ":8080",
		APIAddr:              ":8081",
		EgressBuffer:         32,
		AITriggerDelayMillis: 500,
		SessionIdleTTLSec:    24 * 3600,
	}
}

// Load builds the configuration. A YAML file named by CHESSD_CONFIG is read
// first when present; individual environment variables win over file values.
func Load() (*AppConfig, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("CHESSD_CONFIG")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if v := strings.TrimSpace(os.Getenv("CHESSD_WS_ADDR")); v != "" {
		cfg.WSAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("CHESSD_API_ADDR")); v != "" {
		cfg.APIAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("CHESSD_ALLOWED_ORIGINS")); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	if v := strings.TrimSpace(os.Getenv("STOCKFISH_PATH")); v != "" {
		cfg.StockfishPath = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.DatabaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_URL")); v != "" {
		cfg.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv("CHESSD_EGRESS_BUFFER")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EgressBuffer = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("CHESSD_AI_TRIGGER_DELAY_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.AITriggerDelayMillis = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("CHESSD_SESSION_IDLE_TTL")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.SessionIdleTTLSec = n
		}
	}

	return cfg, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
