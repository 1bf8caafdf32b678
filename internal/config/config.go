package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration required by the server.
type Config struct {
	Port       int
	CORSOrigin string
	DBURL      string

	// SecretKey is the shared symmetric key batches are sealed with. It is
	// never defaulted: when Encryption is on it must come from the
	// environment.
	SecretKey  string
	Encryption bool

	FeishuAlerts  bool
	FeishuWebhook string
	// Declared Feishu rate limits. Parsed and carried, not enforced by the
	// dispatcher; see the dispatcher docs.
	FeishuMinInterval  time.Duration
	FeishuMaxPerMinute int
}

// Load reads configuration from the environment. A .env file in the working
// directory is honored when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:               intEnv("PORT", 3000),
		CORSOrigin:         stringEnv("CORS_ORIGIN", "*"),
		DBURL:              strings.TrimSpace(os.Getenv("DB_URL")),
		SecretKey:          strings.TrimSpace(os.Getenv("SECRET_KEY")),
		Encryption:         boolEnv("ENABLE_ENCRYPTION", true),
		FeishuAlerts:       boolEnv("ENABLE_FEISHU_ALERTS", true),
		FeishuWebhook:      strings.TrimSpace(os.Getenv("FEISHU_WEBHOOK")),
		FeishuMinInterval:  time.Duration(intEnv("FEISHU_MIN_INTERVAL", 5000)) * time.Millisecond,
		FeishuMaxPerMinute: intEnv("FEISHU_MAX_PER_MINUTE", 10),
	}

	if cfg.DBURL == "" {
		return Config{}, errors.New("DB_URL required")
	}
	if cfg.Encryption && cfg.SecretKey == "" {
		return Config{}, errors.New("SECRET_KEY required when ENABLE_ENCRYPTION is on")
	}

	// Alerts without a webhook cannot go anywhere; degrade to disabled.
	if cfg.FeishuAlerts && cfg.FeishuWebhook == "" {
		cfg.FeishuAlerts = false
	}

	return cfg, nil
}

func stringEnv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func intEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// boolEnv matches the original toggle semantics: anything except the literal
// "false" leaves the feature on.
func boolEnv(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v != "false"
}
