// Package config handles environment-based configuration loading, the
// hot-updatable runtime config model, and the YAML bootstrap overlay.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// EnvConfig holds all environment-variable-driven settings (not hot-updatable).
type EnvConfig struct {
	// Directories
	DataDir string

	// Network
	ListenAddress string
	Port          int

	// API
	APIMaxBodyBytes int
	AdminToken      string

	// Optional YAML overlay applied over runtime-config defaults at boot.
	RuntimeConfigFile string

	// Cache mirror
	MirrorSweepSchedule  string // cron expression for expired-row sweep
	MirrorFlushCheckTick time.Duration

	// Connectivity
	QualityTableMaxEntries int
}

// LoadEnvConfig reads environment variables and returns a validated EnvConfig.
// Returns an error listing every invalid or missing variable.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	cfg.DataDir = envStr("TRACKDECK_DATA_DIR", "/var/lib/trackdeck")
	cfg.ListenAddress = strings.TrimSpace(envStr("TRACKDECK_LISTEN_ADDRESS", "127.0.0.1"))
	cfg.Port = envInt("TRACKDECK_PORT", 4810, &errs)
	cfg.APIMaxBodyBytes = envInt("TRACKDECK_API_MAX_BODY_BYTES", 1<<20, &errs)
	cfg.RuntimeConfigFile = envStr("TRACKDECK_RUNTIME_CONFIG_FILE", "")
	cfg.MirrorSweepSchedule = envStr("TRACKDECK_MIRROR_SWEEP_SCHEDULE", "30 */6 * * *")
	cfg.MirrorFlushCheckTick = envDuration("TRACKDECK_MIRROR_FLUSH_CHECK_TICK", 5*time.Second, &errs)
	cfg.QualityTableMaxEntries = envInt("TRACKDECK_QUALITY_TABLE_MAX_ENTRIES", 16, &errs)

	// Admin token must be defined; empty disables API auth.
	adminToken, hasAdminToken := os.LookupEnv("TRACKDECK_ADMIN_TOKEN")
	cfg.AdminToken = adminToken

	if !hasAdminToken {
		errs = append(errs, "TRACKDECK_ADMIN_TOKEN must be defined (can be empty)")
	} else if IsWeakToken(cfg.AdminToken) {
		errs = append(errs, "TRACKDECK_ADMIN_TOKEN is too weak; use a longer, less guessable token")
	}
	if cfg.ListenAddress == "" {
		errs = append(errs, "TRACKDECK_LISTEN_ADDRESS must not be empty")
	}
	validatePort("TRACKDECK_PORT", cfg.Port, &errs)
	validatePositive("TRACKDECK_API_MAX_BODY_BYTES", cfg.APIMaxBodyBytes, &errs)
	validatePositive("TRACKDECK_QUALITY_TABLE_MAX_ENTRIES", cfg.QualityTableMaxEntries, &errs)
	if cfg.MirrorFlushCheckTick <= 0 {
		errs = append(errs, "TRACKDECK_MIRROR_FLUSH_CHECK_TICK must be positive")
	}
	if _, err := cron.ParseStandard(cfg.MirrorSweepSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("TRACKDECK_MIRROR_SWEEP_SCHEDULE: invalid cron expression %q: %v", cfg.MirrorSweepSchedule, err))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return cfg, nil
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

func validatePort(name string, value int, errs *[]string) {
	if value < 1 || value > 65535 {
		*errs = append(*errs, fmt.Sprintf("%s: port must be 1-65535, got %d", name, value))
	}
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}
