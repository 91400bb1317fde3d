// Package config handles environment-based configuration loading and runtime config models.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvConfig holds all environment-variable-driven settings for the daemon.
type EnvConfig struct {
	// Directories
	StateDir string

	// D-Bus
	Bus string // "session" or "system"

	// Scheduler limits
	MaxEntries       int
	MaxActiveEntries int

	// Startup tariff
	TariffPath string // path to a binary tariffcodec file; empty means none loaded at startup

	// Clock drift detection
	ClockScanMinInterval time.Duration
	ClockScanJitter      time.Duration
}

// EventLogPath is the SQLite database file the event log opens under StateDir.
func (c *EnvConfig) EventLogPath() string {
	return c.StateDir + "/events.db"
}

// LoadEnvConfig reads environment variables and returns a validated EnvConfig.
// Returns an error if any value is invalid.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	cfg.StateDir = envStr("MOGWAID_STATE_DIR", "/var/lib/mogwaid")
	cfg.Bus = strings.ToLower(envStr("MOGWAID_BUS", "session"))
	cfg.MaxEntries = envInt("MOGWAID_MAX_ENTRIES", 256, &errs)
	cfg.MaxActiveEntries = envInt("MOGWAID_MAX_ACTIVE_ENTRIES", 16, &errs)
	cfg.TariffPath = envStr("MOGWAID_TARIFF_PATH", "")
	cfg.ClockScanMinInterval = envDuration("MOGWAID_CLOCK_SCAN_MIN_INTERVAL", 30*time.Second, &errs)
	cfg.ClockScanJitter = envDuration("MOGWAID_CLOCK_SCAN_JITTER", 10*time.Second, &errs)

	if cfg.StateDir == "" {
		errs = append(errs, "MOGWAID_STATE_DIR must not be empty")
	}
	if cfg.Bus != "session" && cfg.Bus != "system" {
		errs = append(errs, fmt.Sprintf("MOGWAID_BUS: invalid value %q (allowed: session, system)", cfg.Bus))
	}
	validatePositive("MOGWAID_MAX_ENTRIES", cfg.MaxEntries, &errs)
	validatePositive("MOGWAID_MAX_ACTIVE_ENTRIES", cfg.MaxActiveEntries, &errs)
	if cfg.MaxActiveEntries > cfg.MaxEntries {
		errs = append(errs, "MOGWAID_MAX_ACTIVE_ENTRIES must be less than or equal to MOGWAID_MAX_ENTRIES")
	}
	if cfg.ClockScanMinInterval <= 0 {
		errs = append(errs, "MOGWAID_CLOCK_SCAN_MIN_INTERVAL must be positive")
	}
	if cfg.ClockScanJitter < 0 {
		errs = append(errs, "MOGWAID_CLOCK_SCAN_JITTER must not be negative")
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

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}
