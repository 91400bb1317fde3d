package config

import (
	"strings"
	"testing"
	"time"
)

func assertEqual[T comparable](t *testing.T, field string, got, want T) {
	t.Helper()
	if got != want {
		t.Errorf("%s = %v, want %v", field, got, want)
	}
}

func TestLoadEnvConfig_Defaults(t *testing.T) {
	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertEqual(t, "StateDir", cfg.StateDir, "/var/lib/mogwaid")
	assertEqual(t, "Bus", cfg.Bus, "session")
	assertEqual(t, "MaxEntries", cfg.MaxEntries, 256)
	assertEqual(t, "MaxActiveEntries", cfg.MaxActiveEntries, 16)
	assertEqual(t, "TariffPath", cfg.TariffPath, "")
	assertEqual(t, "ClockScanMinInterval", cfg.ClockScanMinInterval, 30*time.Second)
	assertEqual(t, "ClockScanJitter", cfg.ClockScanJitter, 10*time.Second)
	assertEqual(t, "EventLogPath", cfg.EventLogPath(), "/var/lib/mogwaid/events.db")
}

func TestLoadEnvConfig_Overrides(t *testing.T) {
	t.Setenv("MOGWAID_STATE_DIR", "/tmp/mogwaid")
	t.Setenv("MOGWAID_BUS", "SYSTEM")
	t.Setenv("MOGWAID_MAX_ENTRIES", "10")
	t.Setenv("MOGWAID_MAX_ACTIVE_ENTRIES", "2")
	t.Setenv("MOGWAID_TARIFF_PATH", "/etc/mogwaid/default.tariff")
	t.Setenv("MOGWAID_CLOCK_SCAN_MIN_INTERVAL", "1m")
	t.Setenv("MOGWAID_CLOCK_SCAN_JITTER", "5s")

	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertEqual(t, "StateDir", cfg.StateDir, "/tmp/mogwaid")
	assertEqual(t, "Bus", cfg.Bus, "system")
	assertEqual(t, "MaxEntries", cfg.MaxEntries, 10)
	assertEqual(t, "MaxActiveEntries", cfg.MaxActiveEntries, 2)
	assertEqual(t, "TariffPath", cfg.TariffPath, "/etc/mogwaid/default.tariff")
	assertEqual(t, "ClockScanMinInterval", cfg.ClockScanMinInterval, time.Minute)
	assertEqual(t, "ClockScanJitter", cfg.ClockScanJitter, 5*time.Second)
}

func TestLoadEnvConfig_RejectsInvalidBus(t *testing.T) {
	t.Setenv("MOGWAID_BUS", "carrier-pigeon")

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error for invalid bus")
	}
	if !strings.Contains(err.Error(), "MOGWAID_BUS") {
		t.Errorf("error = %v, want mention of MOGWAID_BUS", err)
	}
}

func TestLoadEnvConfig_RejectsActiveExceedingMax(t *testing.T) {
	t.Setenv("MOGWAID_MAX_ENTRIES", "4")
	t.Setenv("MOGWAID_MAX_ACTIVE_ENTRIES", "8")

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error when MaxActiveEntries exceeds MaxEntries")
	}
}

func TestLoadEnvConfig_AggregatesMultipleErrors(t *testing.T) {
	t.Setenv("MOGWAID_MAX_ENTRIES", "not-a-number")
	t.Setenv("MOGWAID_BUS", "nonsense")

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "MOGWAID_MAX_ENTRIES") || !strings.Contains(msg, "MOGWAID_BUS") {
		t.Errorf("expected both violations reported, got: %s", msg)
	}
}
