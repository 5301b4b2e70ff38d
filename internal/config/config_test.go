package config

import (
	"os"
	"testing"
)

func TestLoadConfig_Defaults(t *testing.T) {
	// 1. Setup Required Envs (to bypass validation)
	required := map[string]string{
		"APCA_API_KEY_ID":     "test_key",
		"APCA_API_SECRET_KEY": "test_secret",
	}

	for k, v := range required {
		os.Setenv(k, v)
		defer os.Unsetenv(k) // Clean up
	}

	// 2. Ensure Optional Envs are Unset
	optionals := []string{
		"RESERVE_PCT",
		"MAX_STOCK_POSITIONS",
		"PDT_MIN_HOLD_DAYS",
		"HEALTH_CHECK_INTERVAL_SEC",
		"IDEMPOTENCY_PREFIX",
		"POLL_INTERVAL_SEC",
	}
	for _, k := range optionals {
		os.Unsetenv(k)
	}

	// 3. Load Config
	cfg := Load()

	// 4. Verify Defaults
	if cfg.ReservePct != 20.0 {
		t.Errorf("Expected ReservePct 20.0, got %f", cfg.ReservePct)
	}
	if cfg.MaxStockPositions != 3 {
		t.Errorf("Expected MaxStockPositions 3, got %d", cfg.MaxStockPositions)
	}
	if cfg.MinHoldDays != 1 {
		t.Errorf("Expected MinHoldDays 1, got %d", cfg.MinHoldDays)
	}
	if cfg.HealthCheckIntervalSec != 60 {
		t.Errorf("Expected HealthCheckIntervalSec 60, got %d", cfg.HealthCheckIntervalSec)
	}
	if cfg.IdempotencyPrefix != "pulse" {
		t.Errorf("Expected IdempotencyPrefix 'pulse', got '%s'", cfg.IdempotencyPrefix)
	}
	if !cfg.PDTEnabled {
		t.Error("Expected PDTEnabled true by default")
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	envs := map[string]string{
		"APCA_API_KEY_ID":     "test_key",
		"APCA_API_SECRET_KEY": "test_secret",
		"RESERVE_PCT":         "25",
		"PDT_ENABLED":         "false",
		"IDEMPOTENCY_PREFIX":  "bot",
		"POLL_INTERVAL_SEC":   "30",
	}
	for k, v := range envs {
		os.Setenv(k, v)
		defer os.Unsetenv(k)
	}

	cfg := Load()

	if cfg.ReservePct != 25.0 {
		t.Errorf("Expected ReservePct 25.0, got %f", cfg.ReservePct)
	}
	if cfg.PDTEnabled {
		t.Error("Expected PDTEnabled false")
	}
	if cfg.IdempotencyPrefix != "bot" {
		t.Errorf("Expected IdempotencyPrefix 'bot', got '%s'", cfg.IdempotencyPrefix)
	}
	if cfg.PollIntervalSec != 30 {
		t.Errorf("Expected PollIntervalSec 30, got %d", cfg.PollIntervalSec)
	}
}

func TestGetEnvHelpers_InvalidValuesFallBack(t *testing.T) {
	os.Setenv("BAD_FLOAT", "not-a-number")
	os.Setenv("BAD_INT", "3.5")
	os.Setenv("BAD_BOOL", "maybe")
	defer func() {
		os.Unsetenv("BAD_FLOAT")
		os.Unsetenv("BAD_INT")
		os.Unsetenv("BAD_BOOL")
	}()

	if got := getEnvAsFloat64("BAD_FLOAT", 1.5); got != 1.5 {
		t.Errorf("Expected fallback 1.5, got %f", got)
	}
	if got := getEnvAsInt("BAD_INT", 7); got != 7 {
		t.Errorf("Expected fallback 7, got %d", got)
	}
	if got := getEnvAsBool("BAD_BOOL", true); got != true {
		t.Error("Expected fallback true")
	}
}
