package config

import (
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the flat configuration surface for the trading core. Loaded once
// at startup; components receive the slices they need through their own
// Config structs, wired in main.
type Config struct {
	// Broker credentials are read by the SDK itself; they are only validated
	// and masked-printed here.

	// Risk budget
	ReservePct             float64
	MaxStockPositions      int
	MaxETFPositions        int
	MaxCryptoPositions     int
	MilestoneFloorsEnabled bool
	MilestoneFloorPct      float64
	MilestoneFloorBuffer   float64

	// Preservation mode
	APIErrorThreshold      int
	TriggerOnFloorApproach bool
	TriggerOnDrawdown      bool
	TriggerOnAPIErrors     bool
	PreserveDisableEntries bool
	PreserveCloseLosers    bool
	PreserveTightenStops   bool

	// PDT compliance
	PDTEnabled               bool
	MinHoldDays              int
	RemoveHoldAboveThreshold bool

	// Order pipeline
	IdempotencyPrefix string

	// Health monitor
	HealthCheckIntervalSec   int
	HealthErrorThreshold     int
	SlowResponseThresholdSec int

	// Orchestrator
	PollIntervalSec int
	KillSwitchFile  string
	StateFile       string

	// Logging
	LogFile       string
	LogMaxSizeMB  int64
	LogMaxBackups int

	// Metrics
	MetricsAddr string
}

// Load reads the .env file (when present), verifies the broker credentials
// exist, and builds the Config with defaults for everything optional.
// Missing credentials are fatal; there is nothing useful to do without them.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: No .env file found, using system environment variables")
	}

	requiredSecretVars := map[string]bool{
		"APCA_API_KEY_ID":     true,
		"APCA_API_SECRET_KEY": true,
	}

	var missing []string
	for key := range requiredSecretVars {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		log.Fatalf("CRITICAL: Missing required environment variables: %v", missing)
	}

	printEnvMasked(requiredSecretVars)

	return &Config{
		ReservePct:             getEnvAsFloat64("RESERVE_PCT", 20.0),
		MaxStockPositions:      getEnvAsInt("MAX_STOCK_POSITIONS", 3),
		MaxETFPositions:        getEnvAsInt("MAX_ETF_POSITIONS", 3),
		MaxCryptoPositions:     getEnvAsInt("MAX_CRYPTO_POSITIONS", 2),
		MilestoneFloorsEnabled: getEnvAsBool("MILESTONE_FLOORS_ENABLED", true),
		MilestoneFloorPct:      getEnvAsFloat64("MILESTONE_FLOOR_PCT", 93.75),
		MilestoneFloorBuffer:   getEnvAsFloat64("MILESTONE_FLOOR_BUFFER_PCT", 2.0),

		APIErrorThreshold:      getEnvAsInt("API_ERROR_THRESHOLD", 5),
		TriggerOnFloorApproach: getEnvAsBool("PRESERVE_ON_FLOOR_APPROACH", true),
		TriggerOnDrawdown:      getEnvAsBool("PRESERVE_ON_DRAWDOWN", true),
		TriggerOnAPIErrors:     getEnvAsBool("PRESERVE_ON_API_ERRORS", true),
		PreserveDisableEntries: getEnvAsBool("PRESERVE_DISABLE_ENTRIES", true),
		PreserveCloseLosers:    getEnvAsBool("PRESERVE_CLOSE_LOSERS", true),
		PreserveTightenStops:   getEnvAsBool("PRESERVE_TIGHTEN_STOPS", false),

		PDTEnabled:               getEnvAsBool("PDT_ENABLED", true),
		MinHoldDays:              getEnvAsInt("PDT_MIN_HOLD_DAYS", 1),
		RemoveHoldAboveThreshold: getEnvAsBool("PDT_REMOVE_HOLD_ABOVE_THRESHOLD", true),

		IdempotencyPrefix: getEnvAsString("IDEMPOTENCY_PREFIX", "pulse"),

		HealthCheckIntervalSec:   getEnvAsInt("HEALTH_CHECK_INTERVAL_SEC", 60),
		HealthErrorThreshold:     getEnvAsInt("HEALTH_ERROR_THRESHOLD", 5),
		SlowResponseThresholdSec: getEnvAsInt("HEALTH_SLOW_RESPONSE_SEC", 5),

		PollIntervalSec: getEnvAsInt("POLL_INTERVAL_SEC", 60),
		KillSwitchFile:  getEnvAsString("KILL_SWITCH_FILE", "KILL_SWITCH"),
		StateFile:       getEnvAsString("STATE_FILE", "pulse_state.json"),

		LogFile:       getEnvAsString("LOG_FILE", "pulse_trader.log"),
		LogMaxSizeMB:  int64(getEnvAsInt("LOG_MAX_SIZE_MB", 10)),
		LogMaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 5),

		MetricsAddr: getEnvAsString("METRICS_ADDR", ""),
	}
}

// printEnvMasked echoes the .env contents at startup with secret values
// reduced to their last 4 characters.
func printEnvMasked(secrets map[string]bool) {
	envMap, err := godotenv.Read()
	if err != nil {
		return
	}
	log.Println("--- .env File Variables ---")
	for key, val := range envMap {
		if secrets[key] || strings.Contains(key, "SECRET") || strings.Contains(key, "KEY") {
			masked := "***"
			if len(val) > 4 {
				masked = "***" + val[len(val)-4:]
			}
			log.Printf("%s=%s", key, masked)
		} else {
			log.Printf("%s=%s", key, val)
		}
	}
	log.Println("---------------------------")
}
