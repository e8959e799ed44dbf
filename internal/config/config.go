// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, confidence tuning for the
// time-detection pipeline, fallback-resolver limits, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/teamops/tzbot/internal/sysutil"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "tzbot")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// ConfidenceConfig governs the belief lifecycle: how strongly each evidence
// source is trusted, how fast trust erodes, and when a re-verification prompt
// fires instead of a conversion.
type ConfidenceConfig struct {
	Ceiling     float64 // confidence set on explicit verification
	Threshold   float64 // below this (after decay) a belief is stale
	CityPick    float64 // confidence when user picks a city by name
	ChatDefault float64 // confidence attributed to a chat's default timezone
	DecayPerDay float64 // linear decay applied lazily at read time
}

// ClassifierConfig defines the uncertainty band of the time-reference
// classifier. Probabilities inside [Low, High] route to the fallback
// resolver; outside the band the classifier's verdict is trusted directly.
type ClassifierConfig struct {
	Low  float64 // CLASSIFIER_LOW
	High float64 // CLASSIFIER_HIGH
}

// TierConfig carries the per-pattern extraction confidences. More explicit
// formats score higher; tuning happens via environment, not code changes.
type TierConfig struct {
	HHMMAmPm     float64 // "7:30pm"
	EuropeanHHMM float64 // "14h30", "9h"
	Military     float64 // "1500Z", "0745"
	PlainHHMM    float64 // "14:30"
	HAmPm        float64 // "2pm"
	Range        float64 // "5-7pm"
	AtH          float64 // "at 10" (most ambiguous)
}

// FallbackConfig configures the external LLM fallback resolver and its
// circuit breaker. An empty APIKey disables the resolver entirely.
type FallbackConfig struct {
	BaseURL         string
	APIKey          string
	Model           string
	Timeout         time.Duration // per-call ceiling; a slow upstream must not stall the pipeline
	MaxTokens       int
	Temperature     float32
	BreakerFailures uint32        // consecutive failures before the breaker opens
	BreakerCooldown time.Duration // how long the breaker stays open
}

// City pairs a display name with its IANA timezone for the city-pick flow.
type City struct {
	Name string
	TZ   string
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// App
	DBPath  string // SQLite path
	BaseURL string // public base URL for verification links

	// Pipeline tuning
	Confidence           ConfidenceConfig
	Classifier           ClassifierConfig
	Tiers                TierConfig
	RelocationConfidence float64

	// Fallback resolver
	Fallback FallbackConfig

	// Team defaults
	DefaultTZ     string   // seeded into new chats as their default zone; empty keeps chats default-less
	TeamTimezones []string // conversion targets when a chat has no active set
	TeamCities    []City   // offered in verification prompts / city picks

	// Dedupe & throttling
	DedupeTTL      time.Duration // retention of processed-event records
	ThrottleWindow time.Duration // min spacing between responses per chat

	// Verification tokens
	VerifySecret   string
	VerifyTokenTTL time.Duration

	// Rate limiting (HTTP edge)
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// App
		DBPath:  getenv("DB_PATH", "tzbot.db"),
		BaseURL: strings.TrimRight(getenv("BASE_URL", "http://localhost:8080"), "/"),

		// Pipeline tuning
		Confidence: ConfidenceConfig{
			Ceiling:     getfloat("CONFIDENCE_CEILING", 1.0),
			Threshold:   getfloat("CONFIDENCE_THRESHOLD", 0.7),
			CityPick:    getfloat("CITY_PICK_CONFIDENCE", 0.85),
			ChatDefault: getfloat("CHAT_DEFAULT_CONFIDENCE", 0.5),
			DecayPerDay: getfloat("DECAY_PER_DAY", 0.01),
		},
		Classifier: ClassifierConfig{
			Low:  getfloat("CLASSIFIER_LOW", 0.40),
			High: getfloat("CLASSIFIER_HIGH", 0.60),
		},
		Tiers: TierConfig{
			HHMMAmPm:     getfloat("TIER_HHMM_AMPM", 0.95),
			EuropeanHHMM: getfloat("TIER_EUROPEAN_HHMM", 0.90),
			Military:     getfloat("TIER_MILITARY", 0.85),
			PlainHHMM:    getfloat("TIER_PLAIN_HHMM", 0.80),
			HAmPm:        getfloat("TIER_H_AMPM", 0.85),
			Range:        getfloat("TIER_RANGE", 0.80),
			AtH:          getfloat("TIER_AT_H", 0.50),
		},
		RelocationConfidence: getfloat("RELOCATION_CONFIDENCE", 0.9),

		// Fallback resolver
		Fallback: FallbackConfig{
			BaseURL:         getenv("FALLBACK_BASE_URL", "https://api.openai.com/v1"),
			APIKey:          getenv("FALLBACK_API_KEY", ""),
			Model:           getenv("FALLBACK_MODEL", "gpt-4o-mini"),
			Timeout:         getdur("FALLBACK_TIMEOUT", 10*time.Second),
			MaxTokens:       getint("FALLBACK_MAX_TOKENS", 256),
			Temperature:     float32(getfloat("FALLBACK_TEMPERATURE", 0.3)),
			BreakerFailures: uint32(getint("FALLBACK_BREAKER_FAILURES", 3)),
			BreakerCooldown: getdur("FALLBACK_BREAKER_COOLDOWN", time.Minute),
		},

		// Team defaults
		DefaultTZ:     strings.TrimSpace(getenv("DEFAULT_TZ", "")),
		TeamTimezones: splitCSV(getenv("TEAM_TIMEZONES", "America/New_York,Europe/London,Asia/Tokyo")),
		TeamCities:    parseCities(getenv("TEAM_CITIES", "New York=America/New_York,London=Europe/London,Berlin=Europe/Berlin,Tokyo=Asia/Tokyo")),

		// Dedupe & throttling
		DedupeTTL:      getdur("DEDUPE_TTL", 7*24*time.Hour),
		ThrottleWindow: getdur("THROTTLE_WINDOW", 2*time.Second),

		// Verification tokens
		VerifySecret:   getenv("VERIFY_SECRET", "dev-verify-secret"),
		VerifyTokenTTL: getdur("VERIFY_TOKEN_TTL", 24*time.Hour),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "tzbot"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if !inUnit(cfg.Confidence.Ceiling) || !inUnit(cfg.Confidence.Threshold) ||
		!inUnit(cfg.Confidence.CityPick) || !inUnit(cfg.Confidence.ChatDefault) {
		return cfg, errors.New("confidence values must be between 0 and 1")
	}
	if cfg.Confidence.DecayPerDay < 0 {
		return cfg, errors.New("DECAY_PER_DAY must be >= 0")
	}
	if !inUnit(cfg.Classifier.Low) || !inUnit(cfg.Classifier.High) || cfg.Classifier.Low > cfg.Classifier.High {
		return cfg, errors.New("classifier band must satisfy 0 <= CLASSIFIER_LOW <= CLASSIFIER_HIGH <= 1")
	}
	for _, t := range []float64{
		cfg.Tiers.HHMMAmPm, cfg.Tiers.EuropeanHHMM, cfg.Tiers.Military,
		cfg.Tiers.PlainHHMM, cfg.Tiers.HAmPm, cfg.Tiers.Range, cfg.Tiers.AtH,
	} {
		if !inUnit(t) {
			return cfg, errors.New("extraction tier confidences must be between 0 and 1")
		}
	}
	// "at 10" is the weakest pattern; letting it outrank an explicit format
	// would bypass the intent gate for the most ambiguous extractions.
	for _, t := range []float64{
		cfg.Tiers.HHMMAmPm, cfg.Tiers.EuropeanHHMM, cfg.Tiers.Military,
		cfg.Tiers.PlainHHMM, cfg.Tiers.HAmPm, cfg.Tiers.Range,
	} {
		if cfg.Tiers.AtH >= t {
			return cfg, errors.New("TIER_AT_H must stay below every explicit tier confidence")
		}
	}
	if !inUnit(cfg.RelocationConfidence) {
		return cfg, errors.New("RELOCATION_CONFIDENCE must be between 0 and 1")
	}
	if cfg.Fallback.Timeout <= 0 || cfg.Fallback.Timeout > 15*time.Second {
		return cfg, errors.New("FALLBACK_TIMEOUT must be in (0, 15s]")
	}
	if cfg.DedupeTTL <= 0 {
		return cfg, errors.New("DEDUPE_TTL must be > 0")
	}
	if cfg.ThrottleWindow < 0 {
		return cfg, errors.New("THROTTLE_WINDOW must be >= 0")
	}
	if cfg.DefaultTZ != "" {
		if cfg.DefaultTZ == "Local" {
			return cfg, errors.New("DEFAULT_TZ must name an explicit IANA zone, not Local")
		}
		if _, err := time.LoadLocation(cfg.DefaultTZ); err != nil {
			return cfg, errors.New("DEFAULT_TZ must be a valid IANA timezone")
		}
	}
	if strings.TrimSpace(cfg.VerifySecret) == "" {
		return cfg, errors.New("VERIFY_SECRET must not be empty")
	}
	if cfg.VerifyTokenTTL <= 0 {
		return cfg, errors.New("VERIFY_TOKEN_TTL must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

func inUnit(f float64) bool { return f >= 0 && f <= 1 }

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if sysutil.IsTruthy(v) {
			return true
		}
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// parseCities parses "Name=IANA,Name=IANA" pairs. Malformed entries are
// skipped rather than failing the whole load.
func parseCities(s string) []City {
	out := make([]City, 0, 4)
	for _, pair := range splitCSV(s) {
		name, tz, ok := strings.Cut(pair, "=")
		name, tz = strings.TrimSpace(name), strings.TrimSpace(tz)
		if !ok || name == "" || tz == "" {
			continue
		}
		out = append(out, City{Name: name, TZ: tz})
	}
	return out
}
