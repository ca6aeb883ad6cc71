// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes bot settings such as
// server timeouts, logging, the ledger database, the messaging transport,
// metadata resolution, audio download sources, rate limiting, and observability.
package config

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-track-bot")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// BotConfig holds messaging transport settings.
type BotConfig struct {
	Token           string        // BOT_TOKEN
	WebhookURL      string        // WEBHOOK_URL; empty selects long polling
	WebhookSecret   string        // WEBHOOK_SECRET; checked against X-Telegram-Bot-Api-Secret-Token
	APIURL          string        // TELEGRAM_API_URL
	UpdateDedupeTTL time.Duration // UPDATE_DEDUPE_TTL
}

// LedgerConfig holds entitlement and payment settings.
type LedgerConfig struct {
	Whitelist       []string // WHITELIST display names, matched without '@'
	PaymentAmount   int      // PAYMENT_AMOUNT in the smallest currency unit
	PaymentCurrency string   // PAYMENT_CURRENCY
}

// ResolverConfig holds metadata resolution settings.
type ResolverConfig struct {
	Endpoint      string        // RESOLVER_ENDPOINT
	ClientTimeout time.Duration // HTTP_CLIENT_TIMEOUT
	UserAgent     string        // USER_AGENT
}

// DownloadConfig holds audio source settings.
type DownloadConfig struct {
	Dir          string // DOWNLOAD_DIR
	CookiesFile  string // COOKIES_FILE
	YTDLPPath    string // YTDLP_PATH
	AutoInstall  bool   // YTDLP_AUTO_INSTALL
	Retries      int    // SOURCE_RETRIES per source
	AudioBitrate int    // AUDIO_BITRATE in kbps
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

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Storage
	DBPath string // SQLite path

	Bot      BotConfig
	Ledger   LedgerConfig
	Resolver ResolverConfig
	Download DownloadConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Per-requester throttling of track requests; RequesterRPS 0 disables it.
	RequesterRPS   float64 // REQUESTER_RATE_RPS
	RequesterBurst int     // REQUESTER_RATE_BURST

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

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

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Storage
		DBPath: getenv("DB_PATH", "bot_data.db"),

		Bot: BotConfig{
			Token:           strings.TrimSpace(getenv("BOT_TOKEN", "")),
			WebhookURL:      strings.TrimRight(strings.TrimSpace(getenv("WEBHOOK_URL", "")), "/"),
			WebhookSecret:   getenv("WEBHOOK_SECRET", ""),
			APIURL:          strings.TrimRight(getenv("TELEGRAM_API_URL", "https://api.telegram.org"), "/"),
			UpdateDedupeTTL: getdur("UPDATE_DEDUPE_TTL", 24*time.Hour),
		},
		Ledger: LedgerConfig{
			Whitelist:       normalizeNames(splitCSV(getenv("WHITELIST", "exsslx,polya_poela"))),
			PaymentAmount:   getint("PAYMENT_AMOUNT", 1),
			PaymentCurrency: strings.ToUpper(getenv("PAYMENT_CURRENCY", "XTR")),
		},
		Resolver: ResolverConfig{
			Endpoint:      getenv("RESOLVER_ENDPOINT", "https://music.yandex.ru/handlers/track.jsx"),
			ClientTimeout: getdur("HTTP_CLIENT_TIMEOUT", 30*time.Second),
			UserAgent:     getenv("USER_AGENT", defaultUserAgent),
		},
		Download: DownloadConfig{
			Dir:          getenv("DOWNLOAD_DIR", filepath.Join(os.TempDir(), "go-track-bot")),
			CookiesFile:  getenv("COOKIES_FILE", ""),
			YTDLPPath:    getenv("YTDLP_PATH", ""),
			AutoInstall:  getbool("YTDLP_AUTO_INSTALL", false),
			Retries:      getint("SOURCE_RETRIES", 0),
			AudioBitrate: getint("AUDIO_BITRATE", 192),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		RequesterRPS:   getfloat("REQUESTER_RATE_RPS", 0.2),
		RequesterBurst: getint("REQUESTER_RATE_BURST", 3),

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
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-track-bot"),
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
	if cfg.Bot.Token == "" {
		return cfg, errors.New("BOT_TOKEN must not be empty")
	}
	if cfg.Bot.WebhookURL != "" {
		u, err := url.Parse(cfg.Bot.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return cfg, errors.New("WEBHOOK_URL must be an absolute http(s) URL")
		}
	}
	if cfg.Bot.UpdateDedupeTTL <= 0 {
		return cfg, errors.New("UPDATE_DEDUPE_TTL must be > 0")
	}
	if cfg.Ledger.PaymentAmount < 1 {
		return cfg, errors.New("PAYMENT_AMOUNT must be >= 1")
	}
	if cfg.Resolver.ClientTimeout <= 0 {
		return cfg, errors.New("HTTP_CLIENT_TIMEOUT must be > 0")
	}
	if strings.TrimSpace(cfg.Download.Dir) == "" {
		return cfg, errors.New("DOWNLOAD_DIR must not be empty")
	}
	if cfg.Download.Retries < 0 {
		return cfg, errors.New("SOURCE_RETRIES must be >= 0")
	}
	if cfg.Download.AudioBitrate <= 0 {
		return cfg, errors.New("AUDIO_BITRATE must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.RequesterRPS < 0 {
		return cfg, errors.New("REQUESTER_RATE_RPS must be >= 0")
	}
	if cfg.RequesterBurst < 1 {
		return cfg, errors.New("REQUESTER_RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

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
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
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

// normalizeNames strips one leading '@' so whitelist entries compare equal
// to transport display names.
func normalizeNames(in []string) []string {
	out := in[:0]
	for _, n := range in {
		n = strings.TrimPrefix(n, "@")
		if n != "" {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
