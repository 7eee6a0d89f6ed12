// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// PlannerConfig holds the connection settings of the remote rollback
// planner and executor.
type PlannerConfig struct {
	Addr            string        // grpc://host:port or grpcs://host:port
	Token           string        // shared secret sent with every call
	Timeout         time.Duration // per-call deadline when the caller has none (default 30s)
	BreakerFailures uint32        // consecutive transport failures that open the breaker (default 5)
	BreakerCooldown time.Duration // how long the breaker stays open (default 30s)
}

// Insecure reports whether calls to the planner travel unencrypted.
func (p *PlannerConfig) Insecure() bool {
	return !strings.HasPrefix(p.Addr, "grpcs://")
}

// StorageConfig holds object-store credentials for archiving exported
// rollback scripts. Every field is optional.
type StorageConfig struct {
	S3KeyID    string
	S3Secret   string
	S3Endpoint string
	S3Region   string

	AzureAccountName string
	AzureAccountKey  string

	GCSKeyFile string
}

// Config holds the configuration for the audit API server.
type Config struct {
	MetaDBPath        string // path to the SQLite audit store
	ListenAddr        string // HTTP listen address (default ":8080")
	TLSCertFile       string // TLS certificate file path (optional)
	TLSKeyFile        string // TLS private key file path (optional)
	AllowInsecureHTTP bool   // allow non-TLS listener in production (for trusted TLS termination)
	LogLevel          string // log level: debug, info, warn, error (default "info")
	Env               string // environment: "development" (default) or "production"

	// Rate limiting
	RateLimitRPS   float64 // sustained requests per second (default 100)
	RateLimitBurst int     // burst capacity (default 200)

	// CORS
	CORSAllowedOrigins []string // allowed origins for CORS (default: ["*"])

	Planner PlannerConfig
	Storage StorageConfig

	// MisfireThreshold is the default confidence above which negative
	// feedback counts as a misfire (default 0.8).
	MisfireThreshold float64

	// SeedDemo inserts demo audit entries into an empty store at startup.
	SeedDemo bool

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// HasS3Config returns true if S3 credentials are set.
func (c *Config) HasS3Config() bool {
	return c.Storage.S3KeyID != "" && c.Storage.S3Secret != ""
}

// LoadFromEnv loads configuration from environment variables and rejects
// settings that are unsafe for a server.
func LoadFromEnv() (*Config, error) {
	cfg := ReadEnv()
	if err := cfg.validateServer(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadEnv reads and defaults every setting without the listener checks of
// LoadFromEnv. Local tools that never serve HTTP use it directly.
func ReadEnv() *Config {
	cfg := &Config{
		MetaDBPath:  os.Getenv("META_DB_PATH"),
		ListenAddr:  os.Getenv("LISTEN_ADDR"),
		TLSCertFile: os.Getenv("TLS_CERT_FILE"),
		TLSKeyFile:  os.Getenv("TLS_KEY_FILE"),
		LogLevel:    os.Getenv("LOG_LEVEL"),
		Env:         os.Getenv("ENV"),
		Planner: PlannerConfig{
			Addr:  os.Getenv("PLANNER_ADDR"),
			Token: os.Getenv("PLANNER_TOKEN"),
		},
		Storage: StorageConfig{
			S3KeyID:          os.Getenv("KEY_ID"),
			S3Secret:         os.Getenv("SECRET"),
			S3Endpoint:       os.Getenv("ENDPOINT"),
			S3Region:         os.Getenv("REGION"),
			AzureAccountName: os.Getenv("AZURE_ACCOUNT_NAME"),
			AzureAccountKey:  os.Getenv("AZURE_ACCOUNT_KEY"),
			GCSKeyFile:       os.Getenv("GCS_KEY_FILE"),
		},
	}

	// Rate limiting
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = n
		}
	}

	// Planner
	cfg.Planner.Timeout = cfg.durationEnv("PLANNER_TIMEOUT", 30*time.Second)
	cfg.Planner.BreakerCooldown = cfg.durationEnv("PLANNER_BREAKER_COOLDOWN", 30*time.Second)
	cfg.Planner.BreakerFailures = 5
	if v := os.Getenv("PLANNER_BREAKER_FAILURES"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil && n > 0 {
			cfg.Planner.BreakerFailures = uint32(n)
		} else {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("ignoring invalid PLANNER_BREAKER_FAILURES %q", v))
		}
	}
	if v := os.Getenv("ROLLBACK_WINDOW"); v != "" {
		cfg.Warnings = append(cfg.Warnings, "ROLLBACK_WINDOW is ignored: the rollback window is fixed at 24h")
	}

	cfg.MisfireThreshold = 0.8
	if v := os.Getenv("MISFIRE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			cfg.MisfireThreshold = f
		} else {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("ignoring invalid MISFIRE_THRESHOLD %q", v))
		}
	}

	// CORS
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = compactNonEmpty(origins)
	}
	if strings.EqualFold(os.Getenv("ALLOW_INSECURE_HTTP"), "true") {
		cfg.AllowInsecureHTTP = true
	}
	cfg.SeedDemo = strings.EqualFold(os.Getenv("SEED_DEMO"), "true")

	// Defaults
	if cfg.MetaDBPath == "" {
		cfg.MetaDBPath = "remedy_audit.sqlite"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.Planner.Addr == "" {
		cfg.Planner.Addr = "grpc://127.0.0.1:7443"
	}
	if cfg.Planner.Token == "" {
		cfg.Warnings = append(cfg.Warnings, "PLANNER_TOKEN not set: planner calls are unauthenticated")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 100
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 200
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}
	return cfg
}

func (c *Config) validateServer() error {
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("both TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}
	if !c.IsProduction() {
		return nil
	}
	// Production mode: insecure defaults are fatal errors.
	if len(c.CORSAllowedOrigins) == 1 && c.CORSAllowedOrigins[0] == "*" {
		return fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
	}
	if c.Planner.Insecure() && c.Planner.Token == "" {
		return fmt.Errorf("PLANNER_TOKEN must be set for a plaintext planner connection in production (ENV=production)")
	}
	if c.SeedDemo {
		return fmt.Errorf("SEED_DEMO is not allowed in production (ENV=production)")
	}
	if c.TLSCertFile == "" && !c.AllowInsecureHTTP {
		return fmt.Errorf("TLS_CERT_FILE/TLS_KEY_FILE must be set in production unless ALLOW_INSECURE_HTTP=true")
	}
	return nil
}

func (c *Config) durationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		c.Warnings = append(c.Warnings, fmt.Sprintf("ignoring invalid %s %q", key, v))
		return def
	}
	return d
}

func compactNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
// Only strips if both the first and last characters are matching quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
