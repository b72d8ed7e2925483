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

// AuthConfig holds trigger API authentication settings.
type AuthConfig struct {
	IssuerURL      string   // OIDC issuer URL; enables OIDC validation when set
	JWKSURL        string   // JWKS URL override when the issuer has no discovery document
	Audience       string   // required audience claim for OIDC tokens
	AllowedIssuers []string // accepted issuers (defaults to [IssuerURL])
	JWTSecret      string   // HS256 shared secret for webhook senders
}

// Enabled reports whether any authentication method is configured.
func (a *AuthConfig) Enabled() bool {
	return a.IssuerURL != "" || a.JWKSURL != "" || a.JWTSecret != ""
}

// OIDCEnabled reports whether an external identity provider is configured.
func (a *AuthConfig) OIDCEnabled() bool {
	return a.IssuerURL != "" || a.JWKSURL != ""
}

// ArchiveConfig holds object-store credentials for the report archive.
type ArchiveConfig struct {
	S3Endpoint         string
	S3Region           string
	S3KeyID            string
	S3Secret           string
	GCSCredentialsFile string
	AzureAccountName   string
	AzureAccountKey    string
	AzureEndpoint      string
}

// Config holds the configuration of the pipeline server and local runner.
type Config struct {
	Env        string // "development" (default) or "production"
	LogLevel   string // debug, info, warn, error (default "info")
	ListenAddr string // HTTP listen address (default ":8080")
	MetaDBPath string // SQLite run-history file (default "cicore.sqlite")

	WorkflowPath string // workflow definition file (default ".cicore/workflow.yaml")
	RepoDir      string // repository used by the git change source (default ".")

	MaxWorkers         int           // worker pool size (default 4)
	DefaultNodeTimeout time.Duration // fallback node timeout (default 1h)

	// ClassTimeouts are node timeouts per action class, used when a workflow
	// sets none (default shell=30m, report=5m).
	ClassTimeouts map[string]time.Duration
	// GuardMaxSteps bounds the execution steps of one guard (default 10000).
	GuardMaxSteps uint64

	// Executor selects the action executor: "shell" (default) or "dry-run".
	Executor string

	// ReportArchiveURL is an s3://, gs://, az:// or file:// prefix; empty disables archiving.
	ReportArchiveURL string
	Archive          ArchiveConfig

	RateLimitRPS       float64
	RateLimitBurst     int
	CORSAllowedOrigins []string

	Auth AuthConfig

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

// IsProduction returns true when running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Env:              os.Getenv("ENV"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
		ListenAddr:       os.Getenv("LISTEN_ADDR"),
		MetaDBPath:       os.Getenv("META_DB_PATH"),
		WorkflowPath:     os.Getenv("WORKFLOW_PATH"),
		RepoDir:          os.Getenv("REPO_DIR"),
		Executor:         os.Getenv("EXECUTOR"),
		ReportArchiveURL: os.Getenv("REPORT_ARCHIVE_URL"),
		Archive: ArchiveConfig{
			S3Endpoint:         os.Getenv("S3_ENDPOINT"),
			S3Region:           os.Getenv("S3_REGION"),
			S3KeyID:            os.Getenv("S3_KEY_ID"),
			S3Secret:           os.Getenv("S3_SECRET"),
			GCSCredentialsFile: os.Getenv("GCS_CREDENTIALS_FILE"),
			AzureAccountName:   os.Getenv("AZURE_STORAGE_ACCOUNT"),
			AzureAccountKey:    os.Getenv("AZURE_STORAGE_KEY"),
			AzureEndpoint:      os.Getenv("AZURE_STORAGE_ENDPOINT"),
		},
		Auth: AuthConfig{
			IssuerURL: os.Getenv("AUTH_ISSUER_URL"),
			JWKSURL:   os.Getenv("AUTH_JWKS_URL"),
			Audience:  os.Getenv("AUTH_AUDIENCE"),
			JWTSecret: os.Getenv("JWT_SECRET"),
		},
	}

	if v := os.Getenv("MAX_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("MAX_WORKERS must be a positive integer, got %q", v)
		}
		cfg.MaxWorkers = n
	}
	if v := os.Getenv("DEFAULT_NODE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("DEFAULT_NODE_TIMEOUT must be a positive duration, got %q", v)
		}
		cfg.DefaultNodeTimeout = d
	}
	if v := os.Getenv("NODE_CLASS_TIMEOUTS"); v != "" {
		timeouts, err := ParseClassTimeouts(v)
		if err != nil {
			return nil, fmt.Errorf("NODE_CLASS_TIMEOUTS: %w", err)
		}
		cfg.ClassTimeouts = timeouts
	}
	if v := os.Getenv("GUARD_MAX_STEPS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil || n == 0 {
			return nil, fmt.Errorf("GUARD_MAX_STEPS must be a positive integer, got %q", v)
		}
		cfg.GuardMaxSteps = n
	}
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
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = splitList(v)
	}
	if v := os.Getenv("AUTH_ALLOWED_ISSUERS"); v != "" {
		cfg.Auth.AllowedIssuers = splitList(v)
	}

	// Defaults
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.MetaDBPath == "" {
		cfg.MetaDBPath = "cicore.sqlite"
	}
	if cfg.WorkflowPath == "" {
		cfg.WorkflowPath = ".cicore/workflow.yaml"
	}
	if cfg.RepoDir == "" {
		cfg.RepoDir = "."
	}
	switch cfg.Executor {
	case "":
		cfg.Executor = "shell"
	case "shell", "dry-run":
	default:
		return nil, fmt.Errorf("EXECUTOR must be \"shell\" or \"dry-run\", got %q", cfg.Executor)
	}
	if cfg.MaxWorkers == 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.DefaultNodeTimeout == 0 {
		cfg.DefaultNodeTimeout = time.Hour
	}
	if cfg.ClassTimeouts == nil {
		cfg.ClassTimeouts = DefaultClassTimeouts()
	}
	if cfg.GuardMaxSteps == 0 {
		cfg.GuardMaxSteps = 10_000
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 20
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 40
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}
	if cfg.Auth.IssuerURL != "" && cfg.Auth.Audience == "" {
		return nil, fmt.Errorf("AUTH_AUDIENCE is required when AUTH_ISSUER_URL is set")
	}
	if !cfg.Auth.Enabled() {
		cfg.Warnings = append(cfg.Warnings, "trigger API authentication is disabled; set JWT_SECRET or AUTH_ISSUER_URL")
	}

	// Production mode: insecure defaults are fatal errors.
	if cfg.IsProduction() {
		if !cfg.Auth.Enabled() {
			return nil, fmt.Errorf("authentication must be configured in production (set JWT_SECRET or AUTH_ISSUER_URL)")
		}
		if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
			return nil, fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
	}

	return cfg, nil
}

// DefaultClassTimeouts returns the built-in node timeouts per action class.
func DefaultClassTimeouts() map[string]time.Duration {
	return map[string]time.Duration{
		"shell":  30 * time.Minute,
		"report": 5 * time.Minute,
	}
}

// ParseClassTimeouts parses "class=duration" pairs separated by commas,
// e.g. "shell=45m,report=2m".
func ParseClassTimeouts(v string) (map[string]time.Duration, error) {
	out := make(map[string]time.Duration)
	for _, pair := range splitList(v) {
		class, raw, ok := strings.Cut(pair, "=")
		class = strings.TrimSpace(class)
		if !ok || class == "" {
			return nil, fmt.Errorf("expected class=duration, got %q", pair)
		}
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("class %s: invalid duration %q", class, raw)
		}
		out[class] = d
	}
	return out, nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
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
			return nil
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
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		value = stripQuotes(strings.TrimSpace(value))
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("setenv %s: %w", key, err)
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
