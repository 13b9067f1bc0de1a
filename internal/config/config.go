// Package config loads and validates application configuration from YAML
// files and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig             `yaml:"server"`
	Identity      IdentityConfig           `yaml:"identity"`
	Templates     TemplatesConfig          `yaml:"templates"`
	Specs         SpecsConfig              `yaml:"specs"`
	Store         StoreConfig              `yaml:"store"`
	Actions       ActionsConfig            `yaml:"actions"`
	Mail          MailConfig               `yaml:"mail"`
	Services      map[string]ServiceConfig `yaml:"services"`
	Retention     RetentionConfig          `yaml:"retention"`
	Retry         RetryPolicyConfig        `yaml:"retry"`
	Observability ObservabilityConfig      `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// IdentityConfig describes JWT and identity provider settings for the
// operator surface.
type IdentityConfig struct {
	Issuer       string            `yaml:"issuer"`
	Audience     string            `yaml:"audience"`
	JWKSURL      string            `yaml:"jwks_url"`
	JWKSCacheTTL time.Duration     `yaml:"jwks_cache_ttl"`
	Algorithms   []string          `yaml:"algorithms"`
	ClaimPaths   map[string]string `yaml:"claim_paths"`
}

// TemplatesConfig describes where to find template definition YAML files.
type TemplatesConfig struct {
	Directories []string `yaml:"directories"`
}

// SpecsConfig describes optional OpenAPI specification files used to
// validate api_call action endpoints at authoring time.
type SpecsConfig struct {
	Directory string       `yaml:"directory"`
	Sources   []SpecSource `yaml:"sources"`
}

// SpecSource maps a service ID to an OpenAPI spec file.
type SpecSource struct {
	ServiceID string `yaml:"service_id"`
	SpecFile  string `yaml:"spec_file"`
}

// StoreConfig describes engine persistence settings.
type StoreConfig struct {
	Driver          string        `yaml:"driver"`
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// ActionsConfig describes per-handler execution settings.
type ActionsConfig struct {
	// HandlerTimeout bounds every individual handler call so a hung
	// external dependency cannot pin the dispatch transaction open.
	HandlerTimeout time.Duration `yaml:"handler_timeout"`
}

// MailConfig describes the mail-queue collaborator and message templates.
type MailConfig struct {
	BaseURL      string                  `yaml:"base_url"`
	Timeout      time.Duration           `yaml:"timeout"`
	AdminAddress string                  `yaml:"admin_address"`
	FromAddress  string                  `yaml:"from_address"`
	Templates    map[string]MailTemplate `yaml:"templates"`
}

// MailTemplate is a named message template. Subject and body may contain
// @field placeholders resolved against the dispatch data context.
type MailTemplate struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

// ServiceConfig describes an outbound HTTP collaborator (api_call targets,
// payments, documents).
type ServiceConfig struct {
	BaseURL        string               `yaml:"base_url"`
	Timeout        time.Duration        `yaml:"timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig describes circuit breaker settings per service.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// RetentionConfig describes scheduled cleanup of audit records and
// resolved failed actions.
type RetentionConfig struct {
	Schedule     string `yaml:"schedule"`
	AuditDays    int    `yaml:"audit_days"`
	ResolvedDays int    `yaml:"resolved_days"`
}

// RetryPolicyConfig describes the optional scheduled retry sweep over
// unresolved failed actions. Disabled by default: retries are normally an
// operator decision.
type RetryPolicyConfig struct {
	SweepEnabled  bool   `yaml:"sweep_enabled"`
	SweepSchedule string `yaml:"sweep_schedule"`
	MaxSweepBatch int    `yaml:"max_sweep_batch"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-Id"},
				MaxAge:         86400,
			},
		},
		Identity: IdentityConfig{
			JWKSCacheTTL: 1 * time.Hour,
			Algorithms:   []string{"RS256"},
			ClaimPaths: map[string]string{
				"actor_id": "sub",
				"email":    "email",
				"role":     "role",
				"roles":    "roles",
			},
		},
		Templates: TemplatesConfig{
			Directories: []string{"/templates"},
		},
		Store: StoreConfig{
			Driver:          "postgres",
			DSNEnv:          "STAGEACT_STORE_DSN",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Actions: ActionsConfig{
			HandlerTimeout: 15 * time.Second,
		},
		Mail: MailConfig{
			Timeout: 5 * time.Second,
		},
		Retention: RetentionConfig{
			Schedule:     "0 3 * * *",
			AuditDays:    365,
			ResolvedDays: 90,
		},
		Retry: RetryPolicyConfig{
			SweepSchedule: "*/30 * * * *",
			MaxSweepBatch: 50,
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Identity.Issuer == "" {
		errs = append(errs, "identity.issuer is required")
	}
	if c.Identity.JWKSURL == "" {
		errs = append(errs, "identity.jwks_url is required")
	}
	if c.Identity.Audience == "" {
		errs = append(errs, "identity.audience is required")
	}
	if c.Mail.AdminAddress == "" {
		errs = append(errs, "mail.admin_address is required")
	}
	if c.Actions.HandlerTimeout <= 0 {
		errs = append(errs, "actions.handler_timeout must be positive")
	}
	if c.Retention.AuditDays < 1 {
		errs = append(errs, "retention.audit_days must be at least 1")
	}
	if c.Retention.ResolvedDays < 1 {
		errs = append(errs, "retention.resolved_days must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads STAGEACT_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STAGEACT_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("STAGEACT_IDENTITY_ISSUER"); v != "" {
		cfg.Identity.Issuer = v
	}
	if v := os.Getenv("STAGEACT_IDENTITY_JWKS_URL"); v != "" {
		cfg.Identity.JWKSURL = v
	}
	if v := os.Getenv("STAGEACT_IDENTITY_AUDIENCE"); v != "" {
		cfg.Identity.Audience = v
	}
	if v := os.Getenv("STAGEACT_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("STAGEACT_MAIL_ADMIN_ADDRESS"); v != "" {
		cfg.Mail.AdminAddress = v
	}
	if v := os.Getenv("STAGEACT_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
}
