// Package config provides configuration management for the workflow engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "tradeflow/internal/errors"
	"tradeflow/internal/risk"
)

// EnvPrefix prefixes every environment override, e.g. TRADEFLOW_DATABASE_DRIVER.
const EnvPrefix = "TRADEFLOW"

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Governor   GovernorConfig   `mapstructure:"governor"`
	Automation AutomationConfig `mapstructure:"automation"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Audit      AuditConfig      `mapstructure:"audit"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Auth       AuthConfig       `mapstructure:"-"` // Loaded separately
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxEvents      int           `mapstructure:"max_events"`
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes"`
	RateLimit      float64       `mapstructure:"rate_limit"` // requests per second per workspace
	RateBurst      int           `mapstructure:"rate_burst"`
	MigrateOnStart bool          `mapstructure:"migrate_on_start"`
}

// DatabaseConfig selects the store backend.
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // sqlite3, postgres
	Path         string `mapstructure:"path"`   // sqlite file
	DSN          string `mapstructure:"dsn"`    // postgres connection string
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// GovernorConfig holds risk governor thresholds.
type GovernorConfig struct {
	MaxCognitiveLoad      float64 `mapstructure:"max_cognitive_load"`
	MaxAutoAlertsPerHour  int     `mapstructure:"max_auto_alerts_per_hour"`
	MaxAutoAlertsPerDay   int     `mapstructure:"max_auto_alerts_per_day"`
	MaxPlanRiskScore      float64 `mapstructure:"max_plan_risk_score"`
	ElevatedPlanRiskScore float64 `mapstructure:"elevated_plan_risk_score"`
	AllowSystemExecution  bool    `mapstructure:"allow_system_execution"`
	RequireExecutionOptIn bool    `mapstructure:"require_execution_opt_in"`
}

// AutomationConfig toggles derived actions.
type AutomationConfig struct {
	AutoAlerts  bool `mapstructure:"auto_alerts"`
	AutoJournal bool `mapstructure:"auto_journal"`
	AutoCoach   bool `mapstructure:"auto_coach"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// AuditConfig holds audit log configuration.
type AuditConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	LogDir     string `mapstructure:"log_dir"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// TelemetryConfig holds OpenTelemetry configuration.
type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	Insecure     bool    `mapstructure:"insecure"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

// AuthConfig holds session resolution settings.
type AuthConfig struct {
	JWTSecret      string `mapstructure:"jwt_secret"`
	JWTIssuer      string `mapstructure:"jwt_issuer"`
	DevHeader      bool   `mapstructure:"dev_header"` // accept X-Workspace-ID without a token
	WorkspaceClaim string `mapstructure:"workspace_claim"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/tradeflow"
	}
	return filepath.Join(home, ".config", "tradeflow")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. Missing files
// are created from templates and defaults are used.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}
	if err := loadCredentials(configDir, &cfg.Auth); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	if cfg.Database.Driver == "sqlite3" && cfg.Database.Path == "" {
		cfg.Database.Path = filepath.Join(configDir, "tradeflow.db")
	}
	if cfg.Logging.FilePath == "" {
		cfg.Logging.FilePath = filepath.Join(configDir, "logs", "tradeflow.log")
	}
	if cfg.Audit.LogDir == "" {
		cfg.Audit.LogDir = filepath.Join(configDir, "audit")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used when no file overrides anything.
func Default() *Config {
	v := newViper("config")
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

func newViper(name string) *viper.Viper {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.max_events", 100)
	v.SetDefault("server.max_body_bytes", 2<<20)
	v.SetDefault("server.rate_limit", 5.0)
	v.SetDefault("server.rate_burst", 10)
	v.SetDefault("server.migrate_on_start", false)

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.path", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)

	th := risk.DefaultThresholds()
	v.SetDefault("governor.max_cognitive_load", th.MaxCognitiveLoad)
	v.SetDefault("governor.max_auto_alerts_per_hour", th.MaxAutoAlertsPerHour)
	v.SetDefault("governor.max_auto_alerts_per_day", th.MaxAutoAlertsPerDay)
	v.SetDefault("governor.max_plan_risk_score", th.MaxPlanRiskScore)
	v.SetDefault("governor.elevated_plan_risk_score", th.ElevatedPlanRiskScore)
	v.SetDefault("governor.allow_system_execution", th.AllowSystemExecution)
	v.SetDefault("governor.require_execution_opt_in", th.RequireExecutionOptIn)

	v.SetDefault("automation.auto_alerts", true)
	v.SetDefault("automation.auto_journal", true)
	v.SetDefault("automation.auto_coach", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.file_path", "")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age", 30)

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.log_dir", "")
	v.SetDefault("audit.max_size", 50)
	v.SetDefault("audit.max_backups", 30)
	v.SetDefault("audit.max_age", 365)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "tradeflow")
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.insecure", false)
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

func loadConfigFile(configDir string, target *Config) error {
	v := newViper("config")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		// Config file not found, create template and continue with defaults
		if err := createTemplateConfig(configDir); err != nil {
			return err
		}
	}

	return v.Unmarshal(target)
}

func loadCredentials(configDir string, auth *AuthConfig) error {
	v := newViper("credentials")
	v.AddConfigPath(configDir)
	v.SetDefault("jwt_secret", "")
	v.SetDefault("jwt_issuer", "")
	v.SetDefault("dev_header", false)
	v.SetDefault("workspace_claim", "workspace_id")
	// credentials live at the top level of their file; env names follow the auth section
	_ = v.BindEnv("jwt_secret", EnvPrefix+"_AUTH_JWT_SECRET")
	_ = v.BindEnv("jwt_issuer", EnvPrefix+"_AUTH_JWT_ISSUER")
	_ = v.BindEnv("dev_header", EnvPrefix+"_AUTH_DEV_HEADER")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		if err := createTemplateCredentials(configDir); err != nil {
			return err
		}
	}

	return v.Unmarshal(auth)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return apperrors.Wrapf(apperrors.ErrConfigInvalid, format, args...)
	}

	switch c.Database.Driver {
	case "sqlite3":
		if c.Database.Path == "" {
			return invalid("database.path is required for sqlite3")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return invalid("database.dsn is required for postgres")
		}
	default:
		return invalid("invalid database driver: %s (must be 'sqlite3' or 'postgres')", c.Database.Driver)
	}

	if c.Server.MaxEvents <= 0 || c.Server.MaxEvents > 100 {
		return invalid("server.max_events must be between 1 and 100")
	}
	if c.Server.RateLimit < 0 {
		return invalid("server.rate_limit must be non-negative")
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst <= 0 {
		return invalid("server.rate_burst must be positive when rate limiting is enabled")
	}

	g := c.Governor
	for name, v := range map[string]float64{
		"max_cognitive_load":       g.MaxCognitiveLoad,
		"max_plan_risk_score":      g.MaxPlanRiskScore,
		"elevated_plan_risk_score": g.ElevatedPlanRiskScore,
	} {
		if v < 0 || v > 100 {
			return invalid("governor.%s must be between 0 and 100", name)
		}
	}
	if g.ElevatedPlanRiskScore > g.MaxPlanRiskScore {
		return invalid("governor.elevated_plan_risk_score must not exceed max_plan_risk_score")
	}
	if g.MaxAutoAlertsPerHour < 0 || g.MaxAutoAlertsPerDay < 0 {
		return invalid("governor auto-alert limits must be non-negative")
	}
	if g.MaxAutoAlertsPerHour > g.MaxAutoAlertsPerDay {
		return invalid("governor.max_auto_alerts_per_hour must not exceed max_auto_alerts_per_day")
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return invalid("telemetry.sample_ratio must be between 0 and 1")
	}
	return nil
}

// Thresholds converts the governor section to risk thresholds.
func (c *Config) Thresholds() risk.Thresholds {
	g := c.Governor
	return risk.Thresholds{
		MaxCognitiveLoad:      g.MaxCognitiveLoad,
		MaxAutoAlertsPerHour:  g.MaxAutoAlertsPerHour,
		MaxAutoAlertsPerDay:   g.MaxAutoAlertsPerDay,
		MaxPlanRiskScore:      g.MaxPlanRiskScore,
		ElevatedPlanRiskScore: g.ElevatedPlanRiskScore,
		AllowSystemExecution:  g.AllowSystemExecution,
		RequireExecutionOptIn: g.RequireExecutionOptIn,
	}
}

// DatabaseDSN returns the connection string for the configured driver.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "postgres" {
		return c.Database.DSN
	}
	return c.Database.Path
}
