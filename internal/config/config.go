// Package config loads runtime configuration from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
)

// Local dev fallback so the service runs out-of-the-box.
const (
	DevAPIKey = "dev-key-123"
	DevUserID = "dev-user"
)

// Config contains runtime configuration required by the service.
type Config struct {
	ListenAddr      string         `yaml:"listen_addr"`
	ShutdownTimeout time.Duration  `yaml:"shutdown_timeout"`
	// ConfigCacheTTL caches per-user eval configs for this long. Zero disables.
	ConfigCacheTTL  time.Duration  `yaml:"config_cache_ttl"`
	Database        DatabaseConfig `yaml:"database"`
	Auth            AuthConfig     `yaml:"auth"`
	Quota           QuotaConfig    `yaml:"quota"`
	Log             LogConfig      `yaml:"log"`
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	URL    string `yaml:"url"`
}

// AuthConfig configures the identity providers.
type AuthConfig struct {
	APIKeys   map[string]string `yaml:"api_keys"` // apiKey -> userID
	JWTSecret string            `yaml:"jwt_secret"`
	JWTIssuer string            `yaml:"jwt_issuer"`
}

// QuotaConfig controls daily quota enforcement.
type QuotaConfig struct {
	// Timezone is the IANA zone whose midnight starts the quota day.
	Timezone string `yaml:"timezone"`
	// Strict performs the quota check and insert atomically in the store.
	Strict bool `yaml:"strict"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Load reads the YAML file at path (optional when empty), applies environment
// overrides and returns a validated Config.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		data = b
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse unmarshals YAML bytes into a validated Config without consulting the
// environment.
func Parse(data []byte) (*Config, error) {
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	return &cfg, nil
}

// applyEnv overlays environment variables on top of file values.
func (c *Config) applyEnv(getenv func(string) string) error {
	if v := strings.TrimSpace(getenv("LISTEN_ADDR")); v != "" {
		c.ListenAddr = v
	}
	if v := strings.TrimSpace(getenv("DB_URL")); v != "" {
		c.Database.URL = v
	}
	if v := strings.TrimSpace(getenv("DB_DRIVER")); v != "" {
		c.Database.Driver = v
	}
	if v := strings.TrimSpace(getenv("API_KEYS")); v != "" {
		keys, err := ParseAPIKeys(v)
		if err != nil {
			return err
		}
		c.Auth.APIKeys = keys
	}
	if v := strings.TrimSpace(getenv("JWT_SECRET")); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := strings.TrimSpace(getenv("JWT_ISSUER")); v != "" {
		c.Auth.JWTIssuer = v
	}
	if v := strings.TrimSpace(getenv("QUOTA_TIMEZONE")); v != "" {
		c.Quota.Timezone = v
	}
	if v := strings.TrimSpace(getenv("QUOTA_STRICT")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: QUOTA_STRICT: %w", err)
		}
		c.Quota.Strict = b
	}
	if v := strings.TrimSpace(getenv("CONFIG_CACHE_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: CONFIG_CACHE_TTL: %w", err)
		}
		c.ConfigCacheTTL = d
	}
	if v := strings.TrimSpace(getenv("LOG_LEVEL")); v != "" {
		c.Log.Level = v
	}
	if v := strings.TrimSpace(getenv("LOG_DEVELOPMENT")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: LOG_DEVELOPMENT: %w", err)
		}
		c.Log.Development = b
	}
	return nil
}

// ParseAPIKeys parses the API_KEYS format: "user1:key1,user2:key2".
func ParseAPIKeys(raw string) (map[string]string, error) {
	apiKeys := map[string]string{}
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 {
			return nil, errors.New(`config: API_KEYS must be "user:key,user:key"`)
		}
		user := strings.TrimSpace(parts[0])
		key := strings.TrimSpace(parts[1])
		if user == "" || key == "" {
			return nil, errors.New(`config: API_KEYS must be "user:key,user:key"`)
		}
		apiKeys[key] = user
	}
	return apiKeys, nil
}

// applyDefaults fills in default values.
func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverPostgres
	}
	if c.Quota.Timezone == "" {
		c.Quota.Timezone = "UTC"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if len(c.Auth.APIKeys) == 0 && c.Auth.JWTSecret == "" {
		c.Auth.APIKeys = map[string]string{DevAPIKey: DevUserID}
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Database.URL == "" {
		errs = append(errs, "database.url (DB_URL) is required")
	}
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite, DriverMySQL:
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported", c.Database.Driver))
	}
	if _, err := time.LoadLocation(c.Quota.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("quota.timezone %q: %v", c.Quota.Timezone, err))
	}
	for key, user := range c.Auth.APIKeys {
		if strings.TrimSpace(key) == "" || strings.TrimSpace(user) == "" {
			errs = append(errs, "auth.api_keys entries must have a non-empty key and user")
			break
		}
	}
	if c.ShutdownTimeout < 0 {
		errs = append(errs, "shutdown_timeout must not be negative")
	}
	if c.ConfigCacheTTL < 0 {
		errs = append(errs, "config_cache_ttl must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Location returns the quota timezone. validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Quota.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
