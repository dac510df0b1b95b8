// Package config loads the bridge configuration from an optional YAML file
// overridden by environment variables. The resulting Config is built once at
// startup and passed into every component; nothing reads the environment at
// request time.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultListenAddr      = ":8000"
	DefaultScope           = "openid profile email"
	DefaultLeeway          = 60 * time.Second
	DefaultExchangeTimeout = 10 * time.Second
)

// ConfigurationError reports missing or invalid required settings. It is fatal
// at startup and never produced per-request.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("missing required configuration: %s", strings.Join(e.Missing, ", "))
}

// Casdoor holds the identity-provider settings.
type Casdoor struct {
	Endpoint     string `yaml:"endpoint"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Certificate  string `yaml:"certificate"` // PEM-encoded X.509 signing certificate
	// Organization and Application identify the Casdoor org/app this client
	// is registered under. The login flow itself never sends them; they are
	// accepted for deployment-env parity and shown at startup.
	Organization string `yaml:"organization"`
	Application  string `yaml:"application"`
	Scope        string `yaml:"scope"`
	LeewaySecs   int    `yaml:"leeway_seconds"`
}

// Config is the full bridge configuration.
type Config struct {
	ListenAddr string  `yaml:"listen_addr"`
	Casdoor    Casdoor `yaml:"casdoor"`

	// SecretKey signs the console access tokens (HS256).
	SecretKey string `yaml:"secret_key"`

	// Domain is both the post-login redirect target and the cookie domain.
	Domain string `yaml:"domain"`

	// DatabaseURL is a postgres:// DSN, or a sqlite file path for dev setups.
	DatabaseURL string `yaml:"database_url"`

	// AutoMigrate creates missing tables instead of failing the schema check.
	// Intended for self-hosted/dev deployments where this service owns the DB.
	AutoMigrate bool `yaml:"auto_migrate"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// Load reads the optional YAML file at path (empty path skips the file), then
// applies environment overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setIfEnv(&cfg.ListenAddr, "LISTEN_ADDR")
	setIfEnv(&cfg.Casdoor.Endpoint, "CASDOOR_ENDPOINT")
	setIfEnv(&cfg.Casdoor.ClientID, "CASDOOR_CLIENT_ID")
	setIfEnv(&cfg.Casdoor.ClientSecret, "CASDOOR_CLIENT_SECRET")
	setIfEnv(&cfg.Casdoor.Certificate, "CASDOOR_CERT")
	setIfEnv(&cfg.Casdoor.Organization, "CASDOOR_ORG_NAME")
	setIfEnv(&cfg.Casdoor.Application, "CASDOOR_APP_NAME")
	setIfEnv(&cfg.Casdoor.Scope, "CASDOOR_SCOPE")
	setIfEnv(&cfg.SecretKey, "SECRET_KEY")
	setIfEnv(&cfg.Domain, "DOMAIN")
	setIfEnv(&cfg.DatabaseURL, "DATABASE_URL")
	setIfEnv(&cfg.RedisAddr, "REDIS_ADDR")
	setIfEnv(&cfg.RedisPassword, "REDIS_PASSWORD")

	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RedisDB = n
		}
	}
	if v := os.Getenv("DB_AUTO_MIGRATE"); v != "" {
		cfg.AutoMigrate = v == "1" || strings.EqualFold(v, "true")
	}
}

func setIfEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.Casdoor.Scope == "" {
		cfg.Casdoor.Scope = DefaultScope
	}
	if cfg.Casdoor.LeewaySecs == 0 {
		cfg.Casdoor.LeewaySecs = int(DefaultLeeway / time.Second)
	}
}

// Leeway returns the configured JWT clock-skew allowance.
func (c *Config) Leeway() time.Duration {
	return time.Duration(c.Casdoor.LeewaySecs) * time.Second
}

// Validate reports every missing required setting in one error so operators
// can fix a misconfigured deployment in a single pass.
func (c *Config) Validate() error {
	var missing []string
	check := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}

	check("CASDOOR_ENDPOINT", c.Casdoor.Endpoint)
	check("CASDOOR_CLIENT_ID", c.Casdoor.ClientID)
	check("CASDOOR_CLIENT_SECRET", c.Casdoor.ClientSecret)
	check("CASDOOR_CERT", c.Casdoor.Certificate)
	check("SECRET_KEY", c.SecretKey)
	check("DOMAIN", c.Domain)
	check("DATABASE_URL", c.DatabaseURL)
	check("REDIS_ADDR", c.RedisAddr)

	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}
	return nil
}

// CallbackURL returns the redirect URI registered with Casdoor.
func (c *Config) CallbackURL() string {
	return strings.TrimSuffix(c.Domain, "/") + "/casdoor/callback"
}
