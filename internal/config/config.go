// Package config loads the gateway configuration from a YAML file, an
// optional .env file and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"fitcoach-gateway/internal/quota"
)

type Config struct {
	Listen         string        `yaml:"listen"`
	VersionID      string        `yaml:"version_id"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`

	LLM          LLMConfig          `yaml:"llm"`
	Cache        CacheConfig        `yaml:"cache"`
	Redis        RedisConfig        `yaml:"redis"`
	SQLite       SQLiteConfig       `yaml:"sqlite"`
	Quota        QuotaConfig        `yaml:"quota"`
	Entitlements EntitlementsConfig `yaml:"entitlements"`
	Auth         AuthConfig         `yaml:"auth"`
	Jobs         JobsConfig         `yaml:"jobs"`
}

// LLMConfig points at an OpenAI-compatible provider.
type LLMConfig struct {
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseBackoff       time.Duration `yaml:"base_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Temperature       float32       `yaml:"temperature"`
	MaxTokens         int           `yaml:"max_tokens"`
}

type CacheConfig struct {
	Backend       string        `yaml:"backend"` // memory | redis | sqlite
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	Prefix        string        `yaml:"prefix"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type QuotaConfig struct {
	DailyLimit int      `yaml:"daily_limit"`
	Backend    string   `yaml:"backend"` // memory | redis | sqlite
	AdminIDs   []string `yaml:"admin_ids"`
}

type EntitlementsConfig struct {
	Backend       string              `yaml:"backend"` // static | sqlite | mongo
	CacheTTL      time.Duration       `yaml:"cache_ttl"`
	Static        []StaticEntitlement `yaml:"static"`
	MongoURI      string              `yaml:"mongo_uri"`
	MongoDatabase string              `yaml:"mongo_database"`
}

// StaticEntitlement is one config-defined subscription, for development and
// single-tenant deployments.
type StaticEntitlement struct {
	SubjectID   string     `yaml:"subject_id"`
	PlanTier    string     `yaml:"plan_tier"`
	Status      string     `yaml:"status"`
	TrialEndsAt *time.Time `yaml:"trial_ends_at"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type JobsConfig struct {
	UsageRetentionDays int `yaml:"usage_retention_days"`
}

// Default returns a Config with every optional value filled in.
func Default() *Config {
	return &Config{
		Listen:         ":8080",
		VersionID:      "v1",
		RequestTimeout: 60 * time.Second,
		MaxBodyBytes:   512 * 1024,
		LLM: LLMConfig{
			BaseURL:     "https://api.openai.com",
			Model:       "gpt-4o-mini",
			Timeout:     50 * time.Second,
			MaxAttempts: 3,
			BaseBackoff: time.Second,
			MaxBackoff:  10 * time.Second,
			Temperature: 0.3,
			MaxTokens:   2000,
		},
		Cache: CacheConfig{
			Backend:       "memory",
			TTL:           time.Hour,
			SweepInterval: 5 * time.Minute,
			Prefix:        "fitcoach",
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
		},
		SQLite: SQLiteConfig{
			Path: "fitcoach.db",
		},
		Quota: QuotaConfig{
			DailyLimit: quota.DefaultDailyLimit,
			Backend:    "memory",
		},
		Entitlements: EntitlementsConfig{
			Backend:       "static",
			CacheTTL:      5 * time.Minute,
			MongoDatabase: "fitcoach",
		},
		Jobs: JobsConfig{
			UsageRetentionDays: 30,
		},
	}
}

// Load reads path (optional) on top of Default. A .env file in the working
// directory is loaded first so ${VAR} references in the YAML can use it;
// variables already set in the process win.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Listen = ":" + strings.TrimPrefix(v, ":")
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("CACHE_BACKEND"); v != "" {
		c.Cache.Backend = v
	}
	if v := os.Getenv("GATEWAY_VERSION"); v != "" {
		c.VersionID = v
	}
}

// Validate checks values that would otherwise fail late. The provider API
// key is checked by the serve command only, so offline commands can run
// without it.
func (c *Config) Validate() error {
	var errs []error

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if !oneOf(c.Cache.Backend, "memory", "redis", "sqlite") {
		errs = append(errs, fmt.Errorf("cache.backend %q must be memory, redis or sqlite", c.Cache.Backend))
	}
	if !oneOf(c.Quota.Backend, "memory", "redis", "sqlite") {
		errs = append(errs, fmt.Errorf("quota.backend %q must be memory, redis or sqlite", c.Quota.Backend))
	}
	if !oneOf(c.Entitlements.Backend, "static", "sqlite", "mongo") {
		errs = append(errs, fmt.Errorf("entitlements.backend %q must be static, sqlite or mongo", c.Entitlements.Backend))
	}
	if c.Entitlements.Backend == "mongo" && c.Entitlements.MongoURI == "" {
		errs = append(errs, errors.New("entitlements.mongo_uri is required for the mongo backend"))
	}
	if c.Quota.DailyLimit <= 0 {
		errs = append(errs, errors.New("quota.daily_limit must be positive"))
	}
	if c.LLM.MaxAttempts <= 0 {
		errs = append(errs, errors.New("llm.max_attempts must be positive"))
	}
	if c.LLM.Timeout <= 0 || c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("llm.timeout and request_timeout must be positive"))
	} else if c.LLM.Timeout >= c.RequestTimeout {
		errs = append(errs, fmt.Errorf("llm.timeout (%s) must be shorter than request_timeout (%s)", c.LLM.Timeout, c.RequestTimeout))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache.ttl must be positive"))
	}

	return errors.Join(errs...)
}

// UsesSQLite reports whether any backend needs the sqlite database.
func (c *Config) UsesSQLite() bool {
	return c.Cache.Backend == "sqlite" || c.Quota.Backend == "sqlite" || c.Entitlements.Backend == "sqlite"
}

// UsesRedis reports whether any backend needs the redis client.
func (c *Config) UsesRedis() bool {
	return c.Cache.Backend == "redis" || c.Quota.Backend == "redis"
}

// StaticEntitlements converts the static list for the entitlement store.
func (c *Config) StaticEntitlements() []quota.Entitlement {
	out := make([]quota.Entitlement, 0, len(c.Entitlements.Static))
	for _, s := range c.Entitlements.Static {
		out = append(out, quota.Entitlement{
			SubjectID:   s.SubjectID,
			PlanTier:    s.PlanTier,
			Status:      s.Status,
			TrialEndsAt: s.TrialEndsAt,
		})
	}
	return out
}

func oneOf(v string, allowed ...string) bool {
	return slices.Contains(allowed, v)
}
