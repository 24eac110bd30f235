package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration required by the API process.
// Values come from an optional YAML settings file, overridden by env
// (or an env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig      `yaml:"app"`
	DB       DBConfig       `yaml:"db"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"jwt"`
	Tenants  TenantConfig   `yaml:"tenants"`
	APIKeys  APIKeyConfig   `yaml:"api_keys"`
	Password PasswordConfig `yaml:"password"`
}

type AppConfig struct {
	Env  string `yaml:"env"`
	Port int    `yaml:"port"`
}

// DBConfig describes the shared Postgres server. Every tenant lives in its
// own database on that server; the database name is the tenant name.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string `yaml:"sslmode"`

	// Pool sizing applies to each tenant's pool separately. Zero keeps the
	// driver-side defaults.
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RedisConfig is optional. Without a host, API key usage logging and
// in-flight caps are disabled.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AuthConfig struct {
	JWTSecret   string `yaml:"secret"`
	JWTIssuer   string `yaml:"issuer"`
	JWTAudience string `yaml:"audience"`

	AccessTokenTTL          time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL         time.Duration `yaml:"refresh_token_ttl"`
	RefreshTokenRememberTTL time.Duration `yaml:"refresh_token_remember_ttl"`

	// Leeway is the clock-skew tolerance applied to exp/nbf/iat.
	Leeway time.Duration `yaml:"leeway"`

	// DefaultTenant is copied from Tenants.Default by Validate. An absent
	// tenant_name claim resolves to it.
	DefaultTenant string `yaml:"-"`
}

type TenantConfig struct {
	Default           string   `yaml:"default"`
	List              []string `yaml:"list"`
	VesselDatabaseURL string   `yaml:"vessel_database_url"`
}

type APIKeyConfig struct {
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	MaxInflight int           `yaml:"max_inflight"`
}

type PasswordConfig struct {
	HashConcurrency int `yaml:"hash_concurrency"`
}

// DefaultTenantName is used when DEFAULT_TENANT is unset.
const DefaultTenantName = "main"

// Load reads the optional settings file at settingsPath (empty = none),
// applies env overrides, then validates.
func Load(settingsPath string) (Config, error) {
	c := Config{}
	if settingsPath != "" {
		raw, err := os.ReadFile(settingsPath)
		if err != nil {
			return Config{}, fmt.Errorf("read settings file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &c); err != nil {
			return Config{}, fmt.Errorf("parse settings file %s: %w", settingsPath, err)
		}
	}

	var parseErrs []error

	envString(&c.App.Env, "APP_ENV")
	parseErrs = envInt(parseErrs, &c.App.Port, "APP_PORT")

	envString(&c.DB.Host, "DB_HOST")
	parseErrs = envInt(parseErrs, &c.DB.Port, "DB_PORT")
	envString(&c.DB.User, "DB_USER")
	if v, ok := os.LookupEnv("DB_PASSWORD"); ok {
		c.DB.Password = v
	}
	envString(&c.DB.SSLMode, "DB_SSLMODE")
	parseErrs = envInt(parseErrs, &c.DB.MaxOpenConns, "DB_MAX_OPEN_CONNS")
	parseErrs = envInt(parseErrs, &c.DB.MaxIdleConns, "DB_MAX_IDLE_CONNS")
	parseErrs = envDuration(parseErrs, &c.DB.ConnMaxLifetime, "DB_CONN_MAX_LIFETIME")
	parseErrs = envDuration(parseErrs, &c.DB.ConnMaxIdleTime, "DB_CONN_MAX_IDLE_TIME")

	envString(&c.Redis.Host, "REDIS_HOST")
	parseErrs = envInt(parseErrs, &c.Redis.Port, "REDIS_PORT")
	envString(&c.Redis.Password, "REDIS_PASSWORD")
	parseErrs = envInt(parseErrs, &c.Redis.DB, "REDIS_DB")

	if v, ok := os.LookupEnv("JWT_SECRET"); ok && v != "" {
		c.Auth.JWTSecret = v
	}
	envString(&c.Auth.JWTIssuer, "JWT_ISSUER")
	envString(&c.Auth.JWTAudience, "JWT_AUDIENCE")
	parseErrs = envDuration(parseErrs, &c.Auth.AccessTokenTTL, "JWT_ACCESS_TTL")
	parseErrs = envDuration(parseErrs, &c.Auth.RefreshTokenTTL, "JWT_REFRESH_TTL")
	parseErrs = envDuration(parseErrs, &c.Auth.RefreshTokenRememberTTL, "JWT_REFRESH_REMEMBER_TTL")
	parseErrs = envDuration(parseErrs, &c.Auth.Leeway, "JWT_LEEWAY")

	envString(&c.Tenants.Default, "DEFAULT_TENANT")
	if v := strings.TrimSpace(os.Getenv("TENANT_LIST")); v != "" {
		c.Tenants.List = splitList(v)
	}
	envString(&c.Tenants.VesselDatabaseURL, "VESSEL_DATABASE_URL")

	parseErrs = envDuration(parseErrs, &c.APIKeys.CacheTTL, "APIKEY_CACHE_TTL")
	parseErrs = envInt(parseErrs, &c.APIKeys.MaxInflight, "APIKEY_MAX_INFLIGHT")
	parseErrs = envInt(parseErrs, &c.Password.HashConcurrency, "PASSWORD_HASH_CONCURRENCY")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.DB.MaxOpenConns < 0 || c.DB.MaxIdleConns < 0 {
		errs = append(errs, fmt.Errorf("DB_MAX_OPEN_CONNS and DB_MAX_IDLE_CONNS must be >= 0, got %d / %d", c.DB.MaxOpenConns, c.DB.MaxIdleConns))
	}
	if c.DB.ConnMaxLifetime < 0 || c.DB.ConnMaxIdleTime < 0 {
		errs = append(errs, errors.New("DB_CONN_MAX_LIFETIME and DB_CONN_MAX_IDLE_TIME must not be negative"))
	}

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}

	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 30 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenRememberTTL <= 0 {
		c.Auth.RefreshTokenRememberTTL = 30 * 24 * time.Hour
	}
	if c.Auth.Leeway == 0 {
		c.Auth.Leeway = 5 * time.Second
	}
	if c.Auth.Leeway < 0 || c.Auth.Leeway > 2*time.Minute {
		errs = append(errs, fmt.Errorf("JWT_LEEWAY must be between 0 and 2m, got %s", c.Auth.Leeway))
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}
	if c.Auth.RefreshTokenRememberTTL < c.Auth.RefreshTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_REMEMBER_TTL must not be shorter than JWT_REFRESH_TTL"))
	}

	if c.Tenants.Default == "" {
		c.Tenants.Default = DefaultTenantName
	}
	if !IsValidTenantName(c.Tenants.Default) {
		errs = append(errs, fmt.Errorf("DEFAULT_TENANT is not a valid tenant name: %q", c.Tenants.Default))
	}
	for _, t := range c.Tenants.List {
		if !IsValidTenantName(t) {
			errs = append(errs, fmt.Errorf("TENANT_LIST contains an invalid tenant name: %q", t))
		}
	}
	if c.Tenants.VesselDatabaseURL != "" && c.VesselTenant() == "" {
		errs = append(errs, errors.New("VESSEL_DATABASE_URL must name a database"))
	}
	c.Auth.DefaultTenant = c.Tenants.Default

	if c.APIKeys.CacheTTL <= 0 {
		c.APIKeys.CacheTTL = 30 * time.Second
	}
	if c.APIKeys.MaxInflight < 0 {
		errs = append(errs, fmt.Errorf("APIKEY_MAX_INFLIGHT must be >= 0, got %d", c.APIKeys.MaxInflight))
	}
	if c.Password.HashConcurrency <= 0 {
		c.Password.HashConcurrency = runtime.NumCPU()
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

// PostgresDSN returns the DSN of one tenant database.
func (c Config) PostgresDSN(database string) string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		database,
		c.DB.SSLMode,
	)
}

func (c Config) RedisEnabled() bool {
	return c.Redis.Host != ""
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// VesselTenant is the database name of VESSEL_DATABASE_URL, or "".
func (c Config) VesselTenant() string {
	raw := strings.TrimSpace(c.Tenants.VesselDatabaseURL)
	if raw == "" {
		return ""
	}
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		return strings.Trim(u.Path, "/")
	}
	idx := strings.LastIndex(raw, "/")
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(raw[idx+1:])
}

// KnownTenants lists the default tenant, TENANT_LIST and the vessel tenant,
// deduplicated, in that order.
func (c Config) KnownTenants() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	add(c.Tenants.Default)
	for _, t := range c.Tenants.List {
		add(t)
	}
	add(c.VesselTenant())
	return out
}

// IsValidTenantName reports whether name can appear as a tenant path segment.
func IsValidTenantName(name string) bool {
	if name == "" || len(name) > 63 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

func envString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envInt(errs []error, dst *int, key string) []error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return errs
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return append(errs, fmt.Errorf("%s must be an integer, got %q", key, v))
	}
	*dst = n
	return errs
}

func envDuration(errs []error, dst *time.Duration, key string) []error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return errs
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return append(errs, fmt.Errorf("%s must be a duration, got %q", key, v))
	}
	*dst = d
	return errs
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
