package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:  AppConfig{Env: "local", Port: 8080},
		DB:   DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x"},
		Auth: AuthConfig{JWTSecret: "secret"},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_MissingSecretIsAnError(t *testing.T) {
	c := validLocal()
	c.Auth.JWTSecret = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for missing JWT_SECRET")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "iss"
	c.Auth.JWTAudience = "aud"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Auth.AccessTokenTTL != 30*time.Minute {
		t.Fatalf("access ttl default: %s", c.Auth.AccessTokenTTL)
	}
	if c.Auth.RefreshTokenTTL != 7*24*time.Hour || c.Auth.RefreshTokenRememberTTL != 30*24*time.Hour {
		t.Fatalf("refresh ttl defaults: %s / %s", c.Auth.RefreshTokenTTL, c.Auth.RefreshTokenRememberTTL)
	}
	if c.Auth.Leeway != 5*time.Second {
		t.Fatalf("leeway default: %s", c.Auth.Leeway)
	}
	if c.Tenants.Default != "main" || c.Auth.DefaultTenant != "main" {
		t.Fatalf("default tenant: %q / %q", c.Tenants.Default, c.Auth.DefaultTenant)
	}
}

func TestValidate_RejectsOversizedLeeway(t *testing.T) {
	c := validLocal()
	c.Auth.Leeway = 10 * time.Minute
	if err := c.Validate(); err == nil {
		t.Fatalf("expected leeway error")
	}
}

func TestKnownTenants_DedupesAndAddsVessel(t *testing.T) {
	c := validLocal()
	c.Tenants.List = []string{"acme", "main", "globex", "acme"}
	c.Tenants.VesselDatabaseURL = "postgres://u:p@db:5432/vessel_db"
	if err := c.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	got := c.KnownTenants()
	want := []string{"main", "acme", "globex", "vessel_db"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestValidate_RejectsBadTenantNames(t *testing.T) {
	c := validLocal()
	c.Tenants.List = []string{"ok", "has.dot"}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected invalid tenant error")
	}
}

func TestLoad_SettingsFileOverriddenByEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	body := `
app:
  env: dev
  port: 9000
db:
  host: db
  port: 5432
  user: app
jwt:
  secret: from-file
  access_token_ttl: 10m
tenants:
  list: [acme]
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("APP_PORT", "9100")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Auth.JWTSecret != "from-env" {
		t.Fatalf("expected env to override secret, got %q", c.Auth.JWTSecret)
	}
	if c.App.Port != 9100 {
		t.Fatalf("expected env port, got %d", c.App.Port)
	}
	if c.Auth.AccessTokenTTL != 10*time.Minute {
		t.Fatalf("expected file access ttl, got %s", c.Auth.AccessTokenTTL)
	}
	if len(c.Tenants.List) != 1 || c.Tenants.List[0] != "acme" {
		t.Fatalf("expected file tenant list, got %v", c.Tenants.List)
	}
}

func TestLoad_ReportsBadDuration(t *testing.T) {
	t.Setenv("JWT_ACCESS_TTL", "soon")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoad_DBPoolSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	body := `
app:
  env: dev
  port: 9000
db:
  host: db
  port: 5432
  user: app
  max_open_conns: 25
  conn_max_lifetime: 1h
jwt:
  secret: s
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("DB_MAX_IDLE_CONNS", "4")
	t.Setenv("DB_CONN_MAX_IDLE_TIME", "90s")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.DB.MaxOpenConns != 25 || c.DB.MaxIdleConns != 4 {
		t.Fatalf("pool sizes: open=%d idle=%d", c.DB.MaxOpenConns, c.DB.MaxIdleConns)
	}
	if c.DB.ConnMaxLifetime != time.Hour || c.DB.ConnMaxIdleTime != 90*time.Second {
		t.Fatalf("pool lifetimes: %s / %s", c.DB.ConnMaxLifetime, c.DB.ConnMaxIdleTime)
	}
}

func TestValidate_RejectsNegativePoolSettings(t *testing.T) {
	c := validLocal()
	c.DB.MaxOpenConns = -1
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for negative DB_MAX_OPEN_CONNS")
	}
	c = validLocal()
	c.DB.ConnMaxIdleTime = -time.Second
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for negative DB_CONN_MAX_IDLE_TIME")
	}
}
