// AngelaMos | 2026
// config.go

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	App        AppConfig        `koanf:"app"`
	Server     ServerConfig     `koanf:"server"`
	Store      StoreConfig      `koanf:"store"`
	Database   DatabaseConfig   `koanf:"database"`
	Redis      RedisConfig      `koanf:"redis"`
	Token      TokenConfig      `koanf:"token"`
	Credential CredentialConfig `koanf:"credential"`
	Cookie     CookieConfig     `koanf:"cookie"`
	Reaper     ReaperConfig     `koanf:"reaper"`
	RateLimit  RateLimitConfig  `koanf:"rate_limit"`
	CORS       CORSConfig       `koanf:"cors"`
	Admin      AdminConfig      `koanf:"admin"`
	Log        LogConfig        `koanf:"log"`
	Otel       OtelConfig       `koanf:"otel"`
}

type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// StoreConfig selects the credential store backend. "memory" is meant for
// local runs and tests; state is lost on restart.
type StoreConfig struct {
	Driver      string `koanf:"driver"`
	AutoMigrate bool   `koanf:"auto_migrate"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
}

type RedisConfig struct {
	URL          string `koanf:"url"`
	PoolSize     int    `koanf:"pool_size"`
	MinIdleConns int    `koanf:"min_idle_conns"`
}

type TokenConfig struct {
	Algorithm      string        `koanf:"algorithm"`
	PrivateKeyPath string        `koanf:"private_key_path"`
	PublicKeyPath  string        `koanf:"public_key_path"`
	HMACSecret     string        `koanf:"hmac_secret"`
	AccessTTL      time.Duration `koanf:"access_ttl"`
	Issuer         string        `koanf:"issuer"`
	Audience       string        `koanf:"audience"`
}

type CredentialConfig struct {
	RefreshTTL     time.Duration `koanf:"refresh_ttl"`
	EmailVerifyTTL time.Duration `koanf:"email_verify_ttl"`
	ResetTTL       time.Duration `koanf:"reset_ttl"`
	SecretBytes    int           `koanf:"secret_bytes"`
}

type CookieConfig struct {
	Name   string `koanf:"name"`
	Path   string `koanf:"path"`
	Domain string `koanf:"domain"`
	Secure bool   `koanf:"secure"`
}

type ReaperConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval"`
	Grace    time.Duration `koanf:"grace"`
	LockTTL  time.Duration `koanf:"lock_ttl"`
}

type RateLimitConfig struct {
	Requests     int           `koanf:"requests"`
	Window       time.Duration `koanf:"window"`
	Burst        int           `koanf:"burst"`
	AuthRequests int           `koanf:"auth_requests"`
	AuthBurst    int           `koanf:"auth_burst"`
}

type CORSConfig struct {
	AllowedOrigins   []string `koanf:"allowed_origins"`
	AllowedMethods   []string `koanf:"allowed_methods"`
	AllowedHeaders   []string `koanf:"allowed_headers"`
	AllowCredentials bool     `koanf:"allow_credentials"`
	MaxAge           int      `koanf:"max_age"`
}

type AdminConfig struct {
	PrincipalIDs []string `koanf:"principal_ids"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type OtelConfig struct {
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	Enabled     bool    `koanf:"enabled"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
}

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	AlgorithmES256 = "ES256"
	AlgorithmHS256 = "HS256"

	minSecretBytes     = 32
	minHMACSecretBytes = 32
)

// Load builds the configuration once at process start: defaults, then the
// optional YAML file, then environment variables.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKeyReplacer), nil); err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"app.name":        "Credential Engine",
		"app.version":     "1.0.0",
		"app.environment": "development",

		"server.host":             "0.0.0.0",
		"server.port":             8080,
		"server.read_timeout":     "30s",
		"server.write_timeout":    "30s",
		"server.idle_timeout":     "120s",
		"server.shutdown_timeout": "15s",

		"store.driver":       StoreDriverPostgres,
		"store.auto_migrate": true,

		"database.max_open_conns":     25,
		"database.max_idle_conns":     5,
		"database.conn_max_lifetime":  "1h",
		"database.conn_max_idle_time": "30m",

		"redis.pool_size":      10,
		"redis.min_idle_conns": 5,

		"token.algorithm":        AlgorithmES256,
		"token.private_key_path": "keys/private.pem",
		"token.public_key_path":  "keys/public.pem",
		"token.access_ttl":       "15m",
		"token.issuer":           "credential-engine",
		"token.audience":         "credential-engine-api",

		"credential.refresh_ttl":      "168h",
		"credential.email_verify_ttl": "15m",
		"credential.reset_ttl":        "30m",
		"credential.secret_bytes":     32,

		"cookie.name":   "refresh_token",
		"cookie.path":   "/v1/auth/session",
		"cookie.secure": true,

		"reaper.enabled":  true,
		"reaper.interval": "10m",
		"reaper.grace":    "24h",
		"reaper.lock_ttl": "5m",

		"rate_limit.requests":      100,
		"rate_limit.window":        "1m",
		"rate_limit.burst":         20,
		"rate_limit.auth_requests": 6,
		"rate_limit.auth_burst":    6,

		"cors.allowed_origins": []string{"http://localhost:3000"},
		"cors.allowed_methods": []string{
			"GET",
			"POST",
			"DELETE",
			"OPTIONS",
		},
		"cors.allowed_headers": []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"X-Request-ID",
		},
		"cors.allow_credentials": true,
		"cors.max_age":           300,

		"log.level":  "info",
		"log.format": "json",

		"otel.enabled":      false,
		"otel.insecure":     true,
		"otel.sample_rate":  0.1,
		"otel.service_name": "credential-engine",
	}

	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

var envKeyMap = map[string]string{
	"DATABASE_URL":                "database.url",
	"REDIS_URL":                   "redis.url",
	"ENVIRONMENT":                 "app.environment",
	"HOST":                        "server.host",
	"PORT":                        "server.port",
	"STORE_DRIVER":                "store.driver",
	"STORE_AUTO_MIGRATE":          "store.auto_migrate",
	"LOG_LEVEL":                   "log.level",
	"LOG_FORMAT":                  "log.format",
	"TOKEN_ALGORITHM":             "token.algorithm",
	"TOKEN_PRIVATE_KEY_PATH":      "token.private_key_path",
	"TOKEN_PUBLIC_KEY_PATH":       "token.public_key_path",
	"TOKEN_HMAC_SECRET":           "token.hmac_secret",
	"TOKEN_ACCESS_TTL":            "token.access_ttl",
	"TOKEN_ISSUER":                "token.issuer",
	"TOKEN_AUDIENCE":              "token.audience",
	"REFRESH_TOKEN_TTL":           "credential.refresh_ttl",
	"EMAIL_VERIFY_TTL":            "credential.email_verify_ttl",
	"RESET_PASSWORD_TTL":          "credential.reset_ttl",
	"COOKIE_DOMAIN":               "cookie.domain",
	"COOKIE_SECURE":               "cookie.secure",
	"REAPER_ENABLED":              "reaper.enabled",
	"REAPER_INTERVAL":             "reaper.interval",
	"RATE_LIMIT_REQUESTS":         "rate_limit.requests",
	"RATE_LIMIT_WINDOW":           "rate_limit.window",
	"RATE_LIMIT_BURST":            "rate_limit.burst",
	"RATE_LIMIT_AUTH_REQUESTS":    "rate_limit.auth_requests",
	"OTEL_ENDPOINT":               "otel.endpoint",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "otel.endpoint",
	"OTEL_SERVICE_NAME":           "otel.service_name",
	"OTEL_ENABLED":                "otel.enabled",
	"OTEL_INSECURE":               "otel.insecure",
	"OTEL_SAMPLE_RATE":            "otel.sample_rate",
}

func envKeyReplacer(s string) string {
	if mapped, ok := envKeyMap[s]; ok {
		return mapped
	}
	return ""
}

func validate(c *Config) error {
	switch c.Store.Driver {
	case StoreDriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
	case StoreDriverMemory:
		if c.IsProduction() {
			return fmt.Errorf("memory store cannot be used in production")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	if c.Redis.URL == "" && c.IsProduction() {
		return fmt.Errorf("REDIS_URL is required in production")
	}

	switch strings.ToUpper(c.Token.Algorithm) {
	case AlgorithmES256:
		if c.Token.PrivateKeyPath == "" {
			return fmt.Errorf("TOKEN_PRIVATE_KEY_PATH is required")
		}
	case AlgorithmHS256:
		if len(c.Token.HMACSecret) < minHMACSecretBytes {
			return fmt.Errorf(
				"TOKEN_HMAC_SECRET must be at least %d bytes",
				minHMACSecretBytes,
			)
		}
	default:
		return fmt.Errorf("unsupported token algorithm %q", c.Token.Algorithm)
	}
	c.Token.Algorithm = strings.ToUpper(c.Token.Algorithm)

	if c.Token.AccessTTL <= 0 {
		return fmt.Errorf("token.access_ttl must be positive")
	}

	if c.Credential.RefreshTTL <= 0 ||
		c.Credential.EmailVerifyTTL <= 0 ||
		c.Credential.ResetTTL <= 0 {
		return fmt.Errorf("credential TTLs must be positive")
	}

	if c.Credential.SecretBytes < minSecretBytes {
		return fmt.Errorf(
			"credential.secret_bytes must be at least %d",
			minSecretBytes,
		)
	}

	if c.CORS.AllowCredentials {
		for _, origin := range c.CORS.AllowedOrigins {
			if origin == "*" {
				return fmt.Errorf(
					"CORS wildcard '*' cannot be used with AllowCredentials",
				)
			}
		}
	}

	if c.IsProduction() {
		if c.Otel.Enabled && c.Otel.Insecure {
			return fmt.Errorf("OTEL_INSECURE must be false in production")
		}
		if !c.Cookie.Secure {
			return fmt.Errorf("COOKIE_SECURE must be true in production")
		}
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be positive")
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
