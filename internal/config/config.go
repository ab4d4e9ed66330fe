package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "FASTSUBMIT"

type Config struct {
	App       AppSettings       `mapstructure:"app"`
	Store     StoreSettings     `mapstructure:"store"`
	Redis     RedisSettings     `mapstructure:"redis"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
	Cache     CacheSettings     `mapstructure:"cache"`
	CORS      CORSSettings      `mapstructure:"cors"`
	JWT       JWTSettings       `mapstructure:"jwt"`
	Operator  OperatorSettings  `mapstructure:"operator"`
	Submit    SubmitSettings    `mapstructure:"submit"`
}

type AppSettings struct {
	Name       string `mapstructure:"name"`
	Env        string `mapstructure:"env"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	TrustProxy bool   `mapstructure:"trust_proxy"`
}

// Addr is the listen address of the HTTP server.
func (a AppSettings) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// StoreSettings selects the form store. "memory" keeps everything in process;
// "sqlite3" and "postgres" go through database/sql.
type StoreSettings struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type RedisSettings struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LimitSettings struct {
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
}

// RateLimitSettings configures the limiter backend and the two endpoint classes.
type RateLimitSettings struct {
	Backend         string        `mapstructure:"backend"`
	FailureStrategy string        `mapstructure:"failure_strategy"`
	ReapInterval    time.Duration `mapstructure:"reap_interval"`
	Submit          LimitSettings `mapstructure:"submit"`
	Management      LimitSettings `mapstructure:"management"`
}

type CacheSettings struct {
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type OriginSettings struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type CORSSettings struct {
	Public     OriginSettings `mapstructure:"public"`
	Management OriginSettings `mapstructure:"management"`
}

type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// OperatorSettings holds the single operator account. An empty password hash
// disables operator login.
type OperatorSettings struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
}

type SubmitSettings struct {
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

func Load() (*Config, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.trust_proxy",
		"store.driver",
		"store.dsn",
		"redis.addr",
		"redis.password",
		"redis.db",
		"rate_limit.backend",
		"rate_limit.failure_strategy",
		"rate_limit.reap_interval",
		"rate_limit.submit.max_requests",
		"rate_limit.submit.window",
		"rate_limit.management.max_requests",
		"rate_limit.management.window",
		"cache.ttl",
		"cache.sweep_interval",
		"cors.public.allowed_origins",
		"cors.management.allowed_origins",
		"jwt.secret",
		"jwt.ttl",
		"operator.username",
		"operator.password_hash",
		"submit.max_body_bytes",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "fastsubmit")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.trust_proxy", false)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("rate_limit.backend", "memory")
	v.SetDefault("rate_limit.failure_strategy", "fail_open")
	v.SetDefault("rate_limit.reap_interval", "1m")
	v.SetDefault("rate_limit.submit.max_requests", 10)
	v.SetDefault("rate_limit.submit.window", "1m")
	v.SetDefault("rate_limit.management.max_requests", 100)
	v.SetDefault("rate_limit.management.window", "1m")

	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("cache.sweep_interval", "60s")

	v.SetDefault("cors.public.allowed_origins", []string{"*"})
	v.SetDefault("cors.management.allowed_origins", []string{"*"})

	v.SetDefault("jwt.secret", defaultJWTSecret)
	v.SetDefault("jwt.ttl", "1h")

	v.SetDefault("operator.username", "admin")
	v.SetDefault("operator.password_hash", "")

	v.SetDefault("submit.max_body_bytes", 64*1024)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envPrefix+"_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

// defaultJWTSecret only suits local development.
const defaultJWTSecret = "change-me"

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Operator.PasswordHash != "" && c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required when operator.password_hash is set")
	}
	if c.App.Env == "production" && (c.JWT.Secret == "" || c.JWT.Secret == defaultJWTSecret) {
		return fmt.Errorf("jwt.secret must be set to a non-default value in production")
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite3", "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}

	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis rate limit backend")
		}
	default:
		return fmt.Errorf("unknown rate_limit.backend %q", c.RateLimit.Backend)
	}

	for name, l := range map[string]LimitSettings{"submit": c.RateLimit.Submit, "management": c.RateLimit.Management} {
		if l.MaxRequests < 1 || l.Window <= 0 {
			return fmt.Errorf("rate_limit.%s needs max_requests >= 1 and a positive window", name)
		}
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if c.Submit.MaxBodyBytes <= 0 {
		return fmt.Errorf("submit.max_body_bytes must be positive")
	}
	return nil
}
