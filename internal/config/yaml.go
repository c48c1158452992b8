package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the top-level pilot configuration file.
type Config struct {
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Redis   RedisConfig   `yaml:"redis" mapstructure:"redis"`
	SQL     SQLConfig     `yaml:"sql" mapstructure:"sql"`
	Events  EventsConfig  `yaml:"events" mapstructure:"events"`
	License LicenseConfig `yaml:"license" mapstructure:"license"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string          `yaml:"host" mapstructure:"host"`
	Port            int             `yaml:"port" mapstructure:"port" validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"min=0"`
	CORS            CORSConfig      `yaml:"cors" mapstructure:"cors"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins" mapstructure:"origins"`
}

// RateLimitConfig holds per-minute request budgets. Zero disables a limit.
type RateLimitConfig struct {
	// PublicPerMinute limits signin and assign_hwid per client IP.
	PublicPerMinute int `yaml:"public_per_minute" mapstructure:"public_per_minute" validate:"min=0"`
	// AdminPerMinute limits gated routes per customer key.
	AdminPerMinute int `yaml:"admin_per_minute" mapstructure:"admin_per_minute" validate:"min=0"`
}

// StoreConfig selects the backend and bounds every call to it.
type StoreConfig struct {
	Driver           string        `yaml:"driver" mapstructure:"driver" validate:"oneof=redis sqlite postgres mysql memory"`
	Timeout          time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gt=0"`
	FailureThreshold uint32        `yaml:"failure_threshold" mapstructure:"failure_threshold" validate:"min=1"`
	OpenTimeout      time.Duration `yaml:"open_timeout" mapstructure:"open_timeout" validate:"gt=0"`
}

// RedisConfig locates the Redis server. URL, when set, overrides Addr and
// Password.
type RedisConfig struct {
	URL        string `yaml:"url" mapstructure:"url"`
	Addr       string `yaml:"addr" mapstructure:"addr"`
	Password   string `yaml:"password" mapstructure:"password"`
	AppDB      int    `yaml:"app_db" mapstructure:"app_db" validate:"min=0,max=15"`
	CustomerDB int    `yaml:"customer_db" mapstructure:"customer_db" validate:"min=0,max=15"`
	PoolSize   int    `yaml:"pool_size" mapstructure:"pool_size" validate:"min=0"`
}

// SQLConfig configures the sqlite, postgres and mysql drivers.
type SQLConfig struct {
	DSN             string        `yaml:"dsn" mapstructure:"dsn"`
	DataDir         string        `yaml:"data_dir" mapstructure:"data_dir"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns" validate:"min=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime" validate:"min=0"`
}

// EventsConfig selects where lifecycle events go.
type EventsConfig struct {
	Driver   string `yaml:"driver" mapstructure:"driver" validate:"oneof=amqp none"`
	URL      string `yaml:"url" mapstructure:"url" validate:"required_if=Driver amqp"`
	Exchange string `yaml:"exchange" mapstructure:"exchange"`
}

// LicenseConfig holds the licensing rules.
type LicenseConfig struct {
	HWIDCooldownDays   int  `yaml:"hwid_cooldown_days" mapstructure:"hwid_cooldown_days" validate:"min=0"`
	PageSize           int  `yaml:"page_size" mapstructure:"page_size" validate:"min=1,max=1000"`
	RejectPausedSignIn bool `yaml:"reject_paused_signin" mapstructure:"reject_paused_signin"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=text json"`
}

// Default returns a Config pre-filled with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 30 * time.Second,
			CORS:            CORSConfig{Origins: []string{"*"}},
			RateLimit: RateLimitConfig{
				PublicPerMinute: 120,
				AdminPerMinute:  600,
			},
		},
		Store: StoreConfig{
			Driver:           "sqlite",
			Timeout:          2 * time.Second,
			FailureThreshold: 5,
			OpenTimeout:      10 * time.Second,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			AppDB:      0,
			CustomerDB: 1,
		},
		SQL: SQLConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Events: EventsConfig{
			Driver:   "none",
			Exchange: "pilot.license.events",
		},
		License: LicenseConfig{
			HWIDCooldownDays: 30,
			PageSize:         100,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML configuration file on top of Default. Environment
// variables referenced as ${VAR_NAME} in the file are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadFile returns the contents of a configuration file with ${VAR_NAME}
// references expanded from the environment.
func ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return []byte(os.ExpandEnv(string(data))), nil
}

var validate = validator.New()

// Validate checks field ranges and cross-field rules. Failures wrap
// ErrInvalid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s fails %q (value %v)", ErrInvalid, fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Store.Driver == "redis" && c.Redis.URL == "" && c.Redis.Addr == "" {
		return fmt.Errorf("%w: redis store needs redis.url or redis.addr", ErrInvalid)
	}
	if c.Store.Driver == "redis" && c.Redis.URL == "" && c.Redis.AppDB == c.Redis.CustomerDB {
		return fmt.Errorf("%w: redis.app_db and redis.customer_db must differ", ErrInvalid)
	}
	if (c.Store.Driver == "postgres" || c.Store.Driver == "mysql") && c.SQL.DSN == "" {
		return fmt.Errorf("%w: %s store needs sql.dsn", ErrInvalid, c.Store.Driver)
	}
	return nil
}

// Addr returns the host:port the server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Redacted returns a copy with credentials masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	out.Server.CORS.Origins = append([]string(nil), c.Server.CORS.Origins...)
	if out.Redis.Password != "" {
		out.Redis.Password = redactedValue
	}
	if out.Redis.URL != "" {
		out.Redis.URL = redactURL(out.Redis.URL)
	}
	if out.SQL.DSN != "" {
		out.SQL.DSN = redactURL(out.SQL.DSN)
	}
	if out.Events.URL != "" {
		out.Events.URL = redactURL(out.Events.URL)
	}
	return &out
}

const redactedValue = "****"

// redactURL masks the password of a URL-style DSN. Other DSN forms are
// masked entirely.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return redactedValue
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), redactedValue)
	}
	return u.String()
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// WriteDefault writes the default configuration to a YAML file. It refuses
// to overwrite an existing file.
func WriteDefault(path string) error {
	data, err := Default().Marshal()
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write config file: %w", err)
	}
	return f.Close()
}
