// Package config loads service configuration from defaults, an optional
// YAML or TOML file and MT_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/Neolutionist/MiniTransfer-sub000/internal/logging"
	"github.com/Neolutionist/MiniTransfer-sub000/internal/objstore"
)

// EnvPrefix marks variables read by Load. Nested keys use a double
// underscore: MT_STORAGE__BUCKET sets storage.bucket.
const EnvPrefix = "MT_"

type RateLimitConfig struct {
	RPS   float64 `koanf:"rps" validate:"gte=0"`
	Burst int     `koanf:"burst" validate:"gte=0"`
}

type ServerConfig struct {
	Addr            string          `koanf:"addr" validate:"required"`
	BaseURL         string          `koanf:"base_url" validate:"omitempty,url"`
	ShutdownTimeout time.Duration   `koanf:"shutdown_timeout" validate:"gt=0"`
	RateLimit       RateLimitConfig `koanf:"rate_limit"`
	// CORSOrigins is a comma-separated allow list; empty disables CORS.
	CORSOrigins string `koanf:"cors_origins"`
}

type DBConfig struct {
	Driver       string `koanf:"driver" validate:"oneof=postgres memory"`
	URL          string `koanf:"url" validate:"required_if=Driver postgres"`
	MaxOpenConns int    `koanf:"max_open_conns" validate:"gte=1"`
}

type UploadConfig struct {
	MaxRelayBytes     int64         `koanf:"max_relay_bytes" validate:"gt=0"`
	PartURLTTL        time.Duration `koanf:"part_url_ttl" validate:"gt=0"`
	DefaultExpiryDays int           `koanf:"default_expiry_days" validate:"gte=1"`
	MaxExpiryDays     int           `koanf:"max_expiry_days" validate:"gtefield=DefaultExpiryDays"`
	TempDir           string        `koanf:"temp_dir"`
}

type AccessConfig struct {
	GrantSecret string        `koanf:"grant_secret" validate:"omitempty,min=16"`
	GrantTTL    time.Duration `koanf:"grant_ttl" validate:"gt=0"`
}

type AuthConfig struct {
	Username      string        `koanf:"username" validate:"required"`
	Password      string        `koanf:"password"`
	SessionSecret string        `koanf:"session_secret" validate:"omitempty,min=16"`
	SessionTTL    time.Duration `koanf:"session_ttl" validate:"gt=0"`
	SecureCookies bool          `koanf:"secure_cookies"`
}

type GCConfig struct {
	Enabled     bool          `koanf:"enabled"`
	Schedule    string        `koanf:"schedule" validate:"required"`
	Concurrency int           `koanf:"concurrency" validate:"gte=1,lte=64"`
	LockTTL     time.Duration `koanf:"lock_ttl" validate:"gt=0"`
	// OrphanGrace is the minimum age of an unrecorded object before it is
	// removed; zero turns the orphan pass off. Multipart objects are aged
	// from upload initiation, so it must cover the longest direct upload and
	// is never shorter than upload.part_url_ttl.
	OrphanGrace time.Duration `koanf:"orphan_grace" validate:"gte=0"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db" validate:"gte=0"`
}

type Config struct {
	Server  ServerConfig    `koanf:"server"`
	Log     logging.Config  `koanf:"log"`
	DB      DBConfig        `koanf:"db"`
	Storage objstore.Config `koanf:"storage"`
	Upload  UploadConfig    `koanf:"upload"`
	Access  AccessConfig    `koanf:"access"`
	Auth    AuthConfig      `koanf:"auth"`
	GC      GCConfig        `koanf:"gc"`
	Redis   RedisConfig     `koanf:"redis"`
}

func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 5 * time.Second,
			RateLimit:       RateLimitConfig{RPS: 10, Burst: 20},
		},
		Log:     logging.Config{Level: "info"},
		DB:      DBConfig{Driver: "postgres", MaxOpenConns: 10},
		Storage: objstore.Config{Driver: "minio", Region: "us-east-1", Bucket: "transfers"},
		Upload: UploadConfig{
			MaxRelayBytes:     1 << 30,
			PartURLTTL:        time.Hour,
			DefaultExpiryDays: 7,
			MaxExpiryDays:     30,
		},
		Access: AccessConfig{GrantTTL: time.Hour},
		Auth: AuthConfig{
			Username:      "admin",
			SessionTTL:    12 * time.Hour,
			SecureCookies: true,
		},
		GC: GCConfig{
			Enabled:     true,
			Schedule:    "@every 1h",
			Concurrency: 4,
			LockTTL:     10 * time.Minute,
			OrphanGrace: 24 * time.Hour,
		},
	}
}

// Load reads path (if non-empty) and the environment over Defaults and
// validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		var parser koanf.Parser
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".toml":
			parser = toml.Parser()
		default:
			return nil, fmt.Errorf("unsupported config file type: %s", path)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	cfg := Defaults()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// DATABASE_URL is honoured for compatibility with the usual container setups.
	if cfg.DB.URL == "" {
		cfg.DB.URL = os.Getenv("DATABASE_URL")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return err
	}
	if c.GC.OrphanGrace > 0 && c.GC.OrphanGrace < c.Upload.PartURLTTL {
		return fmt.Errorf("invalid configuration: gc.orphan_grace (%s) must be 0 or at least upload.part_url_ttl (%s)",
			c.GC.OrphanGrace, c.Upload.PartURLTTL)
	}
	return nil
}

// RequireServeSecrets refuses to run the HTTP server without the secrets that
// protect sessions and download grants.
func (c *Config) RequireServeSecrets() error {
	var missing []string
	if c.Auth.Password == "" {
		missing = append(missing, "auth.password")
	}
	if c.Auth.SessionSecret == "" {
		missing = append(missing, "auth.session_secret")
	}
	if c.Access.GrantSecret == "" {
		missing = append(missing, "access.grant_secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required secrets: %s", strings.Join(missing, ", "))
	}
	return nil
}
