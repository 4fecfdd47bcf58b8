package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Env       string          `mapstructure:"env"`
	HTTPAddr  string          `mapstructure:"http_addr"`
	LogLevel  string          `mapstructure:"log_level"`
	LogStore  string          `mapstructure:"log_store"`
	Tags      []string        `mapstructure:"tags"`
	Session   SessionConfig   `mapstructure:"session"`
	Database  DatabaseConfig  `mapstructure:"db"`
	Blob      BlobConfig      `mapstructure:"blob"`
	S3        S3Config        `mapstructure:"s3"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Google    GoogleConfig    `mapstructure:"google"`
	Images    ImagesConfig    `mapstructure:"images"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type SessionConfig struct {
	Secret string `mapstructure:"secret"`
	Secure bool   `mapstructure:"secure"`
	MaxAge int    `mapstructure:"max_age"`
	// Generated is set when Secret was made up at startup. Sessions then
	// end with the process.
	Generated bool `mapstructure:"-"`
}

// MinSecretLen is the shortest accepted SESSION_SECRET.
const MinSecretLen = 32

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type BlobConfig struct {
	Provider  string `mapstructure:"provider"`
	LocalRoot string `mapstructure:"local_root"`
}

// S3Config targets any S3 compatible endpoint. When Endpoint is empty and
// AccountID is set, the Cloudflare R2 endpoint for that account is used.
type S3Config struct {
	AccountID       string `mapstructure:"account_id"`
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	Bucket          string `mapstructure:"bucket"`
	PublicURL       string `mapstructure:"public_url"`
	PathStyle       bool   `mapstructure:"path_style"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type GoogleConfig struct {
	Key         string `mapstructure:"key"`
	Secret      string `mapstructure:"secret"`
	CallbackURL string `mapstructure:"callback_url"`
}

// Enabled reports whether Google sign-in is configured.
func (g GoogleConfig) Enabled() bool {
	return g.Key != "" && g.Secret != ""
}

type ImagesConfig struct {
	RequireApproval   bool          `mapstructure:"require_approval"`
	ConvertJPEG       bool          `mapstructure:"convert_jpeg"`
	MaxUploadMB       int64         `mapstructure:"max_upload_mb"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	ReconcileGrace    time.Duration `mapstructure:"reconcile_grace"`
}

type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

var defaults = map[string]any{
	"env":                       "development",
	"http_addr":                 ":3000",
	"log_level":                 "info",
	"log_store":                 "db",
	"tags":                      []string{"portrait", "landscape", "architecture", "nature", "people", "travel"},
	"session.secret":            "",
	"session.secure":            false,
	"session.max_age":           86400 * 30,
	"db.driver":                 "postgres",
	"db.dsn":                    "",
	"db.max_open_conns":         25,
	"db.max_idle_conns":         5,
	"blob.provider":             "local",
	"blob.local_root":           "./uploads",
	"s3.account_id":             "",
	"s3.endpoint":               "",
	"s3.region":                 "auto",
	"s3.access_key_id":          "",
	"s3.access_key_secret":      "",
	"s3.bucket":                 "",
	"s3.public_url":             "",
	"s3.path_style":             false,
	"redis.addr":                "localhost:6379",
	"redis.password":            "",
	"redis.db":                  0,
	"redis.prefix":              "imagesharing",
	"google.key":                "",
	"google.secret":             "",
	"google.callback_url":       "http://localhost:3000/auth/google/callback",
	"images.require_approval":   false,
	"images.convert_jpeg":       false,
	"images.max_upload_mb":      10,
	"images.reconcile_interval": "5m",
	"images.reconcile_grace":    "15m",
	"rate_limit.requests":       20,
	"rate_limit.window":         "1m",
}

// Load reads envFile into the process environment when it exists, then
// resolves every key from the environment. Nested keys map to upper-case
// names with underscores (s3.bucket is S3_BUCKET); the database DSN is read
// from DSN or DB_DSN.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("error loading %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	if err := v.BindEnv("db.dsn", "DSN", "DB_DSN"); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	switch {
	case c.Session.Secret == "" && c.Env == "production":
		return errors.New("SESSION_SECRET is required in production")
	case c.Session.Secret == "":
		key := securecookie.GenerateRandomKey(MinSecretLen)
		if key == nil {
			return errors.New("failed to generate a session secret")
		}
		c.Session.Secret = hex.EncodeToString(key)
		c.Session.Generated = true
	case len(c.Session.Secret) < MinSecretLen:
		return fmt.Errorf("SESSION_SECRET must be at least %d bytes", MinSecretLen)
	}
	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("DSN is required for the postgres driver")
		}
	case "sqlite":
		if c.Database.DSN == "" {
			c.Database.DSN = "imagesharing.db"
		}
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.Database.Driver)
	}
	switch c.Blob.Provider {
	case "local":
	case "s3":
		if c.S3.Bucket == "" {
			return errors.New("S3_BUCKET is required for the s3 blob provider")
		}
		if c.S3.Endpoint == "" && c.S3.AccountID == "" {
			return errors.New("S3_ENDPOINT or S3_ACCOUNT_ID is required for the s3 blob provider")
		}
	default:
		return fmt.Errorf("unknown BLOB_PROVIDER %q", c.Blob.Provider)
	}
	switch c.LogStore {
	case "db", "redis":
	default:
		return fmt.Errorf("unknown LOG_STORE %q", c.LogStore)
	}
	if c.Images.MaxUploadMB <= 0 {
		return errors.New("IMAGES_MAX_UPLOAD_MB must be positive")
	}
	return nil
}

// MaxUploadBytes is the request body limit applied to uploads.
func (i ImagesConfig) MaxUploadBytes() int64 {
	return i.MaxUploadMB << 20
}
