package config // package config loads application configuration from environment variables

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/account-service/internal/apperr"
)

// Session store backends.
const (
	SessionStoreMySQL = "mysql"
	SessionStoreRedis = "redis"
)

// Config holds all runtime configuration values. Each field corresponds to
// an environment variable.
type Config struct {
	Env  string // application environment (e.g. "dev", "prod")
	Port string // HTTP port to listen on

	DBUser string // MySQL user for the session table
	DBPass string // MySQL password (optional)
	DBHost string
	DBPort string
	DBName string

	MongoURI string // profile store connection string
	MongoDB  string // profile store database name

	AccessTokenSecret  string        // HMAC secret for access tokens
	AccessTokenTTL     time.Duration // access token lifetime
	RefreshTokenSecret string        // HMAC secret for refresh tokens
	RefreshTokenTTL    time.Duration // refresh token lifetime
	BcryptCost         int           // bcrypt work factor

	SessionStore string // "mysql" or "redis"
	CookieSecure bool   // mark auth cookies Secure
	UploadDir    string // where multipart uploads are staged before relay

	S3 S3Config

	RabbitMQURL   string // broker for auth events; empty disables publishing
	AuditConsumer bool   // run the auth.events consumer in-process

	LogLevel  string
	LogFormat string
}

// S3Config configures the media uploader.
type S3Config struct {
	Bucket        string
	Region        string
	Endpoint      string // non-empty for MinIO or other S3-compatible hosts
	AccessKey     string
	SecretKey     string
	PublicBaseURL string // prefix for returned URLs; defaults to Endpoint/Bucket
}

// Load reads the configuration and exits the process when it is unusable.
func Load() Config {
	cfg, err := FromEnv()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	return cfg
}

// FromEnv reads configuration values from environment variables. Missing
// required variables or malformed values produce a configuration error
// naming every offending key.
func FromEnv() (Config, error) {
	var r reader
	cfg := Config{
		Env:  r.str("APP_ENV", "dev"),
		Port: r.str("APP_PORT", "8000"),

		MongoURI: r.must("MONGO_URI"),
		MongoDB:  r.str("MONGO_DB", "accounts"),

		AccessTokenSecret:  r.must("ACCESS_TOKEN_SECRET"),
		AccessTokenTTL:     r.ttl("ACCESS_TOKEN_TTL", "15m"),
		RefreshTokenSecret: r.must("REFRESH_TOKEN_SECRET"),
		RefreshTokenTTL:    r.ttl("REFRESH_TOKEN_TTL", "10d"),
		BcryptCost:         r.integer("BCRYPT_COST", 10),

		SessionStore: strings.ToLower(r.str("SESSION_STORE", SessionStoreMySQL)),
		CookieSecure: envBool("COOKIE_SECURE", true),
		UploadDir:    r.str("UPLOAD_DIR", os.TempDir()),

		S3: S3Config{
			Bucket:        r.must("S3_BUCKET"),
			Region:        r.str("S3_REGION", "us-east-1"),
			Endpoint:      os.Getenv("S3_ENDPOINT"),
			AccessKey:     os.Getenv("S3_ACCESS_KEY"),
			SecretKey:     os.Getenv("S3_SECRET_KEY"),
			PublicBaseURL: os.Getenv("S3_PUBLIC_BASE_URL"),
		},

		RabbitMQURL:   os.Getenv("RABBITMQ_URL"),
		AuditConsumer: envBool("AUTH_AUDIT_CONSUMER", false),

		LogLevel:  r.str("LOG_LEVEL", "info"),
		LogFormat: r.str("LOG_FORMAT", "json"),
	}
	if cfg.SessionStore == SessionStoreMySQL {
		cfg.DBUser = r.must("DB_USER")
		cfg.DBPass = os.Getenv("DB_PASS")
		cfg.DBHost = r.must("DB_HOST")
		cfg.DBPort = r.str("DB_PORT", "3306")
		cfg.DBName = r.must("DB_NAME")
	}
	if err := r.err(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate checks values that must be consistent before the service starts.
func (c Config) Validate() error {
	switch {
	case c.AccessTokenSecret == "" || c.RefreshTokenSecret == "":
		return apperr.Configuration("token signing secrets are required")
	case c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0:
		return apperr.Configuration("token ttls must be positive")
	case c.RefreshTokenTTL < c.AccessTokenTTL:
		return apperr.Configuration("refresh token ttl must not be shorter than access token ttl")
	case c.SessionStore != SessionStoreMySQL && c.SessionStore != SessionStoreRedis:
		return apperr.Configuration(fmt.Sprintf("unknown SESSION_STORE %q", c.SessionStore))
	}
	return nil
}

// reader collects every missing or malformed key so one start-up failure
// reports them all.
type reader struct{ problems []string }

func (r *reader) must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		r.problems = append(r.problems, "missing required env var "+key)
	}
	return v
}

func (r *reader) str(key, def string) string { return envStr(key, def) }

func (r *reader) integer(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.problems = append(r.problems, fmt.Sprintf("invalid int for %s: %q", key, v))
		return def
	}
	return n
}

func (r *reader) ttl(key, def string) time.Duration {
	v := envStr(key, def)
	d, err := ParseTTL(v)
	if err != nil {
		r.problems = append(r.problems, fmt.Sprintf("invalid duration for %s: %q", key, v))
	}
	return d
}

func (r *reader) err() error {
	if len(r.problems) == 0 {
		return nil
	}
	return apperr.Configuration(strings.Join(r.problems, "; "))
}

// ParseTTL accepts Go durations ("15m", "1h30m") and whole days ("10d").
func ParseTTL(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
