package runtime

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/szaher/designs/listingmock/internal/artifact"
	"github.com/szaher/designs/listingmock/internal/auth"
)

// Artifact and session backends.
const (
	BackendLocal  = "local"
	BackendS3     = "s3"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds everything needed to run the mock backend. The zero value
// is not usable; start from DefaultConfig.
type Config struct {
	Addr string

	// TempDir is the parent of the upload directory; empty means os.TempDir.
	TempDir         string
	TempPrefix      string
	ArtifactBackend string
	S3              artifact.S3Config

	// Zero means unlimited.
	MaxUploadBytes int64
	MaxFiles       int
	UploadRate     auth.RateLimitConfig

	StrictOrder    bool
	SessionBackend string
	SessionTTL     time.Duration
	RedisURL       string

	FixturesFile  string
	WatchFixtures bool
	ItemRules     []string
	CORSOrigins   []string

	ShutdownGrace time.Duration
	LogLevel      string
	LogFormat     string
}

// DefaultConfig reproduces the reference mock: port 3000, no limits, loose
// ordering, uploads under the system temp directory, built-in fixtures.
func DefaultConfig() *Config {
	return &Config{
		Addr:            ":3000",
		TempPrefix:      artifact.DefaultPrefix,
		ArtifactBackend: BackendLocal,
		S3:              artifact.S3Config{Region: "us-east-1", PathStyle: true},
		SessionBackend:  BackendMemory,
		SessionTTL:      24 * time.Hour,
		WatchFixtures:   true,
		ShutdownGrace:   5 * time.Second,
		LogLevel:        "info",
		LogFormat:       "json",
	}
}

// LoadDotEnv loads variables from path into the process environment
// without overriding ones already set. An empty path reads nothing and a
// missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from LISTINGMOCK_* environment variables.
func (c *Config) ApplyEnv() error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv("LISTINGMOCK_" + name); ok {
			*dst = v
		}
	}
	var errs []string
	parse := func(name string, fn func(string) error) {
		if v, ok := os.LookupEnv("LISTINGMOCK_" + name); ok && v != "" {
			if err := fn(v); err != nil {
				errs = append(errs, fmt.Sprintf("LISTINGMOCK_%s: %v", name, err))
			}
		}
	}

	str("ADDR", &c.Addr)
	str("TEMP_DIR", &c.TempDir)
	str("TEMP_PREFIX", &c.TempPrefix)
	str("ARTIFACT_BACKEND", &c.ArtifactBackend)
	str("S3_ENDPOINT", &c.S3.Endpoint)
	str("S3_REGION", &c.S3.Region)
	str("S3_ACCESS_KEY", &c.S3.AccessKey)
	str("S3_SECRET_KEY", &c.S3.SecretKey)
	str("S3_BUCKET", &c.S3.Bucket)
	str("SESSION_BACKEND", &c.SessionBackend)
	str("REDIS_URL", &c.RedisURL)
	str("FIXTURES", &c.FixturesFile)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)

	parse("S3_PATH_STYLE", func(v string) (err error) {
		c.S3.PathStyle, err = strconv.ParseBool(v)
		return err
	})
	parse("MAX_UPLOAD_BYTES", func(v string) (err error) {
		c.MaxUploadBytes, err = strconv.ParseInt(v, 10, 64)
		return err
	})
	parse("MAX_FILES", func(v string) (err error) {
		c.MaxFiles, err = strconv.Atoi(v)
		return err
	})
	parse("STRICT_ORDER", func(v string) (err error) {
		c.StrictOrder, err = strconv.ParseBool(v)
		return err
	})
	parse("WATCH_FIXTURES", func(v string) (err error) {
		c.WatchFixtures, err = strconv.ParseBool(v)
		return err
	})
	parse("SESSION_TTL", func(v string) (err error) {
		c.SessionTTL, err = time.ParseDuration(v)
		return err
	})
	parse("SHUTDOWN_GRACE", func(v string) (err error) {
		c.ShutdownGrace, err = time.ParseDuration(v)
		return err
	})
	parse("ITEM_RULES", func(v string) error {
		c.ItemRules = splitList(v, ";")
		return nil
	})
	parse("CORS_ORIGINS", func(v string) error {
		c.CORSOrigins = splitList(v, ",")
		return nil
	})
	c.UploadRate = auth.RateLimitConfigFromEnv(c.UploadRate)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	switch c.ArtifactBackend {
	case BackendLocal:
	case BackendS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("artifact backend %q requires a bucket", BackendS3)
		}
	default:
		return fmt.Errorf("unknown artifact backend %q", c.ArtifactBackend)
	}

	switch c.SessionBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("session backend %q requires a redis URL", BackendRedis)
		}
	default:
		return fmt.Errorf("unknown session backend %q", c.SessionBackend)
	}

	if c.MaxUploadBytes < 0 || c.MaxFiles < 0 {
		return fmt.Errorf("upload limits must not be negative")
	}
	if c.UploadRate.RequestsPerSecond < 0 {
		return fmt.Errorf("upload rate must not be negative")
	}
	if c.ShutdownGrace < 0 {
		return fmt.Errorf("shutdown grace must not be negative")
	}
	return nil
}

func splitList(v, sep string) []string {
	var out []string
	for _, part := range strings.Split(v, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
