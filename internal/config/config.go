package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix                = "KUMI"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultLogLevel          = "info"
	defaultDatabaseDriver    = "sqlite"
	defaultDatabaseDSN       = "chartsets.db"
	defaultAuthIssuer        = "kumi"
	defaultAuthAudience      = "kumi-chartsets"
	defaultTokenTTLMinutes   = 60
	defaultBlobDriver        = "filesystem"
	defaultBlobRoot          = "data/blobs"
	defaultS3Region          = "us-east-1"
	defaultSearchIndex       = "chartsets"
	defaultFFmpegPath        = "ffmpeg"
	defaultFFprobePath       = "ffprobe"
	defaultUploadMaxBytes    = 64 << 20
	defaultNominatorsNeeded  = 2
	defaultRankDelay         = 72 * time.Hour
	defaultQueueInterval     = time.Second
	databaseDriverSQLite     = "sqlite"
	databaseDriverPostgres   = "postgres"
	dotenvFileName           = ".env"
	dotenvLocalFileName      = ".env.local"
	requiredKeyFormatMessage = "%s is required"
)

// Blob store drivers accepted by blob.driver.
const (
	BlobDriverMemory     = "memory"
	BlobDriverFilesystem = "filesystem"
	BlobDriverS3         = "s3"
)

// S3Config locates the bucket used when blob.driver is s3.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// SearchConfig locates the Meilisearch instance. An empty URL disables indexing.
type SearchConfig struct {
	URL    string
	APIKey string
	Index  string
}

// MediaConfig locates ffmpeg, ffprobe and the scratch directory.
type MediaConfig struct {
	FFmpegPath  string
	FFprobePath string
	ScratchDir  string
}

// NominationConfig tunes the nomination quorum and the ranking queue.
type NominationConfig struct {
	Required      int
	RankDelay     time.Duration
	QueueInterval time.Duration
}

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	LogLevel       string
	DatabaseDriver string
	DatabaseDSN    string
	SigningSecret  string
	TokenIssuer    string
	TokenAudience  string
	TokenTTL       time.Duration
	BlobDriver     string
	BlobRoot       string
	S3             S3Config
	Search         SearchConfig
	NATSURL        string
	Media          MediaConfig
	UploadMaxBytes int64
	Nomination     NominationConfig
	TracingEnabled bool
}

// LoadDotenv reads .env and .env.local from the working directory when they
// exist. Variables already present in the environment win.
func LoadDotenv() error {
	for _, name := range []string{dotenvFileName, dotenvLocalFileName} {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			return fmt.Errorf("load %s: %w", name, err)
		}
	}
	return nil
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
	configViper.SetDefault("auth.audience", defaultAuthAudience)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("blob.driver", defaultBlobDriver)
	configViper.SetDefault("blob.root", defaultBlobRoot)
	configViper.SetDefault("s3.region", defaultS3Region)
	configViper.SetDefault("search.index", defaultSearchIndex)
	configViper.SetDefault("media.ffmpeg_path", defaultFFmpegPath)
	configViper.SetDefault("media.ffprobe_path", defaultFFprobePath)
	configViper.SetDefault("media.scratch_dir", os.TempDir())
	configViper.SetDefault("upload.max_bytes", defaultUploadMaxBytes)
	configViper.SetDefault("nomination.required", defaultNominatorsNeeded)
	configViper.SetDefault("nomination.rank_delay", defaultRankDelay)
	configViper.SetDefault("nomination.queue_interval", defaultQueueInterval)
	configViper.SetDefault("telemetry.tracing", false)

	// AutomaticEnv only answers Get for keys viper already knows about.
	for _, key := range []string{"auth.signing_secret", "s3.endpoint", "s3.bucket", "s3.access_key", "s3.secret_key", "search.url", "search.api_key", "nats.url"} {
		_ = configViper.BindEnv(key)
	}
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		LogLevel:       configViper.GetString("log.level"),
		DatabaseDriver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:    configViper.GetString("database.dsn"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		TokenIssuer:    configViper.GetString("auth.issuer"),
		TokenAudience:  configViper.GetString("auth.audience"),
		TokenTTL:       time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		BlobDriver:     strings.ToLower(strings.TrimSpace(configViper.GetString("blob.driver"))),
		BlobRoot:       configViper.GetString("blob.root"),
		S3: S3Config{
			Endpoint:  configViper.GetString("s3.endpoint"),
			Region:    configViper.GetString("s3.region"),
			Bucket:    configViper.GetString("s3.bucket"),
			AccessKey: configViper.GetString("s3.access_key"),
			SecretKey: configViper.GetString("s3.secret_key"),
		},
		Search: SearchConfig{
			URL:    configViper.GetString("search.url"),
			APIKey: configViper.GetString("search.api_key"),
			Index:  configViper.GetString("search.index"),
		},
		NATSURL: configViper.GetString("nats.url"),
		Media: MediaConfig{
			FFmpegPath:  configViper.GetString("media.ffmpeg_path"),
			FFprobePath: configViper.GetString("media.ffprobe_path"),
			ScratchDir:  configViper.GetString("media.scratch_dir"),
		},
		UploadMaxBytes: configViper.GetInt64("upload.max_bytes"),
		Nomination: NominationConfig{
			Required:      configViper.GetInt("nomination.required"),
			RankDelay:     configViper.GetDuration("nomination.rank_delay"),
			QueueInterval: configViper.GetDuration("nomination.queue_interval"),
		},
		TracingEnabled: configViper.GetBool("telemetry.tracing"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf(requiredKeyFormatMessage, "auth.signing_secret")
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf(requiredKeyFormatMessage, "database.dsn")
	}
	switch c.DatabaseDriver {
	case databaseDriverSQLite, databaseDriverPostgres:
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	switch c.BlobDriver {
	case BlobDriverMemory:
	case BlobDriverFilesystem:
		if strings.TrimSpace(c.BlobRoot) == "" {
			return fmt.Errorf(requiredKeyFormatMessage, "blob.root")
		}
	case BlobDriverS3:
		if strings.TrimSpace(c.S3.Bucket) == "" {
			return fmt.Errorf(requiredKeyFormatMessage, "s3.bucket")
		}
	default:
		return fmt.Errorf("blob.driver %q is not supported", c.BlobDriver)
	}
	if c.UploadMaxBytes <= 0 {
		return fmt.Errorf("upload.max_bytes must be positive")
	}
	if c.Nomination.Required <= 0 {
		return fmt.Errorf("nomination.required must be positive")
	}
	if c.Nomination.RankDelay < 0 {
		return fmt.Errorf("nomination.rank_delay must not be negative")
	}
	if c.Nomination.QueueInterval <= 0 {
		return fmt.Errorf("nomination.queue_interval must be positive")
	}
	return nil
}
