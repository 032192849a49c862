package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"

	"wardwatch/internal/util"
)

// Config holds all runtime configuration for the gateway, grouped by concern
type Config struct {
	Environment string
	Server      ServerConfig
	Upstream    UpstreamConfig
	Monitor     MonitorConfig
	Auth        AuthConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Clickhouse  ClickhouseConfig
	Elastic     ElasticConfig
	Bucketing   BucketingConfig
	Identity    IdentityConfig
	Logging     LoggingConfig
}

type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	CORSOrigins  []string
}

// UpstreamConfig points at the video-analysis backend that owns the
// CCTV registry, bed assignments and the event stream
type UpstreamConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	StreamPath     string
}

type MonitorConfig struct {
	PollInterval     time.Duration
	SnapshotLimit    int
	RecentBufferSize int
	ReconnectMin     time.Duration
	ReconnectMax     time.Duration
}

type AuthConfig struct {
	SessionTTL    time.Duration
	LocalUsers    bool
	AdminUser     string
	AdminPassHash string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type KafkaConfig struct {
	Enabled    bool
	Brokers    []string
	AuditTopic string
}

type ClickhouseConfig struct {
	Enabled  bool
	URL      string
	Database string
	Username string
	Password string
}

type ElasticConfig struct {
	Enabled     bool
	URL         string
	Username    string
	Password    string
	IndexPrefix string
}

type BucketingConfig struct {
	DeviceBuckets int
}

// IdentityConfig carries the static fallback mapping tables. When
// FetchFromUpstream is set the tables are fetched once per session and
// cached; otherwise these lists are authoritative.
type IdentityConfig struct {
	FetchFromUpstream bool
	CCTVIDs           []string
	BedPairs          []string // "cctv_id:bed_id", order defines patient number
	CacheTTL          time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig reads configuration from the environment (.env supported)
func LoadConfig() *Config {
	// Missing .env is fine in containers; env vars win either way
	_ = godotenv.Load()

	return &Config{
		Environment: util.GetEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:         util.GetEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  util.GetEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: util.GetEnvDuration("SERVER_WRITE_TIMEOUT", 0), // 0: SSE responses must not be cut off
			IdleTimeout:  util.GetEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			CORSOrigins:  util.GetEnvList("CORS_ORIGINS", []string{"http://localhost:3000"}),
		},
		Upstream: UpstreamConfig{
			BaseURL:        util.GetEnv("UPSTREAM_BASE_URL", "http://210.94.242.37:7420"),
			RequestTimeout: util.GetEnvDuration("UPSTREAM_TIMEOUT", 15*time.Second),
			StreamPath:     util.GetEnv("UPSTREAM_STREAM_PATH", "/api/v1/events/stream"),
		},
		Monitor: MonitorConfig{
			PollInterval:     util.GetEnvDuration("POLL_INTERVAL", 10*time.Second),
			SnapshotLimit:    util.GetEnvInt("SNAPSHOT_LIMIT", 100),
			RecentBufferSize: util.GetEnvInt("RECENT_BUFFER_SIZE", 50),
			ReconnectMin:     util.GetEnvDuration("STREAM_RECONNECT_MIN", time.Second),
			ReconnectMax:     util.GetEnvDuration("STREAM_RECONNECT_MAX", 30*time.Second),
		},
		Auth: AuthConfig{
			SessionTTL:    util.GetEnvDuration("SESSION_TTL", 12*time.Hour),
			LocalUsers:    util.GetEnvBool("AUTH_LOCAL_USERS", false),
			AdminUser:     util.GetEnv("AUTH_ADMIN_USER", "admin"),
			AdminPassHash: util.GetEnv("AUTH_ADMIN_PASS_HASH", ""),
		},
		Redis: RedisConfig{
			URL:      util.GetEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password: util.GetEnv("REDIS_PASSWORD", ""),
			DB:       util.GetEnvInt("REDIS_DB", 0),
			PoolSize: util.GetEnvInt("REDIS_POOL_SIZE", 20),
		},
		Kafka: KafkaConfig{
			Enabled:    util.GetEnvBool("KAFKA_ENABLED", false),
			Brokers:    util.GetEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			AuditTopic: util.GetEnv("KAFKA_AUDIT_TOPIC", "wardwatch.events.audit"),
		},
		Clickhouse: ClickhouseConfig{
			Enabled:  util.GetEnvBool("CLICKHOUSE_ENABLED", false),
			URL:      util.GetEnv("CLICKHOUSE_URL", "localhost:9000"),
			Database: util.GetEnv("CLICKHOUSE_DB", "wardwatch"),
			Username: util.GetEnv("CLICKHOUSE_USER", "default"),
			Password: util.GetEnv("CLICKHOUSE_PASSWORD", ""),
		},
		Elastic: ElasticConfig{
			Enabled:     util.GetEnvBool("ELASTIC_ENABLED", false),
			URL:         util.GetEnv("ELASTIC_URL", "http://localhost:9200"),
			Username:    util.GetEnv("ELASTIC_USER", ""),
			Password:    util.GetEnv("ELASTIC_PASSWORD", ""),
			IndexPrefix: util.GetEnv("ELASTIC_INDEX_PREFIX", "wardwatch-events"),
		},
		Bucketing: BucketingConfig{
			DeviceBuckets: util.GetEnvInt("DEVICE_BUCKETS", 4),
		},
		Identity: IdentityConfig{
			FetchFromUpstream: util.GetEnvBool("IDENTITY_FETCH_UPSTREAM", false),
			CCTVIDs:           util.GetEnvList("IDENTITY_CCTV_IDS", defaultCCTVIDs),
			BedPairs:          util.GetEnvList("IDENTITY_BED_PAIRS", defaultBedPairs),
			CacheTTL:          util.GetEnvDuration("IDENTITY_CACHE_TTL", 12*time.Hour),
		},
		Logging: LoggingConfig{
			Level:  util.GetEnv("LOG_LEVEL", "info"),
			Format: util.GetEnv("LOG_FORMAT", "console"),
		},
	}
}

// Known device/bed layout of the pilot ward, used when the upstream
// registry is not consulted. Order matters: it defines the CCTV and
// patient ordinals shown on the dashboard.
var defaultCCTVIDs = []string{
	"6853abdea8c3d423cecc84da",
	"68639825d1f07bb25c82dee7",
	"6863982ed1f07bb25c82dee8",
	"68639835d1f07bb25c82dee9",
}

var defaultBedPairs = []string{
	"6853abdea8c3d423cecc84da:686b71865604c6f0fde56b24",
	"6853abdea8c3d423cecc84da:686b71865604c6f0fde56b25",
	"68639825d1f07bb25c82dee7:686b7193592328e4e9341948",
	"68639825d1f07bb25c82dee7:686b7193592328e4e9341949",
	"6863982ed1f07bb25c82dee8:686b719d592328e4e934194a",
	"6863982ed1f07bb25c82dee8:686b719d592328e4e934194b",
	"68639835d1f07bb25c82dee9:686b71a698efe5b5af48f741",
	"68639835d1f07bb25c82dee9:686b71a698efe5b5af48f742",
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
