package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string

	Server        ServerConfig
	Log           LogConfig
	Storage       StorageConfig
	Security      SecurityConfig
	Encryption    EncryptionConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Clickhouse    ClickhouseConfig
	Elasticsearch ElasticsearchConfig

	// Users is the seeded credential registry: username -> credentials.
	// There is no user database; accounts ship with the deployment.
	Users map[string]UserSeed
}

type ServerConfig struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

type StorageConfig struct {
	// Backend selects the persistence engine: local, redis, sqlite, scylla.
	Backend string
	// Path is the data file for the local and sqlite backends.
	Path string
	// Prefix namespaces every key before it reaches the backend.
	Prefix string
	// MaxBytes is the storage quota enforced by the local backend.
	MaxBytes int64
	// CompressThreshold is the serialized size above which records are gzipped.
	CompressThreshold int
	// EvictFraction of the oldest entries removed when the quota is hit.
	EvictFraction float64
	// EncryptRecords enables encryption-at-rest for stored records.
	EncryptRecords bool
}

type SecurityConfig struct {
	SessionTimeout    time.Duration
	InactivityTimeout time.Duration
	MaxLoginAttempts  int
	BaseLockout       time.Duration
	LockoutMultiplier int
	AttemptRetention  time.Duration
	// StaticSalt feeds per-session key derivation.
	StaticSalt string
	// LegacyKey decrypts session payloads written by older releases.
	LegacyKey string
	// Pepper feeds credential hashing.
	Pepper string
	// DeveloperKey unlocks the developer tenant.
	DeveloperKey string
	// DemoAttemptLimit caps demo logins per profile.
	DemoAttemptLimit int
}

type EncryptionConfig struct {
	Enabled    bool
	KMSEnabled bool
	KMSKeyID   string
	KMSRegion  string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Table    string
	Username string
	Password string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type ClickhouseConfig struct {
	URL      string
	Database string
	Table    string
	Username string
	Password string
}

type ElasticsearchConfig struct {
	URL      string
	Index    string
	Username string
	Password string
}

type UserSeed struct {
	Password    string
	Role        string
	CompanyCode string
}

var global *Config

// Load reads .env (if present) and the environment into a Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Port:           getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:    getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			AllowedOrigins: getEnvList("SERVER_ALLOWED_ORIGINS", []string{"https://*", "http://localhost:*"}),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Storage: StorageConfig{
			Backend:           getEnv("STORAGE_BACKEND", "local"),
			Path:              getEnv("STORAGE_PATH", "basira-data.json"),
			Prefix:            getEnv("STORAGE_PREFIX", "basira_"),
			MaxBytes:          getEnvInt64("STORAGE_MAX_BYTES", 5*1024*1024),
			CompressThreshold: getEnvInt("STORAGE_COMPRESS_THRESHOLD", 1024),
			EvictFraction:     getEnvFloat("STORAGE_EVICT_FRACTION", 0.25),
			EncryptRecords:    getEnvBool("STORAGE_ENCRYPT_RECORDS", true),
		},
		Security: SecurityConfig{
			SessionTimeout:    getEnvDuration("SECURITY_SESSION_TIMEOUT", 30*time.Minute),
			InactivityTimeout: getEnvDuration("SECURITY_INACTIVITY_TIMEOUT", 15*time.Minute),
			MaxLoginAttempts:  getEnvInt("SECURITY_MAX_LOGIN_ATTEMPTS", 3),
			BaseLockout:       getEnvDuration("SECURITY_BASE_LOCKOUT", 15*time.Minute),
			LockoutMultiplier: getEnvInt("SECURITY_LOCKOUT_MULTIPLIER", 10),
			AttemptRetention:  getEnvDuration("SECURITY_ATTEMPT_RETENTION", 24*time.Hour),
			StaticSalt:        getEnv("SECURITY_STATIC_SALT", "basira_session_salt"),
			LegacyKey:         getEnv("SECURITY_LEGACY_KEY", "basira_secret_key_2024"),
			Pepper:            getEnv("SECURITY_PEPPER", ""),
			DeveloperKey:      getEnv("SECURITY_DEVELOPER_KEY", ""),
			DemoAttemptLimit:  getEnvInt("SECURITY_DEMO_ATTEMPT_LIMIT", 10),
		},
		Encryption: EncryptionConfig{
			Enabled:    getEnvBool("ENCRYPTION_ENABLED", true),
			KMSEnabled: getEnvBool("KMS_ENABLED", false),
			KMSKeyID:   getEnv("KMS_KEY_ID", ""),
			KMSRegion:  getEnv("KMS_REGION", "eu-west-1"),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 20),
		},
		Scylla: ScyllaConfig{
			Nodes:    getEnvList("SCYLLA_NODES", nil),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "basira"),
			Table:    getEnv("SCYLLA_TABLE", "kv_records"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvList("KAFKA_BROKERS", nil),
			Topic:   getEnv("KAFKA_AUDIT_TOPIC", "basira-audit-events"),
		},
		Clickhouse: ClickhouseConfig{
			URL:      getEnv("CLICKHOUSE_URL", ""),
			Database: getEnv("CLICKHOUSE_DATABASE", "basira"),
			Table:    getEnv("CLICKHOUSE_AUDIT_TABLE", "audit_events"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:      getEnv("ELASTICSEARCH_URL", ""),
			Index:    getEnv("ELASTICSEARCH_AUDIT_INDEX", "basira-audit"),
			Username: getEnv("ELASTICSEARCH_USERNAME", ""),
			Password: getEnv("ELASTICSEARCH_PASSWORD", ""),
		},
		Users: parseUsers(getEnv("BASIRA_USERS", "admin:admin123:admin:BSR001")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	global = cfg
	return cfg, nil
}

// Get returns the last loaded config.
func Get() *Config {
	return global
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "local", "redis", "sqlite", "scylla":
	default:
		return fmt.Errorf("unknown storage backend: %s", c.Storage.Backend)
	}
	if c.Storage.EvictFraction <= 0 || c.Storage.EvictFraction >= 1 {
		return fmt.Errorf("storage evict fraction must be in (0,1), got %v", c.Storage.EvictFraction)
	}
	if c.Security.InactivityTimeout > c.Security.SessionTimeout {
		return fmt.Errorf("inactivity timeout must not exceed session timeout")
	}
	if c.Encryption.KMSEnabled && c.Encryption.KMSKeyID == "" {
		return fmt.Errorf("KMS_KEY_ID is required when KMS is enabled")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return !c.IsProduction()
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// parseUsers decodes "user:password:role:company" entries separated by commas.
func parseUsers(raw string) map[string]UserSeed {
	users := make(map[string]UserSeed)
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 4 || parts[0] == "" {
			continue
		}
		users[parts[0]] = UserSeed{
			Password:    parts[1],
			Role:        parts[2],
			CompanyCode: parts[3],
		}
	}
	return users
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
