package session

import "time"

// Supported event log stores.
const (
	StoreFile      = "file"
	StoreMemory    = "memory"
	StoreRedis     = "redis"
	StoreSQLite    = "sqlite"
	StoreFirestore = "firestore"
)

// Config holds event log configuration from YAML.
type Config struct {
	// Store specifies the backend type.
	// Options: "file", "memory", "redis", "sqlite", "firestore"
	// Default: "file"
	Store string `yaml:"store"`

	// BaseDir is the base directory for file-based storage.
	// Default: ~/.llminster/sessions
	BaseDir string `yaml:"base_dir"`

	Redis     RedisConfig     `yaml:"redis,omitempty"`
	SQLite    SQLiteConfig    `yaml:"sqlite,omitempty"`
	Firestore FirestoreConfig `yaml:"firestore,omitempty"`
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string `yaml:"addr"`
	// Password is the Redis password (optional).
	Password string `yaml:"password"`
	// DB is the Redis database number.
	DB int `yaml:"db"`
	// Prefix is the key prefix for all event log keys (default: "llminster:log:").
	Prefix string `yaml:"prefix"`
	// PoolSize is the connection pool size (default: 10).
	PoolSize int `yaml:"pool_size"`
	// DialTimeout bounds the initial ping (default: 5s).
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// SQLiteConfig holds SQLite configuration.
type SQLiteConfig struct {
	// Path is the database file. Default: ~/.llminster/sessions.db
	Path string `yaml:"path"`
}

// FirestoreConfig holds Firestore configuration.
type FirestoreConfig struct {
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
	// Collection is the top-level collection holding one document per session.
	// Default: "llminster_sessions"
	Collection string `yaml:"collection"`
}

// DefaultConfig returns the default event log configuration.
func DefaultConfig() Config {
	return Config{
		Store: StoreFile,
	}
}
