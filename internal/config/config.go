package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Etcd      EtcdConfig      `mapstructure:"etcd"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

type ServerConfig struct {
	Environment string `mapstructure:"environment"`
	Port        string `mapstructure:"port"`
}

// StoreConfig selects the durable store. Driver is one of sqlite, mysql, postgres.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// RedisConfig is optional. An empty Addr keeps the response cache in the store
// and rate limiting in memory.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// EtcdConfig is optional. When endpoints are set the drain lock is an etcd mutex
// instead of a lease row in the store.
type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type RemoteConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	SalesPath   string        `mapstructure:"sales_path"`
	RestockPath string        `mapstructure:"restock_path"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type SyncConfig struct {
	WakeInterval time.Duration `mapstructure:"wake_interval"`
	MaxRetries   int           `mapstructure:"max_retries"`
	LeaseTTL     time.Duration `mapstructure:"lease_ttl"`
	LeaseName    string        `mapstructure:"lease_name"`
}

type CacheConfig struct {
	MaxAge time.Duration `mapstructure:"max_age"`
}

type StreamConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HubBufferSize     int           `mapstructure:"hub_buffer_size"`
	ReplayBufferSize  int           `mapstructure:"replay_buffer_size"`
}

// AuthConfig guards the coordinator. TerminalKey admits foreground contexts;
// JWTSecret verifies operator tokens for queue administration.
type AuthConfig struct {
	JWTSecret   string        `mapstructure:"jwt_secret"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
	TerminalKey string        `mapstructure:"terminal_key"`
	DevMode     bool          `mapstructure:"dev_mode"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `mapstructure:"requests_per_second"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", "dev")
	v.SetDefault("server.port", ":8080")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "file:tillsync.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("etcd.dial_timeout", 5*time.Second)
	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.sales_path", "/api/sales")
	v.SetDefault("remote.restock_path", "/api/products/%d/restock")
	v.SetDefault("remote.timeout", 15*time.Second)
	v.SetDefault("sync.wake_interval", 5*time.Minute)
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.lease_ttl", 2*time.Minute)
	v.SetDefault("sync.lease_name", "queue-drain")
	v.SetDefault("cache.max_age", 5*time.Minute)
	v.SetDefault("stream.heartbeat_interval", 15*time.Second)
	v.SetDefault("stream.hub_buffer_size", 256)
	v.SetDefault("stream.replay_buffer_size", 512)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 12*time.Hour)
	v.SetDefault("auth.terminal_key", "")
	v.SetDefault("auth.dev_mode", false)
	v.SetDefault("ratelimit.requests_per_second", 5)
}

func Load() *Config {
	// .env is optional, it only feeds the environment read below
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("TILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(err)
	}

	return &cfg
}
