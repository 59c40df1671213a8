package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 애플리케이션 설정
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	JWT       JWTConfig       `yaml:"jwt"`
	CORS      CORSConfig      `yaml:"cors"`
	Presence  PresenceConfig  `yaml:"presence"`
	Messaging MessagingConfig `yaml:"messaging"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

// ServerConfig HTTP 서버 설정
type ServerConfig struct {
	Host            string `yaml:"host"`
	Mode            string `yaml:"mode"`
	LogLevel        string `yaml:"log_level"`
	Port            int    `yaml:"port"`
	ShutdownTimeout int    `yaml:"shutdown_timeout"` // seconds
}

// Addr returns host:port for http.Server
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig 메시지 저장소 설정. driver is mysql or sqlite.
type DatabaseConfig struct {
	Driver          string `yaml:"driver"`
	Host            string `yaml:"host"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	DBName          string `yaml:"dbname"`
	Path            string `yaml:"path"` // sqlite file, ":memory:" allowed
	Port            int    `yaml:"port"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // seconds
}

// IsSQLite reports whether the sqlite driver is selected
func (d DatabaseConfig) IsSQLite() bool {
	return d.Driver == "sqlite"
}

// GetDSN returns the driver specific data source name
func (d DatabaseConfig) GetDSN() string {
	if d.IsSQLite() {
		return d.Path
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		d.User, d.Password, d.Host, d.Port, d.DBName)
}

// RedisConfig Redis 설정. 비활성화 시 단일 인스턴스로 동작
type RedisConfig struct {
	Host     string `yaml:"host"`
	Password string `yaml:"password"`
	Enabled  bool   `yaml:"enabled"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// JWTConfig 토큰 설정
type JWTConfig struct {
	Secret    string `yaml:"secret"`
	ExpiresIn int    `yaml:"expires_in"` // seconds
}

// CORSConfig comma separated origins
type CORSConfig struct {
	AllowOrigins string `yaml:"allow_origins"`
}

// Origins splits AllowOrigins
func (c CORSConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// PresenceConfig 접속 상태 설정 (seconds)
type PresenceConfig struct {
	Timeout       int `yaml:"timeout"`
	CheckInterval int `yaml:"check_interval"`
}

// TimeoutDuration returns Timeout as a duration
func (p PresenceConfig) TimeoutDuration() time.Duration {
	return time.Duration(p.Timeout) * time.Second
}

// CheckIntervalDuration returns CheckInterval as a duration
func (p PresenceConfig) CheckIntervalDuration() time.Duration {
	return time.Duration(p.CheckInterval) * time.Second
}

// MessagingConfig 메시지 제한
type MessagingConfig struct {
	MaxContentLength    int `yaml:"max_content_length"`
	DefaultHistoryLimit int `yaml:"default_history_limit"`
	MaxHistoryLimit     int `yaml:"max_history_limit"`
	SendRatePerMinute   int `yaml:"send_rate_per_minute"`
}

// WebSocketConfig 웹소켓 설정
type WebSocketConfig struct {
	ReadBufferSize     int `yaml:"read_buffer_size"`
	WriteBufferSize    int `yaml:"write_buffer_size"`
	SubscriptionBuffer int `yaml:"subscription_buffer"`
	HeartbeatInterval  int `yaml:"heartbeat_interval"` // seconds, advertised to clients
}

// Load reads a YAML config file. ${VAR} references are expanded from the
// environment before parsing, then env overrides and defaults are applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setInt(&cfg.Server.Port, "SERVER_PORT")
	setString(&cfg.Server.LogLevel, "LOG_LEVEL")
	setString(&cfg.Database.Driver, "DB_DRIVER")
	setString(&cfg.Database.Host, "DB_HOST")
	setInt(&cfg.Database.Port, "DB_PORT")
	setString(&cfg.Database.User, "DB_USER")
	setString(&cfg.Database.Password, "DB_PASSWORD")
	setString(&cfg.Database.DBName, "DB_NAME")
	setString(&cfg.Database.Path, "DB_PATH")
	setString(&cfg.Redis.Host, "REDIS_HOST")
	setInt(&cfg.Redis.Port, "REDIS_PORT")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.JWT.Secret, "JWT_SECRET")
	setString(&cfg.CORS.AllowOrigins, "CORS_ALLOW_ORIGINS")
	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Redis.Enabled = b
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 10
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "mysql"
	}
	if cfg.Database.MaxIdleConns <= 0 {
		cfg.Database.MaxIdleConns = 10
	}
	if cfg.Database.MaxOpenConns <= 0 {
		cfg.Database.MaxOpenConns = 50
	}
	if cfg.Database.ConnMaxLifetime <= 0 {
		cfg.Database.ConnMaxLifetime = 300
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.PoolSize <= 0 {
		cfg.Redis.PoolSize = 10
	}
	if cfg.JWT.ExpiresIn <= 0 {
		cfg.JWT.ExpiresIn = 3600
	}
	if cfg.Presence.Timeout <= 0 {
		cfg.Presence.Timeout = 90
	}
	if cfg.Presence.CheckInterval <= 0 {
		cfg.Presence.CheckInterval = 30
	}
	if cfg.Messaging.MaxContentLength <= 0 {
		cfg.Messaging.MaxContentLength = 2000
	}
	if cfg.Messaging.DefaultHistoryLimit <= 0 {
		cfg.Messaging.DefaultHistoryLimit = 50
	}
	if cfg.Messaging.MaxHistoryLimit <= 0 {
		cfg.Messaging.MaxHistoryLimit = 200
	}
	if cfg.Messaging.SendRatePerMinute <= 0 {
		cfg.Messaging.SendRatePerMinute = 60
	}
	if cfg.WebSocket.ReadBufferSize <= 0 {
		cfg.WebSocket.ReadBufferSize = 1024
	}
	if cfg.WebSocket.WriteBufferSize <= 0 {
		cfg.WebSocket.WriteBufferSize = 1024
	}
	if cfg.WebSocket.SubscriptionBuffer <= 0 {
		cfg.WebSocket.SubscriptionBuffer = 64
	}
	if cfg.WebSocket.HeartbeatInterval <= 0 {
		cfg.WebSocket.HeartbeatInterval = 30
	}
}

// Validate rejects configurations the process cannot start with
func (c *Config) Validate() error {
	var errs []error

	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret is required"))
	}
	switch c.Database.Driver {
	case "mysql":
		if c.Database.Host == "" || c.Database.DBName == "" {
			errs = append(errs, errors.New("database.host and database.dbname are required for mysql"))
		}
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported database.driver %q", c.Database.Driver))
	}
	if c.Redis.Enabled && c.Redis.Host == "" {
		errs = append(errs, errors.New("redis.host is required when redis is enabled"))
	}
	if c.Presence.CheckInterval > c.Presence.Timeout {
		errs = append(errs, errors.New("presence.check_interval must not exceed presence.timeout"))
	}
	if c.Messaging.DefaultHistoryLimit > c.Messaging.MaxHistoryLimit {
		errs = append(errs, errors.New("messaging.default_history_limit must not exceed messaging.max_history_limit"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
