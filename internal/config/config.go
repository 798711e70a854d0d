package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr      string `yaml:"http_addr"`
	JWTSecret string `yaml:"jwt_secret"`
	PublicURL string `yaml:"public_url"`

	DBDriver    string `yaml:"db_driver"`
	SQLITEDsn   string `yaml:"sqlite_dsn"`
	PostgresDsn string `yaml:"postgres_dsn"`
	AutoMigrate bool   `yaml:"auto_migrate"`
	NodeID      int64  `yaml:"node_id"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ReadWatchInterval time.Duration `yaml:"read_watch_interval"`
	SubBuffer         int           `yaml:"sub_buffer"`
	SendRate          float64       `yaml:"send_rate"`
	SendBurst         int           `yaml:"send_burst"`

	// empty keeps presence in memory
	RedisAddr string `yaml:"redis_addr"`

	UploadDir      string `yaml:"upload_dir"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`

	RetentionSchedule string        `yaml:"retention_schedule"`
	EventRetention    time.Duration `yaml:"event_retention"`
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val != "" {
		return val
	}
	return def
}

func getint(key string, def int64) int64 {
	v, err := strconv.ParseInt(getenv(key, ""), 10, 64)
	if err != nil {
		return def
	}
	return v
}

func getfloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(getenv(key, ""), 64)
	if err != nil {
		return def
	}
	return v
}

func getbool(key string, def bool) bool {
	v, err := strconv.ParseBool(getenv(key, ""))
	if err != nil {
		return def
	}
	return v
}

func getduration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(getenv(key, ""))
	if err != nil {
		return def
	}
	return v
}

// Defaults is the configuration used when neither a file nor the
// environment says otherwise.
func Defaults() Config {
	return Config{
		Addr:              ":8080",
		PublicURL:         "http://localhost:8080",
		DBDriver:          "sqlite",
		SQLITEDsn:         "file:chat.db?_pragma=foreign_keys(ON)",
		AutoMigrate:       true,
		NodeID:            1,
		LogLevel:          "info",
		LogFormat:         "text",
		ReadWatchInterval: 3 * time.Second,
		SubBuffer:         256,
		SendRate:          5,
		SendBurst:         10,
		UploadDir:         "uploads",
		MaxUploadBytes:    10 << 20,
		RetentionSchedule: "0 * * * *",
		EventRetention:    72 * time.Hour,
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE (if any), then environment variables.
func Load() (Config, error) {
	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.Addr = getenv("HTTP_ADDR", cfg.Addr)
	cfg.JWTSecret = getenv("JWT_SECRET", cfg.JWTSecret)
	cfg.PublicURL = getenv("PUBLIC_URL", cfg.PublicURL)
	cfg.DBDriver = getenv("DB_DRIVER", cfg.DBDriver)
	cfg.SQLITEDsn = getenv("SQLITE_DSN", cfg.SQLITEDsn)
	cfg.PostgresDsn = getenv("POSTGRES_DSN", cfg.PostgresDsn)
	cfg.AutoMigrate = getbool("AUTO_MIGRATE", cfg.AutoMigrate)
	cfg.NodeID = getint("NODE_ID", cfg.NodeID)
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenv("LOG_FORMAT", cfg.LogFormat)
	cfg.ReadWatchInterval = getduration("READ_WATCH_INTERVAL", cfg.ReadWatchInterval)
	cfg.SubBuffer = int(getint("SUB_BUFFER", int64(cfg.SubBuffer)))
	cfg.SendRate = getfloat("SEND_RATE", cfg.SendRate)
	cfg.SendBurst = int(getint("SEND_BURST", int64(cfg.SendBurst)))
	cfg.RedisAddr = getenv("REDIS_ADDR", cfg.RedisAddr)
	cfg.UploadDir = getenv("UPLOAD_DIR", cfg.UploadDir)
	cfg.MaxUploadBytes = getint("MAX_UPLOAD_BYTES", cfg.MaxUploadBytes)
	cfg.RetentionSchedule = getenv("RETENTION_SCHEDULE", cfg.RetentionSchedule)
	cfg.EventRetention = getduration("EVENT_RETENTION", cfg.EventRetention)

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	switch c.DBDriver {
	case "sqlite":
	case "postgres":
		if c.PostgresDsn == "" {
			return fmt.Errorf("POSTGRES_DSN is required when DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver)
	}
	if c.ReadWatchInterval <= 0 {
		return fmt.Errorf("READ_WATCH_INTERVAL must be positive")
	}
	if c.SubBuffer <= 0 {
		return fmt.Errorf("SUB_BUFFER must be positive")
	}
	return nil
}

// MustLoad is Load for main: it panics on an invalid configuration.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
