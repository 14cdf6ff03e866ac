package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Directory struct {
	Backend       string        `mapstructure:"backend"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	PostgresDSN   string        `mapstructure:"postgres_dsn"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type Config struct {
	Mode     string `mapstructure:"mode"`
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`

	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	SendBuffer int           `mapstructure:"send_buffer"`

	Secret            string        `mapstructure:"secret"`
	JWTSecret         string        `mapstructure:"jwt_secret"`
	JWTPreviousSecret string        `mapstructure:"jwt_previous_secret"`
	JWTLeeway         time.Duration `mapstructure:"jwt_leeway"`
	AuthTimeout       time.Duration `mapstructure:"auth_timeout"`

	Directory Directory `mapstructure:"directory"`

	SlowConsumer       string        `mapstructure:"slow_consumer"`
	CreateRateLimit    int           `mapstructure:"create_rate_limit"`
	CreateRateInterval time.Duration `mapstructure:"create_rate_interval"`

	ICEServers []ICEServer `mapstructure:"ice_servers"`
}

var (
	ErrMissingJWTSecret = errors.New("jwt_secret is required")
	ErrUnknownBackend   = errors.New("unknown directory backend")
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("secret", "")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("jwt_previous_secret", "")
	v.SetDefault("jwt_leeway", "30s")
	v.SetDefault("auth_timeout", "5s")
	v.SetDefault("directory.backend", "memory")
	v.SetDefault("directory.redis_addr", "localhost:6379")
	v.SetDefault("directory.redis_password", "")
	v.SetDefault("directory.redis_db", 0)
	v.SetDefault("directory.postgres_dsn", "")
	v.SetDefault("directory.timeout", "2s")
	v.SetDefault("slow_consumer", "drop")
	v.SetDefault("create_rate_limit", 5)
	v.SetDefault("create_rate_interval", "1m")
	v.SetDefault("ice_servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	})
}

// Load reads config/config.<CONFIG_ENV>.yaml and lets MEET_* variables
// override any key, e.g. MEET_DIRECTORY_BACKEND.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("MEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("directory", cfg.Directory.Backend).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	switch c.Directory.Backend {
	case "memory", "redis":
	case "postgres":
		if c.Directory.PostgresDSN == "" {
			return errors.New("directory.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Directory.Backend)
	}
	switch c.SlowConsumer {
	case "", "drop", "kick":
	default:
		return fmt.Errorf("unknown slow_consumer %q", c.SlowConsumer)
	}
	return nil
}
