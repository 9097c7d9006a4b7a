package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Voting   VotingConfig   `mapstructure:"voting"`
}

type ServerConfig struct {
	Address     string `mapstructure:"address"`
	HTTPPort    string `mapstructure:"http_port"`
	DebugRoutes bool   `mapstructure:"debug_routes"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // postgres | mysql | sqlite
	DSN    string `mapstructure:"dsn"`
	LogSQL bool   `mapstructure:"log_sql"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text | json
	File   string `mapstructure:"file"`   // файл или каталог (с "/") для per-boot лога
}

type MQTTConfig struct {
	BrokerURL      string        `mapstructure:"broker_url"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	QoS            byte          `mapstructure:"qos"`
	KeepAlive      time.Duration `mapstructure:"keep_alive"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// RedisConfig — пустой Addr отключает кэш.
type RedisConfig struct {
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

type VotingConfig struct {
	MessageTimeout time.Duration `mapstructure:"message_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.http_port", "5000")
	v.SetDefault("server.debug_routes", false)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "espvote.db")
	v.SetDefault("database.log_sql", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")

	v.SetDefault("mqtt.broker_url", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "espvote-server")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.keep_alive", 10*time.Second)
	v.SetDefault("mqtt.connect_timeout", 10*time.Second)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.refresh_interval", 10*time.Second)

	v.SetDefault("voting.message_timeout", 5*time.Second)
}

// Flags описывает CLI-флаги; имена совпадают с ключами конфига.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("espvote", pflag.ContinueOnError)
	fs.StringP("config", "c", "", "path to config file (yaml/toml/json)")
	fs.String("server.http_port", "", "HTTP port")
	fs.String("database.driver", "", "database driver: postgres | mysql | sqlite")
	fs.String("database.dsn", "", "database DSN")
	fs.String("mqtt.broker_url", "", "MQTT broker URL")
	fs.String("logging.level", "", "log level")
	fs.Bool("server.debug_routes", false, "enable /debug routes")
	return fs
}

// Load собирает конфиг: defaults → файл → ENV (ESPVOTE_*) → флаги.
func Load(args []string) (*Config, error) {
	fs := Flags()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ESPVOTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, _ := fs.GetString("config")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	// только явно заданные флаги перекрывают остальное
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || !f.Changed {
			return
		}
		_ = v.BindPFlag(f.Name, f)
	})

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.Voting.MessageTimeout <= 0 {
		return fmt.Errorf("voting.message_timeout must be positive")
	}
	return nil
}
