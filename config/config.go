package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. RACEBOT_SERVER_HTTP_ADDRESS.
const EnvPrefix = "RACEBOT"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Sessions  SessionsConfig  `mapstructure:"sessions"`
	Log       LogConfig       `mapstructure:"log"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

type ServerConfig struct {
	HTTPAddress string        `mapstructure:"http_address"`
	RPCAddress  string        `mapstructure:"rpc_address"`
	Heartbeat   time.Duration `mapstructure:"heartbeat"`
}

// 存储驱动
const (
	DriverGorm     = "gorm"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type DatabaseConfig struct {
	// Driver selects the record store: "gorm" (postgres through gorm), "postgres",
	// "sqlite" or "memory" (lost on exit).
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type CatalogConfig struct {
	CSVPath     string            `mapstructure:"csv_path"`
	RaceIconDir string            `mapstructure:"race_icon_dir"`
	Images      ImageLookupConfig `mapstructure:"images"`
}

type ImageLookupConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	UserAgent      string        `mapstructure:"user_agent"`
	RatePerSecond  float64       `mapstructure:"rate_per_second"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	FandomURL      string        `mapstructure:"fandom_url"`
	WikipediaURL   string        `mapstructure:"wikipedia_url"`
}

type SessionsConfig struct {
	PickerIdleTimeout time.Duration `mapstructure:"picker_idle_timeout"`
	ControlTimeout    time.Duration `mapstructure:"control_timeout"`
	TimerResolution   time.Duration `mapstructure:"timer_resolution"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type DashboardConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DSN builds a lib/pq style connection string.
func (p PostgresConfig) DSN() string {
	sslmode := p.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, sslmode)
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.http_address", ":8080")
	v.SetDefault("server.rpc_address", "127.0.0.1:8081")
	v.SetDefault("server.heartbeat", 30*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "racebot")
	v.SetDefault("database.postgres.dbname", "racebot")
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.sqlite.path", "racebot.db")

	v.SetDefault("catalog.csv_path", "output.csv")
	v.SetDefault("catalog.race_icon_dir", "media/races")
	v.SetDefault("catalog.images.enabled", true)
	v.SetDefault("catalog.images.user_agent", "racebot/1.0 (contact: discord bot)")
	v.SetDefault("catalog.images.rate_per_second", 2.0)
	v.SetDefault("catalog.images.request_timeout", 10*time.Second)
	v.SetDefault("catalog.images.fandom_url", "https://forza.fandom.com/api.php")
	v.SetDefault("catalog.images.wikipedia_url", "https://en.wikipedia.org/w/api.php")

	v.SetDefault("sessions.picker_idle_timeout", 5*time.Minute)
	v.SetDefault("sessions.control_timeout", time.Hour)
	v.SetDefault("sessions.timer_resolution", 100*time.Millisecond)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("dashboard.allowed_origins", []string{"http://localhost:5173"})
}

// LoadConfig reads config.yaml from path (a directory) or, when file is set, that file.
// A missing config file is not an error; defaults and environment still apply.
func LoadConfig(v *viper.Viper, path, file string) (*Config, error) {
	SetDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(path)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || file != "" {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	return &config, nil
}
