package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Platform PlatformConfig `mapstructure:"platform"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PlatformConfig points at the trading-data platform's task API.
type PlatformConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	WSBaseURL string        `mapstructure:"ws_base_url"`
	APIKey    string        `mapstructure:"api_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// MonitorConfig carries the timing knobs of the monitoring core.
type MonitorConfig struct {
	ConnectGrace     time.Duration `mapstructure:"connect_grace"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	RegistryInterval time.Duration `mapstructure:"registry_interval"`
	CompletionDelay  time.Duration `mapstructure:"completion_delay"`
	ReconnectBase    time.Duration `mapstructure:"reconnect_base"`
	ReconnectMax     time.Duration `mapstructure:"reconnect_max"`
	MaxReconnects    int           `mapstructure:"max_reconnects"`
	HistoryLimit     int           `mapstructure:"history_limit"`
}

type LoggerConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

type AuthConfig struct {
	AdminAPIKey    string   `mapstructure:"admin_api_key"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.SetEnvPrefix("TRADEDECK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8090)
	viper.SetDefault("platform.timeout", 30*time.Second)
	viper.SetDefault("monitor.connect_grace", 3*time.Second)
	viper.SetDefault("monitor.poll_interval", 2*time.Second)
	viper.SetDefault("monitor.registry_interval", 30*time.Second)
	viper.SetDefault("monitor.completion_delay", time.Second)
	viper.SetDefault("monitor.reconnect_base", time.Second)
	viper.SetDefault("monitor.reconnect_max", 30*time.Second)
	viper.SetDefault("monitor.max_reconnects", 5)
	viper.SetDefault("monitor.history_limit", 50)
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_paths", []string{"stdout"})
	viper.SetDefault("logger.error_output_paths", []string{"stderr"})

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// MonitorDefaults mirrors the platform dashboard's production timings, used
// when a caller builds the core without a config file.
func MonitorDefaults() MonitorConfig {
	return MonitorConfig{
		ConnectGrace:     3 * time.Second,
		PollInterval:     2 * time.Second,
		RegistryInterval: 30 * time.Second,
		CompletionDelay:  time.Second,
		ReconnectBase:    time.Second,
		ReconnectMax:     30 * time.Second,
		MaxReconnects:    5,
		HistoryLimit:     50,
	}
}
