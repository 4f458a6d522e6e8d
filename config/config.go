package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath      = "config/config.yml"
	DefaultSymbol          = "BNBUSDT"
	DefaultBalanceAsset    = "BNB"
	DefaultSpotBaseURL     = "https://api.binance.com"
	DefaultFuturesBaseURL  = "https://fapi.binance.com"
	DefaultRecvWindowMs    = 5000
	DefaultTimeoutMs       = 10000
	DefaultTimezoneOffset  = 8.0
	DefaultPingIntervalMs  = 14 * 60 * 1000
	DefaultPingTimeoutMs   = 10000
	defaultPort            = "3000"
	defaultServiceName     = "hedgeproxy"
	defaultServiceVersion  = "1.0.0"
	defaultCloudWatchSpace = "HedgeProxy"
)

var envConfigPaths = map[string]string{
	EnvironmentProduction: "config/config.production.yml",
	EnvironmentStaging:    "config/config.staging.yml",
}

type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Binance   BinanceConfig   `yaml:"binance"`
	Hedge     HedgeConfig     `yaml:"hedge"`
	KeepAlive KeepAliveConfig `yaml:"keep_alive"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServiceConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuthConfig holds the shared proxy secret. An empty key rejects every
// authenticated route.
type AuthConfig struct {
	ProxyAPIKey string `yaml:"proxy_api_key"`
}

type BinanceConfig struct {
	APIKey         string `yaml:"api_key"`
	APISecret      string `yaml:"api_secret"`
	SpotBaseURL    string `yaml:"spot_base_url"`
	FuturesBaseURL string `yaml:"futures_base_url"`
	RecvWindowMs   int64  `yaml:"recv_window_ms"`
	TimeoutMs      int    `yaml:"timeout_ms"`
	ProbeWeight    bool   `yaml:"probe_weight"`
}

type HedgeConfig struct {
	Symbol              string  `yaml:"symbol"`
	BalanceAsset        string  `yaml:"balance_asset"`
	TimezoneOffsetHours float64 `yaml:"timezone_offset_hours"`
}

type KeepAliveConfig struct {
	Enabled        bool   `yaml:"enabled"`
	SelfPingURL    string `yaml:"self_ping_url"`
	PingIntervalMs int    `yaml:"ping_interval_ms"`
	PingTimeoutMs  int    `yaml:"ping_timeout_ms"`
}

type MetricsConfig struct {
	Enabled    bool             `yaml:"enabled"`
	UsedWeight bool             `yaml:"used_weight"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Region          string `yaml:"region"`
	Namespace       string `yaml:"namespace"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// HasExchangeCredentials reports whether signed upstream calls can be made.
func (c *Config) HasExchangeCredentials() bool {
	return c.Binance.APIKey != "" && c.Binance.APISecret != ""
}

// Addr returns the listen address derived from the configured port.
func (c *Config) Addr() string {
	return ":" + c.Server.Port
}

// UpstreamTimeout returns the timeout applied to every proxied call.
func (c *Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Binance.TimeoutMs) * time.Millisecond
}

// PingInterval returns the keep-alive interval.
func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.KeepAlive.PingIntervalMs) * time.Millisecond
}

// PingTimeout returns the timeout of a single keep-alive ping.
func (c *Config) PingTimeout() time.Duration {
	return time.Duration(c.KeepAlive.PingTimeoutMs) * time.Millisecond
}

func defaults() Config {
	return Config{
		Service: ServiceConfig{Name: defaultServiceName, Version: defaultServiceVersion},
		Server: ServerConfig{
			Port:            defaultPort,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Binance: BinanceConfig{
			SpotBaseURL:    DefaultSpotBaseURL,
			FuturesBaseURL: DefaultFuturesBaseURL,
			RecvWindowMs:   DefaultRecvWindowMs,
			TimeoutMs:      DefaultTimeoutMs,
		},
		Hedge: HedgeConfig{
			Symbol:              DefaultSymbol,
			BalanceAsset:        DefaultBalanceAsset,
			TimezoneOffsetHours: DefaultTimezoneOffset,
		},
		KeepAlive: KeepAliveConfig{
			Enabled:        true,
			PingIntervalMs: DefaultPingIntervalMs,
			PingTimeoutMs:  DefaultPingTimeoutMs,
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			UsedWeight: true,
			CloudWatch: CloudWatchConfig{Namespace: defaultCloudWatchSpace},
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

// LoadConfig builds the process configuration. The YAML file at path is
// optional when path is the default location; the environment always wins
// over file values.
func LoadConfig(path string) (*Config, error) {
	config := defaults()

	path = resolveEnvSpecificPath(path, DefaultConfigPath, envConfigPaths)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && isDefaultPath(path):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := applyEnv(&config); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}

	config.Hedge.Symbol = strings.ToUpper(strings.TrimSpace(config.Hedge.Symbol))
	config.Hedge.BalanceAsset = strings.ToUpper(strings.TrimSpace(config.Hedge.BalanceAsset))
	config.Binance.SpotBaseURL = strings.TrimRight(config.Binance.SpotBaseURL, "/")
	config.Binance.FuturesBaseURL = strings.TrimRight(config.Binance.FuturesBaseURL, "/")

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func isDefaultPath(path string) bool {
	if path == DefaultConfigPath {
		return true
	}
	for _, p := range envConfigPaths {
		if p == path {
			return true
		}
	}
	return false
}

func applyEnv(cfg *Config) error {
	setString("PORT", &cfg.Server.Port)
	setString("PROXY_API_KEY", &cfg.Auth.ProxyAPIKey)
	setString("BINANCE_API_KEY", &cfg.Binance.APIKey)
	setString("BINANCE_API_SECRET", &cfg.Binance.APISecret)
	setString("BINANCE_SPOT_BASE_URL", &cfg.Binance.SpotBaseURL)
	setString("BINANCE_FUTURES_BASE_URL", &cfg.Binance.FuturesBaseURL)
	setString("HEDGE_SYMBOL", &cfg.Hedge.Symbol)
	setString("BALANCE_ASSET", &cfg.Hedge.BalanceAsset)
	setString("SELF_PING_URL", &cfg.KeepAlive.SelfPingURL)
	setString("AWS_REGION", &cfg.Metrics.CloudWatch.Region)
	setString("CLOUDWATCH_NAMESPACE", &cfg.Metrics.CloudWatch.Namespace)
	setString("AWS_ACCESS_KEY_ID", &cfg.Metrics.CloudWatch.AccessKeyID)
	setString("AWS_SECRET_ACCESS_KEY", &cfg.Metrics.CloudWatch.SecretAccessKey)

	if err := setFloat("TIMEZONE_OFFSET_HOURS", &cfg.Hedge.TimezoneOffsetHours); err != nil {
		return err
	}
	if err := setInt("PING_INTERVAL_MS", &cfg.KeepAlive.PingIntervalMs); err != nil {
		return err
	}
	if err := setInt("UPSTREAM_TIMEOUT_MS", &cfg.Binance.TimeoutMs); err != nil {
		return err
	}
	if v, ok := lookup("BINANCE_RECV_WINDOW_MS"); ok {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("BINANCE_RECV_WINDOW_MS: %w", err)
		}
		cfg.Binance.RecvWindowMs = parsed
	}
	if err := setBool("KEEP_ALIVE", &cfg.KeepAlive.Enabled); err != nil {
		return err
	}
	if err := setBool("METRICS_ENABLED", &cfg.Metrics.Enabled); err != nil {
		return err
	}
	if err := setBool("CLOUDWATCH_ENABLED", &cfg.Metrics.CloudWatch.Enabled); err != nil {
		return err
	}
	return setBool("BINANCE_PROBE_WEIGHT", &cfg.Binance.ProbeWeight)
}

func lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func setString(key string, dst *string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setInt(key string, dst *int) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func setFloat(key string, dst *float64) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = parsed
	return nil
}

// setBool accepts true/false, 1/0, yes/no and on/off.
func setBool(key string, dst *bool) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	switch strings.ToLower(v) {
	case "false", "0", "no", "off":
		*dst = false
	case "true", "1", "yes", "on":
		*dst = true
	default:
		return fmt.Errorf("%s: invalid boolean %q", key, v)
	}
	return nil
}

func validateConfig(cfg *Config) error {
	if cfg.Service.Name == "" {
		return fmt.Errorf("service.name is required")
	}
	if cfg.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if _, err := strconv.Atoi(cfg.Server.Port); err != nil {
		return fmt.Errorf("server.port '%s' is not numeric", cfg.Server.Port)
	}
	if err := validateBaseURL("binance.spot_base_url", cfg.Binance.SpotBaseURL); err != nil {
		return err
	}
	if err := validateBaseURL("binance.futures_base_url", cfg.Binance.FuturesBaseURL); err != nil {
		return err
	}
	if cfg.Binance.RecvWindowMs <= 0 || cfg.Binance.RecvWindowMs > 60000 {
		return fmt.Errorf("binance.recv_window_ms must be in (0, 60000]")
	}
	if cfg.Binance.TimeoutMs <= 0 {
		return fmt.Errorf("binance.timeout_ms must be greater than 0")
	}
	if cfg.Hedge.Symbol == "" {
		return fmt.Errorf("hedge.symbol is required")
	}
	if cfg.Hedge.BalanceAsset == "" {
		return fmt.Errorf("hedge.balance_asset is required")
	}
	if cfg.Hedge.TimezoneOffsetHours < -12 || cfg.Hedge.TimezoneOffsetHours > 14 {
		return fmt.Errorf("hedge.timezone_offset_hours must be within [-12, 14]")
	}
	if cfg.KeepAlive.Enabled {
		if cfg.KeepAlive.PingIntervalMs <= 0 {
			return fmt.Errorf("keep_alive.ping_interval_ms must be greater than 0")
		}
		if cfg.KeepAlive.PingTimeoutMs <= 0 {
			return fmt.Errorf("keep_alive.ping_timeout_ms must be greater than 0")
		}
	}
	return nil
}

func validateBaseURL(name, raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("%s '%s' is not a valid http(s) URL", name, raw)
	}
	return nil
}
