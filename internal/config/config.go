package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Snoe0/Topstep-API/pkg/secrets"
	"github.com/Snoe0/Topstep-API/pkg/topstepx"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var envKeyReplacer = strings.NewReplacer(".", "_")

type Config struct {
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	GCP       GCPConfig       `mapstructure:"gcp"`
}

type GatewayConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	UserName          string        `mapstructure:"user_name"`
	APIKey            string        `mapstructure:"api_key"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	RequestsBurst     int           `mapstructure:"requests_burst"`
}

type WebSocketConfig struct {
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	DialRetries      int           `mapstructure:"dial_retries"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type GCPConfig struct {
	ProjectID   string              `mapstructure:"project_id"`
	UseSecrets  bool                `mapstructure:"use_secrets"`
	SecretNames secrets.SecretNames `mapstructure:"secret_names"`
}

// Load reads configuration from, in increasing precedence: defaults, the
// config file, TOPSTEPX_* variables and the credential variables. A .env
// file in the working directory is loaded first when present.
func Load(configPath string, logger *logrus.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.WithError(err).Warn("Failed to read .env file")
	}

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/topstepx")
	}

	v.SetEnvPrefix("TOPSTEPX")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&config)

	if config.GCP.UseSecrets && config.GCP.ProjectID != "" {
		ctx := context.Background()
		if err := loadSecretsFromGCP(ctx, &config, logger); err != nil {
			return nil, fmt.Errorf("error loading secrets from GCP: %w", err)
		}
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.base_url", topstepx.DefaultBaseURL)
	v.SetDefault("gateway.user_name", "")
	v.SetDefault("gateway.api_key", "")
	v.SetDefault("gateway.timeout", topstepx.DefaultTimeout)
	v.SetDefault("gateway.requests_per_second", 0)
	v.SetDefault("gateway.requests_burst", 1)

	v.SetDefault("websocket.handshake_timeout", topstepx.DefaultHandshakeTimeout)
	v.SetDefault("websocket.ping_interval", topstepx.DefaultPingInterval)
	v.SetDefault("websocket.dial_retries", topstepx.DefaultDialRetries)

	v.SetDefault("server.port", 8080)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("gcp.use_secrets", false)
	v.SetDefault("gcp.project_id", "")

	secretNames := secrets.DefaultSecretNames()
	v.SetDefault("gcp.secret_names.user_name", secretNames.UserName)
	v.SetDefault("gcp.secret_names.api_key", secretNames.APIKey)
}

func overrideFromEnv(config *Config) {
	if userName := os.Getenv("TOPSTEP_USERNAME"); userName != "" {
		config.Gateway.UserName = userName
	}
	if apiKey := os.Getenv("TOPSTEP_API_KEY"); apiKey != "" {
		config.Gateway.APIKey = apiKey
	}

	if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
		config.GCP.ProjectID = projectID
	}
	if useSecrets := os.Getenv("GCP_USE_SECRETS"); useSecrets == "true" {
		config.GCP.UseSecrets = true
	}
}

func loadSecretsFromGCP(ctx context.Context, config *Config, logger *logrus.Logger) error {
	secretManager, err := secrets.NewGCPSecretManager(ctx, config.GCP.ProjectID, logger)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}
	defer secretManager.Close()

	fillCredentials(ctx, config, secretManager, logger)
	logger.Info("Successfully loaded secrets from GCP Secret Manager")
	return nil
}

// fillCredentials only fills credentials that are still empty.
func fillCredentials(ctx context.Context, config *Config, store secrets.Store, logger *logrus.Logger) {
	if config.Gateway.UserName == "" {
		config.Gateway.UserName = secrets.GetSecretWithDefault(ctx, store, logger,
			config.GCP.SecretNames.UserName, "")
	}
	if config.Gateway.APIKey == "" {
		config.Gateway.APIKey = secrets.GetSecretWithDefault(ctx, store, logger,
			config.GCP.SecretNames.APIKey, "")
	}
}

// ClientConfig maps the loaded settings onto the gateway client.
func (c *Config) ClientConfig() topstepx.Config {
	return topstepx.Config{
		Credentials: topstepx.Credentials{
			UserName: c.Gateway.UserName,
			APIKey:   c.Gateway.APIKey,
		},
		Transport: topstepx.TransportConfig{
			BaseURL:           c.Gateway.BaseURL,
			Timeout:           c.Gateway.Timeout,
			HandshakeTimeout:  c.WebSocket.HandshakeTimeout,
			RequestsPerSecond: c.Gateway.RequestsPerSecond,
			RequestsBurst:     c.Gateway.RequestsBurst,
		},
		LiveData: topstepx.LiveDataConfig{
			PingInterval: c.WebSocket.PingInterval,
			DialRetries:  c.WebSocket.DialRetries,
		},
	}
}

// NewLogger builds the process logger from the logging section.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	if c.Logging.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		logger.WithError(err).Error("Invalid log level, using INFO")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}
