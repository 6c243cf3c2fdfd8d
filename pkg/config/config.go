package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the CLI and the fake control plane
type Config struct {
	APIURL      string
	AuthURL     string
	ConfigDir   string
	LogLevel    string
	Credentials CredentialsConfig
	HTTP        HTTPConfig
	Auth        AuthConfig
	Deploy      DeployConfig
	Health      HealthConfig
	Prompt      PromptConfig
	Export      ExportConfig
	FakeHost    FakeHostConfig
}

// CredentialsConfig selects where the access token is cached
type CredentialsConfig struct {
	Backend string // file, keyring, memory
	File    string

	// Token seeds the memory backend, usually from APPHOST_CREDENTIALS_TOKEN
	Token string
}

// HTTPConfig holds per-call timeouts for the control plane client
type HTTPConfig struct {
	Timeout       time.Duration
	UploadTimeout time.Duration
}

// AuthConfig holds the browser login polling budget
type AuthConfig struct {
	Retries  int
	Interval time.Duration
}

// DeployConfig holds the milestone watch budget
type DeployConfig struct {
	MilestoneRetries int
	PollInterval     time.Duration
}

// HealthConfig holds the reachability probe budget
type HealthConfig struct {
	BackendTimeout  time.Duration
	FrontendTimeout time.Duration
	Interval        time.Duration
	LogLineLimit    int
}

// PromptConfig bounds interactive key selection
type PromptConfig struct {
	MaxAttempts int
}

// ExportConfig describes how deployment artifacts are produced
type ExportConfig struct {
	Command     []string
	BackendDir  string
	FrontendDir string
}

// FakeHostConfig holds settings for the local fake control plane
type FakeHostConfig struct {
	Port        string
	PublicURL   string
	JWTSecret   string
	TokenTTL    time.Duration
	AutoApprove bool

	// DatabaseDSN is a sqlite DSN; the default keeps state in memory
	DatabaseDSN    string
	StreamDuration time.Duration

	// UploadRate limits uploads and logins per client IP, in requests per
	// second. Zero disables the limit.
	UploadRate  float64
	UploadBurst int
}

// Load loads configuration from defaults, an optional config file and environment
// variables. An explicit configFile must exist; the default locations are optional.
func Load(configFile string) (*Config, error) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".apphost"))
		}
	}

	// Set defaults
	setDefaults()

	// Read config file (optional unless given explicitly)
	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// APPHOST_HEALTH_BACKEND_TIMEOUT overrides health.backend_timeout
	viper.SetEnvPrefix("apphost")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	config := &Config{
		APIURL:    strings.TrimRight(viper.GetString("api_url"), "/"),
		AuthURL:   viper.GetString("auth_url"),
		ConfigDir: expandHome(viper.GetString("config_dir")),
		LogLevel:  viper.GetString("log_level"),
		Credentials: CredentialsConfig{
			Backend: viper.GetString("credentials.backend"),
			File:    viper.GetString("credentials.file"),
			Token:   viper.GetString("credentials.token"),
		},
		HTTP: HTTPConfig{
			Timeout:       viper.GetDuration("http.timeout"),
			UploadTimeout: viper.GetDuration("http.upload_timeout"),
		},
		Auth: AuthConfig{
			Retries:  viper.GetInt("auth.retries"),
			Interval: viper.GetDuration("auth.interval"),
		},
		Deploy: DeployConfig{
			MilestoneRetries: viper.GetInt("deploy.milestone_retries"),
			PollInterval:     viper.GetDuration("deploy.poll_interval"),
		},
		Health: HealthConfig{
			BackendTimeout:  viper.GetDuration("health.backend_timeout"),
			FrontendTimeout: viper.GetDuration("health.frontend_timeout"),
			Interval:        viper.GetDuration("health.interval"),
			LogLineLimit:    viper.GetInt("health.log_line_limit"),
		},
		Prompt: PromptConfig{
			MaxAttempts: viper.GetInt("prompt.max_attempts"),
		},
		Export: ExportConfig{
			Command:     viper.GetStringSlice("export.command"),
			BackendDir:  viper.GetString("export.backend_dir"),
			FrontendDir: viper.GetString("export.frontend_dir"),
		},
		FakeHost: FakeHostConfig{
			Port:           viper.GetString("fakehost.port"),
			PublicURL:      viper.GetString("fakehost.public_url"),
			JWTSecret:      viper.GetString("fakehost.jwt_secret"),
			TokenTTL:       viper.GetDuration("fakehost.token_ttl"),
			AutoApprove:    viper.GetBool("fakehost.auto_approve"),
			DatabaseDSN:    viper.GetString("fakehost.database_dsn"),
			StreamDuration: viper.GetDuration("fakehost.stream_duration"),
			UploadRate:     viper.GetFloat64("fakehost.upload_rate"),
			UploadBurst:    viper.GetInt("fakehost.upload_burst"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("api_url", "https://api.apphost.dev")
	viper.SetDefault("auth_url", "https://apphost.dev/cli-auth")
	viper.SetDefault("config_dir", "~/.apphost")
	viper.SetDefault("log_level", "warn")

	// Credentials defaults
	viper.SetDefault("credentials.backend", "file")
	viper.SetDefault("credentials.token", "")
	viper.SetDefault("credentials.file", "credentials.json")

	// HTTP defaults
	viper.SetDefault("http.timeout", 15*time.Second)
	viper.SetDefault("http.upload_timeout", 5*time.Minute)

	// Auth defaults
	viper.SetDefault("auth.retries", 60)
	viper.SetDefault("auth.interval", 5*time.Second)

	// Deploy defaults
	viper.SetDefault("deploy.milestone_retries", 300)
	viper.SetDefault("deploy.poll_interval", time.Second)

	// Health defaults
	viper.SetDefault("health.backend_timeout", 45*time.Second)
	viper.SetDefault("health.frontend_timeout", 30*time.Second)
	viper.SetDefault("health.interval", time.Second)
	viper.SetDefault("health.log_line_limit", 30)

	// Prompt defaults
	viper.SetDefault("prompt.max_attempts", 5)

	// Export defaults
	viper.SetDefault("export.command", []string{})
	viper.SetDefault("export.backend_dir", "")
	viper.SetDefault("export.frontend_dir", "")

	// Fake host defaults
	viper.SetDefault("fakehost.port", "8787")
	viper.SetDefault("fakehost.public_url", "")
	viper.SetDefault("fakehost.jwt_secret", "fakehost-dev-secret")
	viper.SetDefault("fakehost.token_ttl", 24*time.Hour)
	viper.SetDefault("fakehost.auto_approve", true)
	viper.SetDefault("fakehost.database_dsn", "file::memory:?cache=shared")
	viper.SetDefault("fakehost.stream_duration", 5*time.Minute)
	viper.SetDefault("fakehost.upload_rate", 2.0)
	viper.SetDefault("fakehost.upload_burst", 10)
}

// Validate checks values that would otherwise fail deep inside a deploy
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return errors.New("api_url must be set")
	}
	switch c.Credentials.Backend {
	case "file", "keyring", "memory":
	default:
		return fmt.Errorf("unknown credentials backend %q", c.Credentials.Backend)
	}
	if c.Auth.Retries <= 0 || c.Deploy.MilestoneRetries <= 0 {
		return errors.New("auth.retries and deploy.milestone_retries must be positive")
	}
	return nil
}

// CredentialsPath returns the absolute path of the credential file
func (c *Config) CredentialsPath() string {
	if filepath.IsAbs(c.Credentials.File) {
		return c.Credentials.File
	}
	return filepath.Join(c.ConfigDir, c.Credentials.File)
}

// WebsocketURL returns the API base URL with a ws/wss scheme
func (c *Config) WebsocketURL() string {
	switch {
	case strings.HasPrefix(c.APIURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.APIURL, "https://")
	case strings.HasPrefix(c.APIURL, "http://"):
		return "ws://" + strings.TrimPrefix(c.APIURL, "http://")
	default:
		return c.APIURL
	}
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
