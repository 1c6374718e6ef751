package config

import (
	"crypto/subtle"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Jina      JinaConfig      `mapstructure:"jina"`
	Serve     ServeConfig     `mapstructure:"serve"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Store     StoreConfig     `mapstructure:"store"`
	Models    ModelsConfig    `mapstructure:"models"`
	Title     TitleConfig     `mapstructure:"title"`
}

type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// JinaConfig configures the reader and search endpoints used by the web tools.
type JinaConfig struct {
	APIKey    string `mapstructure:"api_key"`
	ReaderURL string `mapstructure:"reader_url"`
	SearchURL string `mapstructure:"search_url"`
}

type ServeConfig struct {
	Host         string   `mapstructure:"host"`
	Port         int      `mapstructure:"port"`
	CORSOrigins  []string `mapstructure:"cors_origins"`
	RateLimit    int      `mapstructure:"rate_limit"` // chat requests per minute per user, 0 = unlimited
	MaxToolDepth int      `mapstructure:"max_tool_depth"`
}

// AuthConfig maps bearer tokens to user IDs.
type AuthConfig struct {
	Users       []UserToken `mapstructure:"users"`
	AllowNoAuth bool        `mapstructure:"allow_no_auth"`
}

type UserToken struct {
	ID    string `mapstructure:"id"`
	Token string `mapstructure:"token"`
}

type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"` // empty = data dir default
}

type ModelsConfig struct {
	Catalog string `mapstructure:"catalog"` // optional YAML catalog file
}

type TitleConfig struct {
	Model string `mapstructure:"model"`
}

func Load() (*Config, error) {
	configPath, err := GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	setDefaults(v)

	// Read config file (optional - won't error if missing)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.resolveCredentials()
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("serve.host", "127.0.0.1")
	v.SetDefault("serve.port", 8080)
	v.SetDefault("serve.rate_limit", 30)
	v.SetDefault("serve.max_tool_depth", 8)
	v.SetDefault("jina.reader_url", "https://r.jina.ai")
	v.SetDefault("jina.search_url", "https://s.jina.ai")
	v.SetDefault("store.enabled", true)
	v.SetDefault("title.model", "gpt-4o-mini")
}

// resolveCredentials expands $VAR references and falls back to the
// conventional environment variables.
func (c *Config) resolveCredentials() {
	c.Anthropic.APIKey = envFallback(c.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	c.OpenAI.APIKey = envFallback(c.OpenAI.APIKey, "OPENAI_API_KEY")
	c.OpenAI.BaseURL = expandEnv(c.OpenAI.BaseURL)
	c.Gemini.APIKey = envFallback(c.Gemini.APIKey, "GEMINI_API_KEY")
	c.Jina.APIKey = envFallback(c.Jina.APIKey, "JINA_API_KEY")
	for i := range c.Auth.Users {
		c.Auth.Users[i].Token = expandEnv(c.Auth.Users[i].Token)
	}
	c.Store.Path = expandEnv(c.Store.Path)
	c.Models.Catalog = expandEnv(c.Models.Catalog)
}

// ApplyServeOverrides applies command line flags on top of the file config.
// Zero values leave the config untouched.
func (c *Config) ApplyServeOverrides(host string, port int, allowNoAuth bool) {
	if host != "" {
		c.Serve.Host = host
	}
	if port != 0 {
		c.Serve.Port = port
	}
	if allowNoAuth {
		c.Auth.AllowNoAuth = true
	}
}

// UserForToken returns the user ID registered for token. Every configured
// token is compared in constant time.
func (c *Config) UserForToken(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	userID, found := "", false
	for _, u := range c.Auth.Users {
		if u.Token == "" {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(u.Token)) == 1 && !found {
			userID, found = u.ID, true
		}
	}
	return userID, found
}

func envFallback(value, envVar string) string {
	value = expandEnv(value)
	if value == "" {
		value = os.Getenv(envVar)
	}
	return value
}

func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}

// GetConfigDir returns the XDG config directory for relaychat.
// Uses $XDG_CONFIG_HOME if set, otherwise ~/.config
func GetConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, "relaychat"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "relaychat"), nil
}

// GetConfigPath returns the path where the config file should be located
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}
