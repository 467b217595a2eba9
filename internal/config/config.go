package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	LLM    LLMConfig    `mapstructure:"llm"`
	Server ServerConfig `mapstructure:"server"`
	Store  StoreConfig  `mapstructure:"store"`
	Log    LogConfig    `mapstructure:"log"`
}

// LLMConfig holds the LLM configuration
type LLMConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	Model         string        `mapstructure:"model"`
	SystemPrompt  string        `mapstructure:"system_prompt"`
	Temperature   float32       `mapstructure:"temperature"`
	MaxTokens     int           `mapstructure:"max_tokens"`
	StreamTimeout time.Duration `mapstructure:"stream_timeout"`
	ChunkDelay    time.Duration `mapstructure:"chunk_delay"`
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Host              string        `mapstructure:"host"`
	Port              string        `mapstructure:"port"`
	Mode              string        `mapstructure:"mode"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig selects and tunes the conversation store backend.
type StoreConfig struct {
	Driver          string        `mapstructure:"driver"` // mongo, sqlite or memory
	URI             string        `mapstructure:"uri"`
	Database        string        `mapstructure:"database"`
	Collection      string        `mapstructure:"collection"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	MaxPoolSize     uint64        `mapstructure:"max_pool_size"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
}

// LogConfig holds the logger configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

const DefaultSystemPrompt = "You are a helpful AI assistant that answers the user's questions."

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.base_url", "https://dashscope.aliyuncs.com/compatible-mode/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "qwen-max")
	v.SetDefault("llm.system_prompt", DefaultSystemPrompt)
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 2000)
	v.SetDefault("llm.stream_timeout", 2*time.Minute)
	v.SetDefault("llm.chunk_delay", 10*time.Millisecond)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.idle_timeout", 2*time.Minute)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("store.driver", "mongo")
	v.SetDefault("store.uri", "mongodb://localhost:27017/voice_assistant")
	v.SetDefault("store.database", "voice_assistant")
	v.SetDefault("store.collection", "conversations")
	v.SetDefault("store.sqlite_path", "assistant.db")
	v.SetDefault("store.max_pool_size", 20)
	v.SetDefault("store.max_conn_idle_time", 5*time.Minute)
	v.SetDefault("store.connect_timeout", 10*time.Second)
	v.SetDefault("store.write_timeout", 5*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads config.yaml (or the file named by CONFIG_PATH), then applies
// ASSISTANT_* environment overrides. A missing default config file is not an
// error; every key has a default.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	v.SetEnvPrefix("assistant")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Legacy variable names are still honoured.
	if err := v.BindEnv("llm.api_key", "ASSISTANT_LLM_API_KEY", "DASH_SCOPE_API_KEY"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("store.uri", "ASSISTANT_STORE_URI", "MONGODB_URI"); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Address returns the host:port the HTTP server listens on.
func (c ServerConfig) Address() string {
	return c.Host + ":" + c.Port
}
