package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime settings for the presence backend.
type Config struct {
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Directory *DirectoryConfig `json:"directory"`
}

// HTTPConfig controls the HTTP server hosting the websocket, query, push
// and health endpoints.
type HTTPConfig struct {
	Port         int           `json:"port"`
	Host         string        `json:"host"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// WebSocketConfig controls per-connection heartbeat and write behavior.
type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

// DirectoryConfig points at the external identity/directory service.
// BaseURL may be empty: the server still starts (with a warning) but token
// verification and profile lookups will fail until it is configured.
type DirectoryConfig struct {
	BaseURL        string        `json:"base_url"`
	AnonKey        string        `json:"anon_key"`
	ServiceKey     string        `json:"service_key"`
	VerifyTimeout  time.Duration `json:"verify_timeout"`
	ProfileTimeout time.Duration `json:"profile_timeout"`
}

// DefaultConfig returns production-ready defaults. The verify and profile
// timeouts are the budgets external calls get before they count as failed.
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Port:         8000,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Directory: &DirectoryConfig{
			VerifyTimeout:  10 * time.Second,
			ProfileTimeout: 15 * time.Second,
		},
	}
}

// Validate checks the configuration before component wiring. An empty
// directory base URL is allowed here; the application surfaces a non-fatal
// warning for it instead of refusing to start.
func (c *Config) Validate() error {
	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}

	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}

	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}

	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}

	if c.WebSocket.ReadTimeout <= 0 {
		return fmt.Errorf("WebSocket read timeout must be positive")
	}

	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}

	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Directory == nil {
		return fmt.Errorf("directory configuration is required")
	}

	if c.Directory.VerifyTimeout <= 0 {
		return fmt.Errorf("directory verify timeout must be positive")
	}

	if c.Directory.ProfileTimeout <= 0 {
		return fmt.Errorf("directory profile timeout must be positive")
	}

	return nil
}

// LoadFromEnv builds a configuration from environment variables layered
// over the defaults.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if port := os.Getenv("PRESENCEBOARD_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	}

	if host := os.Getenv("PRESENCEBOARD_HTTP_HOST"); host != "" {
		config.HTTP.Host = host
	}

	if readTimeout := os.Getenv("PRESENCEBOARD_HTTP_READ_TIMEOUT"); readTimeout != "" {
		if timeout, err := time.ParseDuration(readTimeout); err == nil {
			config.HTTP.ReadTimeout = timeout
		}
	}

	if writeTimeout := os.Getenv("PRESENCEBOARD_HTTP_WRITE_TIMEOUT"); writeTimeout != "" {
		if timeout, err := time.ParseDuration(writeTimeout); err == nil {
			config.HTTP.WriteTimeout = timeout
		}
	}

	if pingInterval := os.Getenv("PRESENCEBOARD_WEBSOCKET_PING_INTERVAL"); pingInterval != "" {
		if interval, err := time.ParseDuration(pingInterval); err == nil {
			config.WebSocket.PingInterval = interval
		}
	}

	if wsReadTimeout := os.Getenv("PRESENCEBOARD_WEBSOCKET_READ_TIMEOUT"); wsReadTimeout != "" {
		if timeout, err := time.ParseDuration(wsReadTimeout); err == nil {
			config.WebSocket.ReadTimeout = timeout
		}
	}

	if wsWriteTimeout := os.Getenv("PRESENCEBOARD_WEBSOCKET_WRITE_TIMEOUT"); wsWriteTimeout != "" {
		if timeout, err := time.ParseDuration(wsWriteTimeout); err == nil {
			config.WebSocket.WriteTimeout = timeout
		}
	}

	if bufferSize := os.Getenv("PRESENCEBOARD_WEBSOCKET_BUFFER_SIZE"); bufferSize != "" {
		if size, err := strconv.Atoi(bufferSize); err == nil {
			config.WebSocket.BufferSize = size
		}
	}

	if baseURL := os.Getenv("PRESENCEBOARD_DIRECTORY_URL"); baseURL != "" {
		config.Directory.BaseURL = strings.TrimRight(baseURL, "/")
	}

	if anonKey := os.Getenv("PRESENCEBOARD_DIRECTORY_ANON_KEY"); anonKey != "" {
		config.Directory.AnonKey = anonKey
	}

	if serviceKey := os.Getenv("PRESENCEBOARD_DIRECTORY_SERVICE_KEY"); serviceKey != "" {
		config.Directory.ServiceKey = serviceKey
	}

	if verifyTimeout := os.Getenv("PRESENCEBOARD_DIRECTORY_VERIFY_TIMEOUT"); verifyTimeout != "" {
		if timeout, err := time.ParseDuration(verifyTimeout); err == nil {
			config.Directory.VerifyTimeout = timeout
		}
	}

	if profileTimeout := os.Getenv("PRESENCEBOARD_DIRECTORY_PROFILE_TIMEOUT"); profileTimeout != "" {
		if timeout, err := time.ParseDuration(profileTimeout); err == nil {
			config.Directory.ProfileTimeout = timeout
		}
	}

	return config
}

// ConfigFile is the JSON structure for file-based configuration. Durations
// are strings ("10s") so operators can edit them by hand.
type ConfigFile struct {
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Directory *DirectoryConfigFile `json:"directory"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port"`
	Host         string `json:"host"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
}

type WebSocketConfigFile struct {
	PingInterval string `json:"ping_interval"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	BufferSize   int    `json:"buffer_size"`
}

type DirectoryConfigFile struct {
	BaseURL        string `json:"base_url"`
	AnonKey        string `json:"anon_key"`
	ServiceKey     string `json:"service_key"`
	VerifyTimeout  string `json:"verify_timeout"`
	ProfileTimeout string `json:"profile_timeout"`
}

// LoadFromFile reads a JSON configuration file layered over the defaults.
func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := DefaultConfig()

	if configFile.HTTP != nil {
		if configFile.HTTP.Port > 0 {
			config.HTTP.Port = configFile.HTTP.Port
		}
		if configFile.HTTP.Host != "" {
			config.HTTP.Host = configFile.HTTP.Host
		}
		if configFile.HTTP.ReadTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.HTTP.ReadTimeout); err == nil {
				config.HTTP.ReadTimeout = timeout
			}
		}
		if configFile.HTTP.WriteTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.HTTP.WriteTimeout); err == nil {
				config.HTTP.WriteTimeout = timeout
			}
		}
	}

	if configFile.WebSocket != nil {
		if configFile.WebSocket.BufferSize > 0 {
			config.WebSocket.BufferSize = configFile.WebSocket.BufferSize
		}
		if configFile.WebSocket.PingInterval != "" {
			if interval, err := time.ParseDuration(configFile.WebSocket.PingInterval); err == nil {
				config.WebSocket.PingInterval = interval
			}
		}
		if configFile.WebSocket.ReadTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.WebSocket.ReadTimeout); err == nil {
				config.WebSocket.ReadTimeout = timeout
			}
		}
		if configFile.WebSocket.WriteTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.WebSocket.WriteTimeout); err == nil {
				config.WebSocket.WriteTimeout = timeout
			}
		}
	}

	if configFile.Directory != nil {
		if configFile.Directory.BaseURL != "" {
			config.Directory.BaseURL = strings.TrimRight(configFile.Directory.BaseURL, "/")
		}
		if configFile.Directory.AnonKey != "" {
			config.Directory.AnonKey = configFile.Directory.AnonKey
		}
		if configFile.Directory.ServiceKey != "" {
			config.Directory.ServiceKey = configFile.Directory.ServiceKey
		}
		if configFile.Directory.VerifyTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.Directory.VerifyTimeout); err == nil {
				config.Directory.VerifyTimeout = timeout
			}
		}
		if configFile.Directory.ProfileTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.Directory.ProfileTimeout); err == nil {
				config.Directory.ProfileTimeout = timeout
			}
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return config, nil
}

// LoadConfigWithPrecedence loads configuration with file > environment >
// defaults precedence. File errors are ignored so a missing or broken file
// still leaves a working environment-based configuration.
func LoadConfigWithPrecedence(filepath string) *Config {
	config := LoadFromEnv()

	if filepath != "" {
		if fileConfig, err := LoadFromFile(filepath); err == nil {
			config = fileConfig
		}
	}

	return config
}
