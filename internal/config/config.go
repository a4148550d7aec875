package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Client defines configuration for the evdash sync daemon.
type Client struct {
	Backend struct {
		BaseURL      string `yaml:"baseUrl" env:"EVDASH_BACKEND_URL"`
		WebsocketURL string `yaml:"websocketUrl" env:"EVDASH_WEBSOCKET_URL"`
	} `yaml:"backend"`
	Login struct {
		Username string `yaml:"username" env:"EVDASH_USERNAME"`
		Password string `yaml:"password" env:"EVDASH_PASSWORD"`
	} `yaml:"login"`
	Session struct {
		FilePath      string `yaml:"filePath" env:"EVDASH_SESSION_FILE"`
		RedisAddr     string `yaml:"redisAddr" env:"EVDASH_SESSION_REDIS_ADDR"`
		RedisPassword string `yaml:"redisPassword" env:"EVDASH_SESSION_REDIS_PASSWORD"`
	} `yaml:"session"`
	Sync struct {
		ReconnectSeconds   int `yaml:"reconnectSeconds" env:"EVDASH_RECONNECT_SECONDS"`
		RefreshLeadSeconds int `yaml:"refreshLeadSeconds" env:"EVDASH_REFRESH_LEAD_SECONDS"`
	} `yaml:"sync"`
	Archive struct {
		PostgresDSN string `yaml:"postgresDsn" env:"EVDASH_ARCHIVE_DSN"`
	} `yaml:"archive"`
	HTTPClient struct {
		TimeoutSeconds int `yaml:"timeoutSeconds" env:"EVDASH_HTTP_TIMEOUT"`
	} `yaml:"httpClient"`
}

// LoadClient reads daemon configuration and applies defaults.
func LoadClient() (*Client, error) {
	cfg := &Client{}
	if err := Load(cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Backend.BaseURL) == "" {
		cfg.Backend.BaseURL = "http://localhost:8090"
	}
	if strings.TrimSpace(cfg.Backend.WebsocketURL) == "" {
		cfg.Backend.WebsocketURL = "ws://localhost:4449"
	}
	if cfg.Sync.ReconnectSeconds <= 0 {
		cfg.Sync.ReconnectSeconds = 3
	}
	if cfg.Sync.RefreshLeadSeconds <= 0 {
		cfg.Sync.RefreshLeadSeconds = 60
	}
	if cfg.HTTPClient.TimeoutSeconds <= 0 {
		cfg.HTTPClient.TimeoutSeconds = 10
	}
	return cfg, nil
}

// ReconnectDelay returns the fixed reconnect backoff.
func (c *Client) ReconnectDelay() time.Duration {
	return time.Duration(c.Sync.ReconnectSeconds) * time.Second
}

// RefreshLead returns how long before expiry the token refresh fires.
func (c *Client) RefreshLead() time.Duration {
	return time.Duration(c.Sync.RefreshLeadSeconds) * time.Second
}

// HTTPTimeout returns the login/refresh HTTP client timeout.
func (c *Client) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPClient.TimeoutSeconds) * time.Second
}

// Server defines configuration for the development backend.
type Server struct {
	HTTP struct {
		Port string `yaml:"port" env:"EVDASH_SERVER_HTTP_PORT"`
	} `yaml:"http"`
	Websocket struct {
		Port string `yaml:"port" env:"EVDASH_SERVER_WS_PORT"`
	} `yaml:"websocket"`
	JWT struct {
		Secret     string `yaml:"secret" env:"EVDASH_SERVER_JWT_SECRET"`
		TTLSeconds int    `yaml:"ttlSeconds" env:"EVDASH_SERVER_JWT_TTL"`
	} `yaml:"jwt"`
	Users map[string]string `yaml:"users"`
}

// LoadServer reads dev server configuration and applies defaults.
func LoadServer() (*Server, error) {
	cfg := &Server{}
	if err := Load(cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.HTTP.Port) == "" {
		cfg.HTTP.Port = "8090"
	}
	if strings.TrimSpace(cfg.Websocket.Port) == "" {
		cfg.Websocket.Port = "4449"
	}
	if cfg.JWT.TTLSeconds <= 0 {
		cfg.JWT.TTLSeconds = 3600
	}
	if strings.TrimSpace(cfg.JWT.Secret) == "" {
		return nil, errors.New("config: jwt secret required")
	}
	if len(cfg.Users) == 0 {
		cfg.Users = map[string]string{"demo": "demo"}
	}
	return cfg, nil
}

// HTTPAddress returns :port style listen address.
func (c *Server) HTTPAddress() string {
	return listenAddress(c.HTTP.Port)
}

// WebsocketAddress returns :port style listen address.
func (c *Server) WebsocketAddress() string {
	return listenAddress(c.Websocket.Port)
}

// TokenTTL returns issued token lifetime.
func (c *Server) TokenTTL() time.Duration {
	return time.Duration(c.JWT.TTLSeconds) * time.Second
}

func listenAddress(port string) string {
	port = strings.TrimSpace(port)
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}
