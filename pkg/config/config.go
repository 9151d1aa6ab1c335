package config

import "time"

// Client definition chat_client YAML structure
type Client struct {
	API      APIConfig      `mapstructure:"api"`
	Socket   SocketConfig   `mapstructure:"socket"`
	History  HistoryConfig  `mapstructure:"history"`
	MongoSQL DatabaseConfig `mapstructure:"mongo"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Session  SessionConfig  `mapstructure:"session"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Timezone string         `mapstructure:"timezone"`
	Debug    bool           `mapstructure:"debug"`
}

// APIConfig definition REST collaborator endpoint
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SocketConfig definition event channel endpoint
type SocketConfig struct {
	// Kind websocket | redis
	Kind             string        `mapstructure:"kind"`
	URL              string        `mapstructure:"url"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
}

// HistoryConfig definition where message history is read from
type HistoryConfig struct {
	// Source rest | mongo
	Source string `mapstructure:"source"`
}

// SessionConfig definition logged-in session
type SessionConfig struct {
	Token string `mapstructure:"token"`
}

// SyncConfig definition coordinator tuning
type SyncConfig struct {
	ReplayBuffer int `mapstructure:"replay_buffer"`
}

// RedisConfig definition redis setting
type RedisConfig struct {
	Addr    string `mapstructure:"addr"`
	RedisDB int    `mapstructure:"redis_db"`
}

// DatabaseConfig definition db setting
type DatabaseConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Database      string `mapstructure:"database"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}

// Defaults fill zero values
func (c *Client) Defaults() {
	if c.API.Timeout <= 0 {
		c.API.Timeout = 10 * time.Second
	}
	if c.Socket.Kind == "" {
		c.Socket.Kind = "websocket"
	}
	if c.Socket.HandshakeTimeout <= 0 {
		c.Socket.HandshakeTimeout = 10 * time.Second
	}
	if c.Socket.WriteTimeout <= 0 {
		c.Socket.WriteTimeout = 5 * time.Second
	}
	if c.History.Source == "" {
		c.History.Source = "rest"
	}
	if c.Sync.ReplayBuffer <= 0 {
		c.Sync.ReplayBuffer = 256
	}
}

// Location timezone used for date grouping
func (c *Client) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}
