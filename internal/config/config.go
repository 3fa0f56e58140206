// Package config handles configuration loading, validation, and persistence
// for rconctl. Files are JSON unless the path ends in .yaml or .yml.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/energizer-project/rconctl/internal/util"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultAPIPort    = 5080
	DefaultRCONPort   = 27015
	DefaultTimeoutSec = 10
)

// DefaultPath is where Load looks when no path is given.
var DefaultPath = filepath.Join(DefaultConfigDir, DefaultConfigFile)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Servers         []ServerConfig  `json:"servers" yaml:"servers"`
	ApplicationData ApplicationData `json:"application_data" yaml:"application_data"`
}

// ServerConfig describes one RCON target.
type ServerConfig struct {
	Name     string `json:"name" yaml:"name"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Password string `json:"password" yaml:"password"`

	// Encoding names the body text encoding, e.g. "windows-1252". Empty means UTF-8.
	Encoding string `json:"encoding,omitempty" yaml:"encoding,omitempty"`

	TimeoutSec        int  `json:"timeout_sec" yaml:"timeout_sec"`
	CommandTimeoutSec int  `json:"command_timeout_sec" yaml:"command_timeout_sec"`
	Enabled           bool `json:"enabled" yaml:"enabled"`
	MultiPacket       bool `json:"multi_packet" yaml:"multi_packet"`
}

// Address returns host:port.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DialTimeout returns the connect timeout.
func (s ServerConfig) DialTimeout() time.Duration {
	return secondsOr(s.TimeoutSec, DefaultTimeoutSec)
}

// CommandTimeout returns how long a single command may wait for its response.
func (s ServerConfig) CommandTimeout() time.Duration {
	return secondsOr(s.CommandTimeoutSec, DefaultTimeoutSec)
}

func secondsOr(sec, def int) time.Duration {
	if sec <= 0 {
		sec = def
	}
	return time.Duration(sec) * time.Second
}

// ApplicationData contains daemon settings.
type ApplicationData struct {
	Timers    TimerConfig   `json:"timers" yaml:"timers"`
	API       APIConfig     `json:"api" yaml:"api"`
	MQTT      MQTTConfig    `json:"mqtt" yaml:"mqtt"`
	History   HistoryConfig `json:"history" yaml:"history"`
	Scheduler []TaskConfig  `json:"scheduler" yaml:"scheduler"`
	Logging   LoggingConfig `json:"logging" yaml:"logging"`
}

// TimerConfig holds health check intervals. Zero disables a check.
type TimerConfig struct {
	HealthInterval      int    `json:"health_interval_sec" yaml:"health_interval_sec"`
	ReconnectDelay      int    `json:"reconnect_delay_sec" yaml:"reconnect_delay_sec"`
	KeepAliveInterval   int    `json:"keepalive_interval_sec" yaml:"keepalive_interval_sec"`
	KeepAliveCommand    string `json:"keepalive_command" yaml:"keepalive_command"`
	HostMetricsInterval int    `json:"host_metrics_interval_sec" yaml:"host_metrics_interval_sec"`
}

// APIConfig holds REST API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled"`
	Host           string   `json:"host" yaml:"host"`
	Port           int      `json:"port" yaml:"port"`
	Token          string   `json:"token" yaml:"token"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps" yaml:"rate_limit_rps"`
	TLSCertFile    string   `json:"tls_cert_file" yaml:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file" yaml:"tls_key_file"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	BrokerURL string `json:"broker_url" yaml:"broker_url"`
	Port      int    `json:"port" yaml:"port"`
	UseTLS    bool   `json:"use_tls" yaml:"use_tls"`
	CertFile  string `json:"cert_file" yaml:"cert_file"`
	KeyFile   string `json:"key_file" yaml:"key_file"`
	CAFile    string `json:"ca_file" yaml:"ca_file"`
	ClientID  string `json:"client_id" yaml:"client_id"`
	Username  string `json:"username" yaml:"username"`
	Password  string `json:"password" yaml:"password"`
}

// HistoryConfig holds the command history database settings.
type HistoryConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	Path          string `json:"path" yaml:"path"`
	RetentionDays int    `json:"retention_days" yaml:"retention_days"`
}

// TaskConfig is a command run periodically. Target is a server name or "*".
type TaskConfig struct {
	Name        string `json:"name" yaml:"name"`
	Target      string `json:"target" yaml:"target"`
	Command     string `json:"command" yaml:"command"`
	IntervalSec int    `json:"interval_sec" yaml:"interval_sec"`
	MultiPacket bool   `json:"multi_packet" yaml:"multi_packet"`
	Enabled     bool   `json:"enabled" yaml:"enabled"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level"`
	Directory  string `json:"directory" yaml:"directory"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
}

// LogConfig converts to the logger's settings, with console output on.
func (l LoggingConfig) LogConfig() util.LogConfig {
	return util.LogConfig{
		Level:      l.Level,
		Directory:  l.Directory,
		MaxBackups: l.MaxBackups,
		Console:    true,
	}
}

// DefaultConfig returns a configuration with sensible defaults and no servers.
func DefaultConfig() *Config {
	return &Config{
		Servers: []ServerConfig{},
		ApplicationData: ApplicationData{
			Timers: TimerConfig{
				HealthInterval:      30,
				ReconnectDelay:      5,
				KeepAliveInterval:   0,
				KeepAliveCommand:    "echo keepalive",
				HostMetricsInterval: 60,
			},
			API: APIConfig{
				Enabled:      true,
				Host:         "127.0.0.1",
				Port:         DefaultAPIPort,
				RateLimitRPS: 50,
			},
			MQTT: MQTTConfig{
				Enabled: false,
				Port:    1883,
			},
			History: HistoryConfig{
				Enabled:       true,
				Path:          filepath.Join("data", "history.db"),
				RetentionDays: 30,
			},
			Scheduler: []TaskConfig{},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxBackups: 5,
			},
		},
	}
}

// Load reads configuration from path, or DefaultPath when empty. A missing
// file is created with defaults. Environment references like ${RCON_PASSWORD}
// are expanded before parsing.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", path).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = path
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg, err := Parse(path, []byte(os.ExpandEnv(string(data))))
	if err != nil {
		return nil, err
	}
	cfg.path = path

	log.Info().Str("path", path).Int("servers", len(cfg.Servers)).Msg("configuration loaded")
	return cfg, nil
}

// Parse decodes data over the defaults. The format is chosen from the name's
// extension.
func Parse(name string, data []byte) (*Config, error) {
	cfg := DefaultConfig()

	var err error
	if isYAML(name) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", name, err)
	}
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Save writes the configuration to its path.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if dir := filepath.Dir(c.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	var (
		data []byte
		err  error
	)
	if isYAML(c.path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Server passwords live here.
	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetServers returns a copy of the server list.
func (c *Config) GetServers() []ServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ServerConfig, len(c.Servers))
	copy(out, c.Servers)
	return out
}

// GetServer looks a server up by name.
func (c *Config) GetServer(name string) (ServerConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.Servers {
		if s.Name == name {
			return s, true
		}
	}
	return ServerConfig{}, false
}

// UpsertServer adds srv, or replaces the server with the same name.
func (c *Config) UpsertServer(srv ServerConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.Servers {
		if s.Name == srv.Name {
			c.Servers[i] = srv
			return
		}
	}
	c.Servers = append(c.Servers, srv)
}

// RemoveServer deletes the named server and reports whether it existed.
func (c *Config) RemoveServer(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.Servers {
		if s.Name == name {
			c.Servers = append(c.Servers[:i], c.Servers[i+1:]...)
			return true
		}
	}
	return false
}

// GetApplicationData returns a copy of the application data configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// SetApplicationData updates the application data configuration.
func (c *Config) SetApplicationData(data ApplicationData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ApplicationData = data
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// SetPath changes where Save writes.
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}
