package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EndpointEnv overrides the transport endpoint when set
const EndpointEnv = "SIGNSTREAM_ENDPOINT"

// Config represents the complete service configuration
type Config struct {
	Capture   CaptureConfig   `yaml:"capture"`
	Transport TransportConfig `yaml:"transport"`
	Playback  PlaybackConfig  `yaml:"playback"`
	HTTP      HTTPConfig      `yaml:"http"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Backend   BackendConfig   `yaml:"backend"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// CaptureConfig contains capture device configuration
type CaptureConfig struct {
	Source    string `yaml:"source"`    // "-" for stdin, a file or FIFO path, or empty for no audio
	ReadSize  int    `yaml:"read_size"` // bytes per read from the source
	AutoStart bool   `yaml:"auto_start"`
}

// TransportConfig contains translation backend configuration
type TransportConfig struct {
	Endpoint string `yaml:"endpoint"`
}

// PlaybackConfig contains playback surface configuration
type PlaybackConfig struct {
	Mode                string   `yaml:"mode"`    // "exec" or "timed"
	Command             []string `yaml:"command"` // argv, "{url}" is replaced with the clip
	SimulatedDurationMs int      `yaml:"simulated_duration_ms"`
}

// HTTPConfig contains HTTP control server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// BridgeConfig contains processing bridge configuration
type BridgeConfig struct {
	Enabled   bool   `yaml:"enabled"`    // serve /bridge on the HTTP server
	RemoteURL string `yaml:"remote_url"` // send chunks through a remote bridge instead
}

// BackendConfig contains stub backend configuration
type BackendConfig struct {
	Address       string   `yaml:"address"`
	Port          int      `yaml:"port"`
	Path          string   `yaml:"path"`
	Clips         []string `yaml:"clips"`
	ClipsPerChunk int      `yaml:"clips_per_chunk"`
	Legacy        bool     `yaml:"legacy"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used for keys the file leaves out
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			Source:   "-",
			ReadSize: 4096,
		},
		Transport: TransportConfig{
			Endpoint: "http://localhost:5000/process-audio",
		},
		Playback: PlaybackConfig{
			Mode:                "exec",
			Command:             []string{"ffplay", "-autoexit", "-loglevel", "quiet", "{url}"},
			SimulatedDurationMs: 2000,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "127.0.0.1",
			Enabled: true,
		},
		Backend: BackendConfig{
			Address:       "127.0.0.1",
			Port:          5000,
			Path:          "/process-audio",
			ClipsPerChunk: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file.
// Values from a .env file next to the process and from the environment
// are applied before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := LoadEnvFile(".env"); err != nil {
		return nil, err
	}
	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// LoadEnvFile loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv applies environment overrides
func (c *Config) ApplyEnv() {
	if endpoint := strings.TrimSpace(os.Getenv(EndpointEnv)); endpoint != "" {
		c.Transport.Endpoint = endpoint
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("transport config: %w", err)
	}

	if err := c.Playback.Validate(); err != nil {
		return fmt.Errorf("playback config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Bridge.Validate(); err != nil {
		return fmt.Errorf("bridge config: %w", err)
	}

	if c.Bridge.Enabled && !c.HTTP.Enabled {
		return fmt.Errorf("bridge config: enabled requires http.enabled")
	}

	if err := c.Backend.Validate(); err != nil {
		return fmt.Errorf("backend config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	if c.ReadSize < 512 || c.ReadSize > 1<<20 {
		return fmt.Errorf("read_size must be between 512 and 1048576 bytes, got %d", c.ReadSize)
	}

	return nil
}

// Validate validates transport configuration
func (t *TransportConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	u, err := url.Parse(t.Endpoint)
	if err != nil {
		return fmt.Errorf("endpoint is not a valid URL: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint must use http or https, got '%s'", u.Scheme)
	}

	return nil
}

// Validate validates playback configuration
func (p *PlaybackConfig) Validate() error {
	switch p.Mode {
	case "exec":
		if len(p.Command) == 0 || strings.TrimSpace(p.Command[0]) == "" {
			return fmt.Errorf("command cannot be empty in exec mode")
		}
	case "timed":
		if p.SimulatedDurationMs < 1 {
			return fmt.Errorf("simulated_duration_ms must be positive in timed mode, got %d", p.SimulatedDurationMs)
		}
	default:
		return fmt.Errorf("mode must be 'exec' or 'timed', got '%s'", p.Mode)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates bridge configuration
func (b *BridgeConfig) Validate() error {
	if b.RemoteURL == "" {
		return nil
	}

	u, err := url.Parse(b.RemoteURL)
	if err != nil {
		return fmt.Errorf("remote_url is not a valid URL: %w", err)
	}

	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("remote_url must use ws or wss, got '%s'", u.Scheme)
	}

	return nil
}

// Validate validates backend configuration
func (b *BackendConfig) Validate() error {
	if b.Port < 1 || b.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", b.Port)
	}

	if !strings.HasPrefix(b.Path, "/") {
		return fmt.Errorf("path must start with '/', got '%s'", b.Path)
	}

	if b.ClipsPerChunk < 1 {
		return fmt.Errorf("clips_per_chunk must be at least 1, got %d", b.ClipsPerChunk)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout/stderr is a file path

	return nil
}

// GetSimulatedDuration returns the simulated clip duration as a time.Duration
func (p *PlaybackConfig) GetSimulatedDuration() time.Duration {
	return time.Duration(p.SimulatedDurationMs) * time.Millisecond
}

// GetListenAddress returns the HTTP listen address
func (h *HTTPConfig) GetListenAddress() string {
	return fmt.Sprintf("%s:%d", h.Address, h.Port)
}

// GetListenAddress returns the backend listen address
func (b *BackendConfig) GetListenAddress() string {
	return fmt.Sprintf("%s:%d", b.Address, b.Port)
}
