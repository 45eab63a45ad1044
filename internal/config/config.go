package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Source kinds
const (
	SourceFile   = "file"
	SourceSerial = "serial"
	SourcePcap   = "pcap"
)

// Config represents the complete decoder service configuration
type Config struct {
	Sensor   SensorConfig   `yaml:"sensor"`
	Source   SourceConfig   `yaml:"source"`
	Sessions SessionsConfig `yaml:"sessions"`
	HTTP     HTTPConfig     `yaml:"http"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SensorConfig selects the sensor type and its decoding parameters
type SensorConfig struct {
	Type            int     `yaml:"type"`             // 0 human, 1 cat, 2 rabbit, 3 dog
	BRThreshold     float64 `yaml:"br_threshold"`     // 0 keeps the default gate
	BacklogPackages int     `yaml:"backlog_packages"` // 0 keeps the default backlog
	ReportInterval  int     `yaml:"report_interval"`  // seconds
}

// SourceConfig describes where the raw sensor byte stream comes from
type SourceConfig struct {
	Kind          string       `yaml:"kind"`
	Path          string       `yaml:"path"`
	ChunkSize     int          `yaml:"chunk_size"`
	ChunkInterval int          `yaml:"chunk_interval"` // milliseconds, file pacing
	UDPPort       int          `yaml:"udp_port"`       // pcap payload filter, 0 accepts any port
	Serial        SerialConfig `yaml:"serial"`
}

// SerialConfig contains serial line settings of the receiver dongle
type SerialConfig struct {
	BaudRate    int    `yaml:"baud_rate"`
	DataBits    int    `yaml:"data_bits"`
	StopBits    int    `yaml:"stop_bits"`
	Parity      string `yaml:"parity"`
	ReadTimeout int    `yaml:"read_timeout"` // milliseconds
}

// SessionsConfig contains session lifetime parameters
type SessionsConfig struct {
	IdleTimeout     int `yaml:"idle_timeout"`     // seconds, 0 disables
	CleanupInterval int `yaml:"cleanup_interval"` // seconds
}

// HTTPConfig contains monitoring HTTP server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Sensor.Validate(); err != nil {
		return fmt.Errorf("sensor config: %w", err)
	}

	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("source config: %w", err)
	}

	if err := c.Sessions.Validate(); err != nil {
		return fmt.Errorf("sessions config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates sensor configuration. Unsupported type codes are
// reported by session initialization, not here.
func (s *SensorConfig) Validate() error {
	if s.Type < 0 || s.Type > 255 {
		return fmt.Errorf("type must be between 0 and 255, got %d", s.Type)
	}

	if s.BRThreshold < 0 {
		return fmt.Errorf("br_threshold must be non-negative, got %g", s.BRThreshold)
	}

	if s.BacklogPackages < 0 || s.BacklogPackages > 4096 {
		return fmt.Errorf("backlog_packages must be between 0 and 4096, got %d", s.BacklogPackages)
	}

	if s.ReportInterval < 0 || s.ReportInterval > 3600 {
		return fmt.Errorf("report_interval must be between 0 and 3600 seconds, got %d", s.ReportInterval)
	}

	return nil
}

// Validate validates source configuration
func (s *SourceConfig) Validate() error {
	switch s.Kind {
	case SourceFile, SourceSerial, SourcePcap:
	default:
		return fmt.Errorf("kind must be one of: file, serial, pcap, got %q", s.Kind)
	}

	if s.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	if s.ChunkSize < 1 || s.ChunkSize > 65536 {
		return fmt.Errorf("chunk_size must be between 1 and 65536, got %d", s.ChunkSize)
	}

	if s.ChunkInterval < 0 || s.ChunkInterval > 60000 {
		return fmt.Errorf("chunk_interval must be between 0 and 60000 ms, got %d", s.ChunkInterval)
	}

	if s.UDPPort < 0 || s.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 0 and 65535, got %d", s.UDPPort)
	}

	if s.Kind == SourceSerial {
		if err := s.Serial.Validate(); err != nil {
			return fmt.Errorf("serial: %w", err)
		}
	}

	return nil
}

// Validate validates serial configuration; zero values select defaults
func (s *SerialConfig) Validate() error {
	if s.BaudRate < 0 {
		return fmt.Errorf("baud_rate must be non-negative, got %d", s.BaudRate)
	}

	if s.DataBits != 0 && (s.DataBits < 5 || s.DataBits > 8) {
		return fmt.Errorf("data_bits must be between 5 and 8, got %d", s.DataBits)
	}

	if s.StopBits != 0 && s.StopBits != 1 && s.StopBits != 2 {
		return fmt.Errorf("stop_bits must be 1 or 2, got %d", s.StopBits)
	}

	switch strings.ToUpper(strings.TrimSpace(s.Parity)) {
	case "", "N", "NONE", "E", "EVEN", "O", "ODD":
	default:
		return fmt.Errorf("parity must be one of: N, E, O, got %q", s.Parity)
	}

	if s.ReadTimeout < 0 || s.ReadTimeout > 60000 {
		return fmt.Errorf("read_timeout must be between 0 and 60000 ms, got %d", s.ReadTimeout)
	}

	return nil
}

// Validate validates session configuration
func (s *SessionsConfig) Validate() error {
	if s.IdleTimeout < 0 || s.IdleTimeout > 86400 {
		return fmt.Errorf("idle_timeout must be between 0 and 86400 seconds, got %d", s.IdleTimeout)
	}

	if s.CleanupInterval < 1 || s.CleanupInterval > 3600 {
		return fmt.Errorf("cleanup_interval must be between 1 and 3600 seconds, got %d", s.CleanupInterval)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if !h.Enabled {
		return nil // Skip validation if HTTP is disabled
	}

	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of: debug, info, warn, error, got %s", l.Level)
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}

	if !validFormats[l.Format] {
		return fmt.Errorf("format must be one of: json, text, got %s", l.Format)
	}

	return nil
}

// GetReportInterval returns the reading log interval as time.Duration
func (s *SensorConfig) GetReportInterval() time.Duration {
	return time.Duration(s.ReportInterval) * time.Second
}

// GetChunkInterval returns the file pacing interval as time.Duration
func (s *SourceConfig) GetChunkInterval() time.Duration {
	return time.Duration(s.ChunkInterval) * time.Millisecond
}

// GetReadTimeout returns the serial read timeout as time.Duration
func (s *SerialConfig) GetReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Millisecond
}

// GetIdleTimeout returns the session idle timeout as time.Duration
func (s *SessionsConfig) GetIdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeout) * time.Second
}

// GetCleanupInterval returns the idle check interval as time.Duration
func (s *SessionsConfig) GetCleanupInterval() time.Duration {
	return time.Duration(s.CleanupInterval) * time.Second
}
