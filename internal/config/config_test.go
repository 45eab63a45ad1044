package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		Sensor: SensorConfig{
			Type:            1,
			BRThreshold:     200,
			BacklogPackages: 64,
			ReportInterval:  5,
		},
		Source: SourceConfig{
			Kind:          SourceFile,
			Path:          "./captures/cat.bin",
			ChunkSize:     244,
			ChunkInterval: 50,
		},
		Sessions: SessionsConfig{
			IdleTimeout:     300,
			CleanupInterval: 30,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(c *Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid configuration",
			modify:      func(c *Config) {},
			expectError: false,
		},
		{
			name:        "negative sensor type",
			modify:      func(c *Config) { c.Sensor.Type = -1 },
			expectError: true,
			errorMsg:    "type must be between 0 and 255",
		},
		{
			name:        "negative br threshold",
			modify:      func(c *Config) { c.Sensor.BRThreshold = -3 },
			expectError: true,
			errorMsg:    "br_threshold must be non-negative",
		},
		{
			name:        "oversized backlog",
			modify:      func(c *Config) { c.Sensor.BacklogPackages = 10000 },
			expectError: true,
			errorMsg:    "backlog_packages must be between 0 and 4096",
		},
		{
			name:        "unknown source kind",
			modify:      func(c *Config) { c.Source.Kind = "udp" },
			expectError: true,
			errorMsg:    "kind must be one of: file, serial, pcap",
		},
		{
			name:        "empty source path",
			modify:      func(c *Config) { c.Source.Path = "" },
			expectError: true,
			errorMsg:    "path cannot be empty",
		},
		{
			name:        "zero chunk size",
			modify:      func(c *Config) { c.Source.ChunkSize = 0 },
			expectError: true,
			errorMsg:    "chunk_size must be between 1 and 65536",
		},
		{
			name:        "invalid udp port filter",
			modify:      func(c *Config) { c.Source.Kind = SourcePcap; c.Source.UDPPort = 70000 },
			expectError: true,
			errorMsg:    "udp_port must be between 0 and 65535",
		},
		{
			name: "serial parity checked for serial sources",
			modify: func(c *Config) {
				c.Source.Kind = SourceSerial
				c.Source.Serial.Parity = "mark"
			},
			expectError: true,
			errorMsg:    "serial: parity must be one of",
		},
		{
			name:        "serial settings ignored for file sources",
			modify:      func(c *Config) { c.Source.Serial.Parity = "mark" },
			expectError: false,
		},
		{
			name:        "zero cleanup interval",
			modify:      func(c *Config) { c.Sessions.CleanupInterval = 0 },
			expectError: true,
			errorMsg:    "cleanup_interval must be between 1 and 3600",
		},
		{
			name:        "invalid http port",
			modify:      func(c *Config) { c.HTTP.Port = 0 },
			expectError: true,
			errorMsg:    "port must be between 1 and 65535",
		},
		{
			name:        "disabled http skips validation",
			modify:      func(c *Config) { c.HTTP = HTTPConfig{Enabled: false} },
			expectError: false,
		},
		{
			name:        "invalid log level",
			modify:      func(c *Config) { c.Logging.Level = "trace" },
			expectError: true,
			errorMsg:    "level must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.modify(&config)

			err := config.Validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error message to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid config file",
			configYAML: `
sensor:
  type: 0
  br_threshold: 150
  report_interval: 10
source:
  kind: serial
  path: /dev/ttyUSB0
  chunk_size: 128
  serial:
    baud_rate: 115200
    parity: none
    read_timeout: 200
sessions:
  idle_timeout: 0
  cleanup_interval: 30
http:
  port: 9090
  address: "127.0.0.1"
  enabled: true
logging:
  level: debug
  format: text
  output: stderr
`,
			expectError: false,
		},
		{
			name: "invalid YAML",
			configYAML: `
sensor:
  type: [1, 2
`,
			expectError: true,
			errorMsg:    "failed to parse config file",
		},
		{
			name: "missing source",
			configYAML: `
sensor:
  type: 1
sessions:
  cleanup_interval: 30
logging:
  level: info
  format: json
`,
			expectError: true,
			errorMsg:    "source config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			err := os.WriteFile(configPath, []byte(tt.configYAML), 0644)
			if err != nil {
				t.Fatalf("Failed to write test config: %v", err)
			}

			config, err := Load(configPath)
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error message to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if config.Sensor.Type != 0 {
				t.Errorf("Expected sensor type 0, got %d", config.Sensor.Type)
			}
			if config.Sensor.BRThreshold != 150 {
				t.Errorf("Expected br_threshold 150, got %g", config.Sensor.BRThreshold)
			}
			if config.Source.Kind != SourceSerial {
				t.Errorf("Expected serial source, got %s", config.Source.Kind)
			}
			if config.Source.Serial.BaudRate != 115200 {
				t.Errorf("Expected baud rate 115200, got %d", config.Source.Serial.BaudRate)
			}
			if config.HTTP.Port != 9090 {
				t.Errorf("Expected HTTP port 9090, got %d", config.HTTP.Port)
			}
		})
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Expected error for nonexistent file")
	}
	if !contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected read error, got: %v", err)
	}
}

func TestDurationHelpers(t *testing.T) {
	config := validConfig()
	config.Source.Serial.ReadTimeout = 250

	tests := []struct {
		name     string
		got      time.Duration
		expected time.Duration
	}{
		{"report interval", config.Sensor.GetReportInterval(), 5 * time.Second},
		{"chunk interval", config.Source.GetChunkInterval(), 50 * time.Millisecond},
		{"read timeout", config.Source.Serial.GetReadTimeout(), 250 * time.Millisecond},
		{"idle timeout", config.Sessions.GetIdleTimeout(), 5 * time.Minute},
		{"cleanup interval", config.Sessions.GetCleanupInterval(), 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, tt.got)
			}
		})
	}
}

func TestSerialConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config SerialConfig
		valid  bool
	}{
		{"defaults", SerialConfig{}, true},
		{"full", SerialConfig{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "E", ReadTimeout: 100}, true},
		{"lowercase parity", SerialConfig{Parity: "odd"}, true},
		{"data bits too small", SerialConfig{DataBits: 4}, false},
		{"unsupported stop bits", SerialConfig{StopBits: 3}, false},
		{"negative baud", SerialConfig{BaudRate: -1}, false},
		{"read timeout too long", SerialConfig{ReadTimeout: 120000}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.valid && err != nil {
				t.Errorf("Expected valid config but got error: %v", err)
			}
			if !tt.valid && err == nil {
				t.Errorf("Expected invalid config but got no error")
			}
		})
	}
}

// Helper function to check if a string contains a substring
func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(substr) == 0 ||
		(len(s) > len(substr) && findSubstring(s, substr)))
}

func findSubstring(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
