package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/0x9900/FT8Commander/selector"
)

const (
	configName = "ft8ctrl.yaml"

	defaultTXRetries    = 5
	defaultLogFileName  = "ft8ctrl.log"
	defaultLogFileSize  = 2 << 18
	defaultMQTTInterval = 60 // seconds
)

// configLocations is searched in order when no config file is given on
// the command line.
var configLocations = []string{"/etc", "~/.local/etc", "."}

// Config represents the application configuration. Any top-level section
// that is not one of the fixed ones is a selector section.
type Config struct {
	FT8Ctrl    FT8CtrlConfig        `yaml:"ft8ctrl"`
	BlackList  StringList           `yaml:"BlackList"`
	MQTT       MQTTConfig           `yaml:"mqtt"`
	Prometheus PrometheusConfig     `yaml:"prometheus"`
	Selectors  map[string]yaml.Node `yaml:",inline"`
}

// FT8CtrlConfig contains the controller settings.
type FT8CtrlConfig struct {
	DBName          string     `yaml:"db_name"`
	MyCall          string     `yaml:"my_call"`
	MyGrid          string     `yaml:"my_grid"`
	WSJTIP          string     `yaml:"wsjt_ip"`
	WSJTPort        int        `yaml:"wsjt_port"`
	LoggerIP        string     `yaml:"logger_ip"`
	LoggerPort      int        `yaml:"logger_port"`
	FollowFrequency bool       `yaml:"follow_frequency"`
	TXPower         int        `yaml:"tx_power"`
	TXRetries       int        `yaml:"tx_retries"`
	RetryTime       int        `yaml:"retry_time"` // minutes
	CallSelector    StringList `yaml:"call_selector"`
	LogFileName     string     `yaml:"logfile_name"`
	LogFileSize     int        `yaml:"logfile_size"`
	HomeDir         string     `yaml:"home_dir"`
	Debug           bool       `yaml:"debug"`
}

// MQTTConfig contains MQTT event publishing settings.
type MQTTConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Broker          string        `yaml:"broker"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	TopicPrefix     string        `yaml:"topic_prefix"`
	QoS             byte          `yaml:"qos"`
	Retain          bool          `yaml:"retain"`
	PublishInterval int           `yaml:"publish_interval"` // seconds, metrics snapshot
	TLS             MQTTTLSConfig `yaml:"tls"`
}

// MQTTTLSConfig contains TLS/SSL settings for the MQTT broker connection.
type MQTTTLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
}

// PrometheusConfig contains the metrics endpoint settings.
type PrometheusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// StringList accepts either a single scalar or a sequence in yaml.
type StringList []string

func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*l = StringList{s}
	case yaml.SequenceNode:
		var ss []string
		if err := node.Decode(&ss); err != nil {
			return err
		}
		*l = ss
	default:
		return fmt.Errorf("expected a string or a list, got yaml kind %d", node.Kind)
	}
	return nil
}

// LoadConfig reads the configuration from filename, or when filename is
// empty from the first ft8ctrl.yaml found in the usual locations.
// Unknown keys inside a known section are errors.
func LoadConfig(filename string) (*Config, error) {
	if filename == "" {
		var err error
		if filename, err = findConfig(); err != nil {
			return nil, err
		}
	}
	data, err := os.ReadFile(expandTilde(filename))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}

	if config.FT8Ctrl.TXRetries == 0 {
		config.FT8Ctrl.TXRetries = defaultTXRetries
	}
	if config.FT8Ctrl.LogFileName == "" {
		config.FT8Ctrl.LogFileName = defaultLogFileName
	}
	if config.FT8Ctrl.LogFileSize == 0 {
		config.FT8Ctrl.LogFileSize = defaultLogFileSize
	}
	if config.FT8Ctrl.HomeDir == "" {
		config.FT8Ctrl.HomeDir = filepath.Join(os.TempDir(), "ft8ctrl")
	} else {
		config.FT8Ctrl.HomeDir = expandTilde(config.FT8Ctrl.HomeDir)
	}
	if config.FT8Ctrl.DBName != "" {
		config.FT8Ctrl.DBName = expandTilde(config.FT8Ctrl.DBName)
	}
	if config.MQTT.Enabled && config.MQTT.TopicPrefix == "" {
		config.MQTT.TopicPrefix = "ft8ctrl"
	}
	if config.MQTT.Enabled && config.MQTT.PublishInterval == 0 {
		config.MQTT.PublishInterval = defaultMQTTInterval
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func findConfig() (string, error) {
	for _, dir := range configLocations {
		name := filepath.Join(expandTilde(dir), configName)
		if _, err := os.Stat(name); err == nil {
			return name, nil
		}
	}
	return "", fmt.Errorf("no %s found in %v", configName, configLocations)
}

func expandTilde(path string) string {
	if path == "~" || len(path) > 1 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

// Validate checks that the settings the controller cannot run without
// are present, and that every extra section names a known selector kind.
func (c *Config) Validate() error {
	ctrl := &c.FT8Ctrl
	switch {
	case ctrl.DBName == "":
		return fmt.Errorf("ft8ctrl.db_name is required")
	case ctrl.MyCall == "":
		return fmt.Errorf("ft8ctrl.my_call is required")
	case ctrl.MyGrid == "":
		return fmt.Errorf("ft8ctrl.my_grid is required")
	case ctrl.WSJTIP == "":
		return fmt.Errorf("ft8ctrl.wsjt_ip is required")
	case ctrl.WSJTPort == 0:
		return fmt.Errorf("ft8ctrl.wsjt_port is required")
	case ctrl.RetryTime <= 0:
		return fmt.Errorf("ft8ctrl.retry_time is required")
	case len(ctrl.CallSelector) == 0:
		return fmt.Errorf("ft8ctrl.call_selector is required")
	}
	for _, name := range ctrl.CallSelector {
		if !selector.IsKind(name) {
			return fmt.Errorf("ft8ctrl.call_selector: unknown selector %q", name)
		}
	}
	for name := range c.Selectors {
		if !selector.IsKind(name) {
			return fmt.Errorf("unknown configuration section %q", name)
		}
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if c.Prometheus.Enabled && c.Prometheus.Listen == "" {
		return fmt.Errorf("prometheus.listen is required when prometheus is enabled")
	}
	return nil
}

// SelectorSections hands the raw per-selector configuration to the
// pipeline builder.
func (c *Config) SelectorSections() map[string]*yaml.Node {
	sections := make(map[string]*yaml.Node, len(c.Selectors))
	for name, node := range c.Selectors {
		node := node
		sections[name] = &node
	}
	return sections
}
