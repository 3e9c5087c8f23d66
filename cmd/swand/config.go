package main

import (
	"os"

	"github.com/jsccast/yaml"
)

// Config is the daemon's configuration file.
type Config struct {
	// Listen is the HTTP address.
	Listen string `yaml:"listen" json:"listen"`

	// Storage is the bolt file for registered expressions.  Empty
	// means nothing persists.
	Storage string `yaml:"storage,omitempty" json:"storage,omitempty"`

	MQTT *MQTTConfig `yaml:"mqtt,omitempty" json:"mqtt,omitempty"`

	// Sensors gives default configurations by sensor entity.
	Sensors map[string]map[string]string `yaml:"sensors,omitempty" json:"sensors,omitempty"`

	// External are the value paths of the "ext" sensor, whose
	// values arrive through the API.
	External []string `yaml:"external,omitempty" json:"external,omitempty"`

	// Libraries is a directory of ECMAScript libraries for MQTT
	// extract programs.
	Libraries string `yaml:"libraries,omitempty" json:"libraries,omitempty"`

	// Expressions are registered at startup.
	Expressions []ExpressionConfig `yaml:"expressions,omitempty" json:"expressions,omitempty"`

	MaxExpressions int `yaml:"maxExpressions,omitempty" json:"maxExpressions,omitempty"`

	// MaxConnections limits concurrent HTTP connections.  Zero
	// means no limit.
	MaxConnections int `yaml:"maxConnections,omitempty" json:"maxConnections,omitempty"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker" json:"broker"`
	ClientID string `yaml:"clientId,omitempty" json:"clientId,omitempty"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"-"`
}

type ExpressionConfig struct {
	ID     string `yaml:"id" json:"id"`
	Source string `yaml:"source" json:"source"`
	Doc    string `yaml:"doc,omitempty" json:"doc,omitempty"`
}

// DefaultConfig is what a missing configuration file means.
func DefaultConfig() *Config {
	return &Config{
		Listen:         ":8080",
		External:       []string{"value"},
		MaxExpressions: 1024,
		MaxConnections: 256,
	}
}

// ReadConfig reads a YAML configuration file.  Settings the file
// doesn't mention keep their defaults.
func ReadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()
	if filename == "" {
		return cfg, nil
	}
	bs, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	if err = yaml.Unmarshal(bs, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
