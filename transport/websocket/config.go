package websocket

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML shape of a hub configuration. Durations use
// time.ParseDuration syntax ("10s", "1m30s").
type fileConfig struct {
	ReadLimit    int64  `yaml:"read_limit"`
	WriteTimeout string `yaml:"write_timeout"`
	PingInterval string `yaml:"ping_interval"`
	SendBuffer   int    `yaml:"send_buffer"`
}

// LoadHubConfigFile reads a HubConfig from a YAML file. Fields left empty in
// the file keep their documented defaults; Logger and CheckOrigin are code
// concerns and stay at their zero values for the caller to fill.
func LoadHubConfigFile(path string) (HubConfig, error) {
	var config HubConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return config, fmt.Errorf("parse config file %s: %w", path, err)
	}
	config.ReadLimit = fc.ReadLimit
	config.SendBuffer = fc.SendBuffer
	if config.WriteTimeout, err = parseOptionalDuration(fc.WriteTimeout); err != nil {
		return config, fmt.Errorf("parse config file %s: write_timeout: %w", path, err)
	}
	if config.PingInterval, err = parseOptionalDuration(fc.PingInterval); err != nil {
		return config, fmt.Errorf("parse config file %s: ping_interval: %w", path, err)
	}
	return config, nil
}

func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
