package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the optional YAML configuration file. Every field may be left
// out; flags and environment variables still take precedence.
type File struct {
	Server     string `yaml:"server"`
	STUNServer string `yaml:"stun_server"`
	TURNServer string `yaml:"turn_server"`
	TURNUser   string `yaml:"turn_username"`
	TURNPass   string `yaml:"turn_password"`
	ForceRelay bool   `yaml:"force_relay"`
	Dir        string `yaml:"download_dir"`

	Broker BrokerFile `yaml:"broker"`
}

// BrokerFile holds the pinq-server settings.
type BrokerFile struct {
	Addr      string  `yaml:"addr"`
	RoomTTL   string  `yaml:"room_ttl"`
	JoinRate  float64 `yaml:"join_rate"`
	JoinBurst int     `yaml:"join_burst"`
	LogLevel  string  `yaml:"log_level"`
}

// ReadFile parses a YAML config file. An empty path yields an empty File.
func ReadFile(path string) (*File, error) {
	f := &File{}
	if path == "" {
		return f, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return f, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return f, nil
}
