package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/kkrugley/pinq/internal/pairing"
)

const (
	DefaultAddr      = ":8080"
	DefaultJoinRate  = 1.0
	DefaultJoinBurst = 10
)

// ServerConfig holds pinq-server settings.
type ServerConfig struct {
	Addr      string
	RoomTTL   time.Duration
	JoinRate  float64
	JoinBurst int
	LogLevel  string
}

// ServerOptions carries flag values. Zero values fall through.
type ServerOptions struct {
	ConfigFile string
	Addr       string
	RoomTTL    time.Duration
	JoinRate   float64
	JoinBurst  int
	LogLevel   string
}

// LoadServer resolves flag > env > file > default for the broker.
func LoadServer(opts ServerOptions) (*ServerConfig, error) {
	file, err := ReadFile(first(opts.ConfigFile, env("PINQ_CONFIG")))
	if err != nil {
		return nil, err
	}
	b := file.Broker

	cfg := &ServerConfig{
		Addr:     first(opts.Addr, env("PINQ_ADDR"), b.Addr, DefaultAddr),
		LogLevel: first(opts.LogLevel, env("LOG_LEVEL"), b.LogLevel),
	}

	cfg.RoomTTL = opts.RoomTTL
	if cfg.RoomTTL == 0 {
		raw := first(env("PINQ_ROOM_TTL"), b.RoomTTL)
		if raw == "" {
			cfg.RoomTTL = pairing.RoomTTL
		} else if cfg.RoomTTL, err = time.ParseDuration(raw); err != nil {
			return nil, fmt.Errorf("invalid room TTL %q: %w", raw, err)
		}
	}
	if cfg.RoomTTL <= 0 {
		return nil, fmt.Errorf("room TTL must be positive, got %s", cfg.RoomTTL)
	}

	cfg.JoinRate = opts.JoinRate
	if cfg.JoinRate == 0 {
		if raw := env("PINQ_JOIN_RATE"); raw != "" {
			if cfg.JoinRate, err = strconv.ParseFloat(raw, 64); err != nil {
				return nil, fmt.Errorf("invalid join rate %q: %w", raw, err)
			}
		} else if b.JoinRate != 0 {
			cfg.JoinRate = b.JoinRate
		} else {
			cfg.JoinRate = DefaultJoinRate
		}
	}

	cfg.JoinBurst = opts.JoinBurst
	if cfg.JoinBurst == 0 {
		cfg.JoinBurst = b.JoinBurst
	}
	if cfg.JoinBurst == 0 {
		cfg.JoinBurst = DefaultJoinBurst
	}

	return cfg, nil
}
