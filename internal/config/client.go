package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Default configuration values
const (
	DefaultServer = "http://localhost:8080"
	DefaultSTUN   = "stun:stun.l.google.com:19302"
)

// Config holds the pinq CLI configuration
type Config struct {
	// ServerURL is the broker's base URL.
	ServerURL string

	// WebSocketURL and HealthURL are derived from ServerURL.
	WebSocketURL string
	HealthURL    string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	// DownloadDir is where received files are saved.
	DownloadDir string
}

// Options carries CLI flag values; empty fields fall through.
type Options struct {
	ConfigFile string
	Server     string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
	Dir        string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. The YAML config file
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	file, err := ReadFile(first(opts.ConfigFile, env("PINQ_CONFIG")))
	if err != nil {
		return nil, err
	}

	server := first(opts.Server, env("PINQ_SERVER"), file.Server, DefaultServer)
	wsURL, healthURL, err := DeriveURLs(server)
	if err != nil {
		return nil, err
	}

	return &Config{
		ServerURL:    strings.TrimRight(server, "/"),
		WebSocketURL: wsURL,
		HealthURL:    healthURL,
		STUNServer:   first(opts.STUNServer, env("STUN_SERVER"), file.STUNServer, DefaultSTUN),
		TURNServer:   first(opts.TURNServer, env("TURN_SERVER"), file.TURNServer),
		TURNUser:     first(opts.TURNUser, env("TURN_USERNAME"), file.TURNUser),
		TURNPass:     first(opts.TURNPass, env("TURN_PASSWORD"), file.TURNPass),
		ForceRelay:   opts.ForceRelay || env("PINQ_FORCE_RELAY") == "1" || file.ForceRelay,
		DownloadDir:  first(opts.Dir, env("PINQ_DIR"), file.Dir, "."),
	}, nil
}

// DeriveURLs turns a broker base URL into its websocket and health
// endpoints. A bare host gets http for loopback addresses and https
// otherwise.
func DeriveURLs(server string) (wsURL, healthURL string, err error) {
	server = strings.TrimSpace(server)
	if !strings.Contains(server, "://") {
		scheme := "https://"
		if isLoopback(server) {
			scheme = "http://"
		}
		server = scheme + server
	}

	u, err := url.Parse(server)
	if err != nil || u.Host == "" {
		return "", "", fmt.Errorf("invalid server URL %q", server)
	}

	base := strings.TrimRight(u.Path, "/")
	u.RawQuery, u.Fragment = "", ""

	health := *u
	health.Path = base + "/health"
	switch u.Scheme {
	case "ws":
		health.Scheme = "http"
	case "wss":
		health.Scheme = "https"
	}

	ws := *u
	ws.Path = base + "/ws"
	switch u.Scheme {
	case "http", "ws":
		ws.Scheme = "ws"
	case "https", "wss":
		ws.Scheme = "wss"
	default:
		return "", "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}

	return ws.String(), health.String(), nil
}

func isLoopback(hostport string) bool {
	host := hostport
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// RoomLink returns a shareable link for a pairing code.
func (c *Config) RoomLink(code string) string {
	return fmt.Sprintf("%s/r/%s", c.ServerURL, code)
}

// STUNServers returns STUN server URLs as strings
func (c *Config) STUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// TURNServers returns TURN server URLs if configured
func (c *Config) TURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(strings.TrimPrefix(c.TURNServer, "turn:"), "turns:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// TURNCredentials returns TURN username and password
func (c *Config) TURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}
