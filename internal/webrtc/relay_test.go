package webrtc

import (
	"net"
	"testing"
)

func TestRelayHint(t *testing.T) {
	tests := []struct {
		name string
		ips  []net.IP
		want bool
	}{
		{"eth0", []net.IP{net.ParseIP("192.168.1.20")}, false},
		{"wlan0", nil, false},
		{"tun0", nil, true},
		{"wg0", nil, true},
		{"CloudflareWARP", nil, true},
		{"en0", []net.IP{net.ParseIP("100.101.2.3")}, true},
		{"en0", []net.IP{net.ParseIP("100.128.0.1")}, false},
	}
	for _, tt := range tests {
		if got := relayHint(tt.name, tt.ips); got != tt.want {
			t.Errorf("relayHint(%q, %v) = %v, want %v", tt.name, tt.ips, got, tt.want)
		}
	}
}
