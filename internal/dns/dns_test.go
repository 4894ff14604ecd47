package dns

import (
	"context"
	"testing"
)

func TestLookupIPLiteral(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"127.0.0.1", "127.0.0.1"},
		{"::1", "::1"},
		{"[::1]", "::1"},
	}
	for _, tt := range tests {
		got, err := Lookup(context.Background(), tt.in)
		if err != nil {
			t.Fatalf("Lookup(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("Lookup(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLookupCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Lookup(ctx, "pinq.invalid"); err == nil {
		t.Error("expected an error with a cancelled context")
	}
}
