package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Prewarm polls the broker's health endpoint until it answers, waking a
// cold-started deployment before the websocket dial.
func Prewarm(ctx context.Context, healthURL string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	backoff := time.Second

	for {
		err := probe(ctx, client, healthURL)
		if err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("broker not reachable: %w", err)
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 8*time.Second)
	}
}

func probe(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health returned %s", resp.Status)
	}
	var body struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return err
	}
	if !body.OK {
		return fmt.Errorf("broker reported not ok")
	}
	return nil
}
