package config

import "os"

// first returns the first non-empty value.
func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func env(key string) string {
	return os.Getenv(key)
}
