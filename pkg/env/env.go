package env

import (
	"os"
	"strings"
)

// Prefix namespaces every variable the services read.
const Prefix = "WALAMARKET_"

// Get returns WALAMARKET_<key> when set, then the bare key, then fallback.
func Get(key, fallback string) string {
	key = strings.TrimPrefix(key, Prefix)
	if val := strings.TrimSpace(os.Getenv(Prefix + key)); val != "" {
		return val
	}
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}
