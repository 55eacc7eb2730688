package instance

import (
	"os"

	"github.com/angelmondragon/walamarket/pkg/env"
)

// ID names this process in logs: WALAMARKET_INSTANCE_ID, the platform dyno
// name, the hostname, or "local".
func ID() string {
	if id := env.Get("INSTANCE_ID", ""); id != "" {
		return id
	}
	if id := os.Getenv("DYNO"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
