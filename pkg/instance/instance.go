package instance

import "os"

// GetID identifies this process in logs and lock owners. It prefers an
// explicit WORKER_ID, then the platform's dyno name, then the hostname.
func GetID() string {
	for _, key := range []string{"WORKER_ID", "DYNO"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
