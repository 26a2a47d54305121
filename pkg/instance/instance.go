package instance

import (
	"os"
	"strings"
)

// ID names this worker process in logs. CREDITS_WORKER_ID wins, then the
// hostname, which is the pod name under Kubernetes.
func ID() string {
	if id := strings.TrimSpace(os.Getenv("CREDITS_WORKER_ID")); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}
