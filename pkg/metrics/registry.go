// Package metrics provides optional Prometheus instrumentation for FSGate.
//
// Metrics are opt-in: when InitRegistry is never called, constructors return
// no-op recorders and the HTTP endpoint is not started, so disabled metrics
// cost nothing.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry. Must run before
// any recorder is constructed; safe to call multiple times.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the global registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return registry != nil
}
