// Package config provides functions for reading service-global configuration
// values while the pool service is running. Values are populated from the
// environment when the service starts, with sensible defaults for anything
// left unset. config.Initialize() should be called as close as possible to
// the top of the main function.
package config

import (
	"sync"
	"time"

	"github.com/hashicorp/go-version"
)

// serviceConfig stores service-global configuration values.
type serviceConfig struct {
	// enabledRegions is the list of regions in which the service is allowed
	// to launch virtual machines.
	enabledRegions []string

	// minClientVersion is the minimum remote desktop client version allowed
	// to request an instance (e.g. "2.6.13"). Empty disables the check.
	minClientVersion *version.Version

	// sessionTimeout is how long a session may go without activity before it
	// is considered expired and its instance reclaimed.
	sessionTimeout time.Duration

	// minWarmInstances is the number of ready, unassigned instances the
	// service tries to keep available at all times in each region.
	minWarmInstances int

	// maxPoolSize caps the total number of instances per region, counting
	// both assigned and warm ones.
	maxPoolSize int

	// scaleIncrement is how many instances are launched per scale-up pass.
	scaleIncrement int

	// scaleUpCooldown and scaleDownCooldown gate how often the scaling loop
	// may act in each direction.
	scaleUpCooldown   time.Duration
	scaleDownCooldown time.Duration

	// idleConnectionThreshold is how long a pooled remote desktop connection
	// may sit unused before the cleanup pass closes it.
	idleConnectionThreshold time.Duration
}

// config is a singleton that stores service-global configuration values.
var config serviceConfig

// rw synchronizes access to the configuration singleton.
var rw sync.RWMutex

// Initialize populates the configuration singleton with values from the
// environment.
func Initialize() error {
	return initialize()
}

// GetEnabledRegions returns the list of regions in which the service may
// launch virtual machines. Attempting to launch an instance in one of the
// regions returned by this function may still result in an error if the
// requisite cloud infrastructure does not exist in that region.
func GetEnabledRegions() []string {
	rw.RLock()
	defer rw.RUnlock()

	return config.enabledRegions
}

// GetMinClientVersion returns the minimum client version allowed to request
// an instance, or nil when no version gate is configured.
func GetMinClientVersion() *version.Version {
	rw.RLock()
	defer rw.RUnlock()

	return config.minClientVersion
}

// GetSessionTimeout returns how long a session may remain inactive before it
// is expired by the cleanup loop.
func GetSessionTimeout() time.Duration {
	rw.RLock()
	defer rw.RUnlock()

	return config.sessionTimeout
}

// GetMinWarmInstances returns the number of ready, unassigned instances the
// scaling loop tries to keep available per region.
func GetMinWarmInstances() int {
	rw.RLock()
	defer rw.RUnlock()

	return config.minWarmInstances
}

// GetMaxPoolSize returns the per-region cap on total instances.
func GetMaxPoolSize() int {
	rw.RLock()
	defer rw.RUnlock()

	return config.maxPoolSize
}

// GetScaleIncrement returns how many instances a single scale-up pass may
// launch.
func GetScaleIncrement() int {
	rw.RLock()
	defer rw.RUnlock()

	return config.scaleIncrement
}

// GetScaleUpCooldown returns the minimum time between scale-up actions.
func GetScaleUpCooldown() time.Duration {
	rw.RLock()
	defer rw.RUnlock()

	return config.scaleUpCooldown
}

// GetScaleDownCooldown returns the minimum time between scale-down actions.
func GetScaleDownCooldown() time.Duration {
	rw.RLock()
	defer rw.RUnlock()

	return config.scaleDownCooldown
}

// GetIdleConnectionThreshold returns how long a pooled remote desktop
// connection may sit unused before it is closed.
func GetIdleConnectionThreshold() time.Duration {
	rw.RLock()
	defer rw.RUnlock()

	return config.idleConnectionThreshold
}
