package metadata // import "github.com/skypoolhq/skypool/metadata"

import (
	"os"
	"strings"
)

// An AppEnvironment represents either localdev (i.e. an engineer's
// development machine), dev (i.e. talking to the dev backend), staging, or
// prod.
type AppEnvironment string

// Constants for the various AppEnvironments. DO NOT CHANGE THESE without
// understanding how any consumers of GetAppEnvironment() and
// GetAppEnvironmentLowercase() are using them!
const (
	EnvLocalDev AppEnvironment = "localdev"
	EnvDev      AppEnvironment = "dev"
	EnvStaging  AppEnvironment = "staging"
	EnvProd     AppEnvironment = "prod"
)

// GetAppEnvironment returns the AppEnvironment of the current instance.
var GetAppEnvironment func() AppEnvironment = func(unmemoized func() AppEnvironment) func() AppEnvironment {
	// This nested function syntax is used to memoize the result of the first call
	// to GetAppEnvironment() and cache the result for all future calls.

	var isCached = false
	var cache AppEnvironment

	return func() AppEnvironment {
		if isCached {
			return cache
		}
		cache = unmemoized()
		isCached = true
		return cache
	}
}(func() AppEnvironment {
	// Caching-agnostic logic goes here
	env := strings.ToLower(os.Getenv("APP_ENV"))
	switch env {
	case "development", "dev":
		return EnvDev
	case "staging":
		return EnvStaging
	case "production", "prod":
		return EnvProd
	default:
		return EnvLocalDev
	}
})

// IsLocalEnv returns true if this pool service is running locally for
// development.
func IsLocalEnv() bool {
	return GetAppEnvironment() == EnvLocalDev
}

// GetAppEnvironmentLowercase returns the app environment string, but just
// converted to lowercase. This is helpful to construct larger strings (i.e.
// resource tag values) that depend on the current environment.
func GetAppEnvironmentLowercase() string {
	return strings.ToLower(string(GetAppEnvironment()))
}

// IsRunningInCI returns true if the service is running in continuous
// integration (i.e. for tests).
func IsRunningInCI() bool {
	strCI := strings.ToLower(os.Getenv("CI"))
	switch strCI {
	case "1", "yes", "true", "on":
		return true
	default:
		return false
	}
}

// GetGitCommit returns the git commit hash of this build, which CI injects
// through the environment. Used to tag Sentry releases and log messages.
func GetGitCommit() string {
	commit := os.Getenv("GIT_COMMIT")
	if commit == "" {
		return "local_dev_build"
	}
	return strings.ToLower(commit)
}
