package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-version"
	logger "github.com/skypoolhq/skypool/skylogger"
	"github.com/skypoolhq/skypool/utils"
)

// getEnabledRegions extracts the list of regions in which the service may
// launch virtual machines from the environment and stores the result in the
// string slice pointer provided. This function assumes that it is the only
// one with access to the memory containing the slice. Make sure to lock that
// data before calling this function.
func getEnabledRegions(regions *[]string) error {
	data, ok := os.LookupEnv("ENABLED_REGIONS")

	if !ok {
		*regions = []string{"us-east-1"}
		logger.Warningf("Configuration key ENABLED_REGIONS not found. Falling "+
			"back to %v", *regions)

		return nil
	}

	var temp []string

	if err := json.Unmarshal([]byte(data), &temp); err != nil {
		return err
	}

	*regions = temp

	logger.Infof("Enabled regions: %v", *regions)

	return nil
}

// getMinClientVersion parses the minimum allowed client version from the
// environment. An unset or empty value disables the version gate.
func getMinClientVersion(dest **version.Version) error {
	data, ok := os.LookupEnv("MIN_CLIENT_VERSION")
	if !ok || data == "" {
		*dest = nil
		logger.Warningf("Configuration key MIN_CLIENT_VERSION not found. " +
			"Client version checks are disabled.")

		return nil
	}

	v, err := version.NewVersion(data)
	if err != nil {
		return utils.MakeError("failed to parse MIN_CLIENT_VERSION %q: %s", data, err)
	}

	*dest = v

	logger.Infof("Minimum client version: %s", v)

	return nil
}

// getDuration parses a duration in minutes from the environment, using
// fallback when the key is unset or unparseable.
func getDuration(key string, fallback time.Duration, dest *time.Duration) {
	data, ok := os.LookupEnv(key)
	if !ok {
		*dest = fallback
		return
	}

	minutes, err := strconv.Atoi(data)
	if err != nil || minutes <= 0 {
		*dest = fallback
		logger.Errorf("Failed to parse value for configuration key '%s': %s. "+
			"Using %s by default.", key, data, fallback)

		return
	}

	*dest = time.Duration(minutes) * time.Minute

	logger.Infof("%s: %s", key, *dest)
}

// getInt parses an integer from the environment, using fallback when the key
// is unset or unparseable.
func getInt(key string, fallback int, dest *int) {
	data, ok := os.LookupEnv(key)
	if !ok {
		*dest = fallback
		return
	}

	n, err := strconv.Atoi(data)
	if err != nil || n < 0 {
		*dest = fallback
		logger.Errorf("Failed to parse value for configuration key '%s': %s. "+
			"Using %d by default.", key, data, fallback)

		return
	}

	*dest = n

	logger.Infof("%s: %d", key, *dest)
}

// initialize populates the configuration singleton with values from the
// environment.
func initialize() error {
	rw.Lock()
	defer rw.Unlock()

	// Copy the existing configuration after acquiring the write lock so we can
	// perform the update atomically.
	newConfig := config

	if err := getEnabledRegions(&newConfig.enabledRegions); err != nil {
		return err
	}

	if err := getMinClientVersion(&newConfig.minClientVersion); err != nil {
		return err
	}

	getDuration("SESSION_TIMEOUT_MINUTES", 480*time.Minute, &newConfig.sessionTimeout)
	getDuration("SCALE_UP_COOLDOWN_MINUTES", 5*time.Minute, &newConfig.scaleUpCooldown)
	getDuration("SCALE_DOWN_COOLDOWN_MINUTES", 15*time.Minute, &newConfig.scaleDownCooldown)
	getDuration("IDLE_CONNECTION_THRESHOLD_MINUTES", 15*time.Minute, &newConfig.idleConnectionThreshold)

	getInt("MIN_WARM_INSTANCES", 2, &newConfig.minWarmInstances)
	getInt("MAX_POOL_SIZE", 10, &newConfig.maxPoolSize)
	getInt("SCALE_INCREMENT", 2, &newConfig.scaleIncrement)

	if newConfig.minWarmInstances > newConfig.maxPoolSize {
		return utils.MakeError("invalid configuration: MIN_WARM_INSTANCES (%d) "+
			"exceeds MAX_POOL_SIZE (%d)", newConfig.minWarmInstances, newConfig.maxPoolSize)
	}

	config = newConfig

	return nil
}
