package pool

import (
	"errors"

	"github.com/skypoolhq/skypool/utils"
)

// ErrNotFound is returned by operations that reference an instance or
// session the pool does not know about.
var ErrNotFound = errors.New("not found in pool")

// ProvisioningError wraps a provider launch failure or a ready-wait timeout.
// RequestInstance surfaces it to the caller without retrying; retry policy
// belongs to the caller.
type ProvisioningError struct {
	Err error
}

func (e *ProvisioningError) Error() string {
	return utils.Sprintf("provisioning failed: %s", e.Err)
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}
