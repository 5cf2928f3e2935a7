// Package hosts declares the interface the pool manager uses to talk to a
// cloud provider, along with the provider-agnostic error values the concrete
// implementations map their SDK failures onto.
package hosts

import (
	"context"
	"errors"

	"github.com/skypoolhq/skypool/types"
)

// HostHandler is implemented once per cloud provider. All methods honor the
// deadline of the context they receive.
type HostHandler interface {
	// Initialize sets up the provider clients for the given region.
	Initialize(region string) error
	// SpinUpInstances launches numInstances machines from imageID. When spot
	// is set the machines are requested on spot capacity.
	SpinUpInstances(ctx context.Context, numInstances int32, spot bool, imageID string) (createdInstances []types.Instance, err error)
	// SpinDownInstances terminates the given machines.
	SpinDownInstances(ctx context.Context, instanceIDs []types.InstanceID) (terminatedInstances []types.Instance, err error)
	// WaitForInstanceTermination blocks until the machine has been released
	// by the provider.
	WaitForInstanceTermination(context.Context, types.Instance) error
	// WaitForInstanceReady blocks until the machine is running.
	WaitForInstanceReady(context.Context, types.Instance) error
	// DescribeInstance refreshes the provider's view of a single machine.
	DescribeInstance(context.Context, types.InstanceID) (types.Instance, error)
	// ListPoolInstances returns every machine in the region carrying the
	// pool's management tag, regardless of lifecycle state.
	ListPoolInstances(context.Context) ([]types.Instance, error)
}

// Provider failures the scaling logic reacts to differently. Concrete
// handlers wrap their SDK errors with one of these so callers can use
// errors.Is without knowing the provider.
var (
	// ErrQuotaExceeded means the account hit a provider limit. Scaling up is
	// pointless until the quota is raised.
	ErrQuotaExceeded = errors.New("host provider quota exceeded")

	// ErrCapacityUnavailable means the provider has no capacity of the
	// requested type right now. Retrying later, or without spot, may work.
	ErrCapacityUnavailable = errors.New("host provider has insufficient capacity")

	// ErrUnauthorized means the service's credentials were rejected.
	ErrUnauthorized = errors.New("host provider rejected credentials")

	// ErrInstanceNotFound means the provider has no record of the machine.
	ErrInstanceNotFound = errors.New("host instance not found")
)
