package types

import "time"

// VMState represents the lifecycle state of a virtual machine as reported by
// the cloud provider.
type VMState int

const (
	// VMStatePending means the provider has accepted the launch request but
	// the machine is not booting yet.
	VMStatePending VMState = iota
	// VMStateLaunching means the machine is booting.
	VMStateLaunching
	// VMStateRunning means the machine is up. It may still be missing a
	// network address, in which case it is not ready for sessions.
	VMStateRunning
	// VMStateStopping means a shutdown is in progress.
	VMStateStopping
	// VMStateStopped means the machine is shut down but not released.
	VMStateStopped
	// VMStateTerminating means a terminate request has been issued but the
	// provider has not confirmed the release yet. Machines always pass
	// through this state before VMStateTerminated.
	VMStateTerminating
	// VMStateTerminated means the machine has been released by the provider.
	VMStateTerminated
	// VMStateFailed means the launch or the machine itself failed.
	VMStateFailed
)

// String returns the lowercase name of the state, matching what the cloud
// providers report.
func (s VMState) String() string {
	switch s {
	case VMStatePending:
		return "pending"
	case VMStateLaunching:
		return "launching"
	case VMStateRunning:
		return "running"
	case VMStateStopping:
		return "stopping"
	case VMStateStopped:
		return "stopped"
	case VMStateTerminating:
		return "terminating"
	case VMStateTerminated:
		return "terminated"
	case VMStateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Instance is the service's view of a virtual machine in the pool.
type Instance struct {
	// ID is the provider-assigned identifier of the machine.
	ID InstanceID
	// Region is the provider region the machine runs in.
	Region string
	// ImageID is the machine image the instance was launched from.
	ImageID string
	// Type is the provider instance type (e.g. "g4dn.2xlarge").
	Type string
	// Address is the public address remote desktop clients connect to. Empty
	// until the provider assigns one.
	Address string
	// State is the last observed provider lifecycle state.
	State VMState
	// Spot reports whether the machine runs on spot capacity.
	Spot bool
	// LaunchedAt is when the launch request was accepted.
	LaunchedAt time.Time
	// ReadyAt is when the machine first became ready, zero if it never has.
	ReadyAt time.Time
}

// IsReady reports whether the instance can accept a remote desktop session.
// A machine counts as ready only once it is running and has an address.
func (i Instance) IsReady() bool {
	return i.State == VMStateRunning && i.Address != ""
}
