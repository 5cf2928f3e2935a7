package aws

import (
	"errors"
	"testing"

	ec2Types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/skypoolhq/skypool/hosts"
	"github.com/skypoolhq/skypool/types"
)

func TestToVMState(t *testing.T) {
	var stateTests = []struct {
		testName string
		want     types.VMState
		got      types.VMState
	}{
		{"Pending", types.VMStatePending, toVMState(ec2Types.InstanceStateNamePending)},
		{"Running", types.VMStateRunning, toVMState(ec2Types.InstanceStateNameRunning)},
		{"ShuttingDownIsTerminating", types.VMStateTerminating, toVMState(ec2Types.InstanceStateNameShuttingDown)},
		{"Stopping", types.VMStateStopping, toVMState(ec2Types.InstanceStateNameStopping)},
		{"Stopped", types.VMStateStopped, toVMState(ec2Types.InstanceStateNameStopped)},
		{"Terminated", types.VMStateTerminated, toVMState(ec2Types.InstanceStateNameTerminated)},
		{"Unknown", types.VMStateFailed, toVMState(ec2Types.InstanceStateName("warp-drive"))},
	}

	for _, tt := range stateTests {
		t.Run(tt.testName, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("want %s, got %s", tt.want, tt.got)
			}
		})
	}
}

func TestMapProviderError(t *testing.T) {
	var errorTests = []struct {
		testName string
		code     string
		want     error
	}{
		{"InstanceLimit", "InstanceLimitExceeded", hosts.ErrQuotaExceeded},
		{"VcpuLimit", "VcpuLimitExceeded", hosts.ErrQuotaExceeded},
		{"SpotCount", "MaxSpotInstanceCountExceeded", hosts.ErrQuotaExceeded},
		{"InsufficientCapacity", "InsufficientInstanceCapacity", hosts.ErrCapacityUnavailable},
		{"SpotPrice", "SpotMaxPriceTooLow", hosts.ErrCapacityUnavailable},
		{"Unauthorized", "UnauthorizedOperation", hosts.ErrUnauthorized},
		{"NotFound", "InvalidInstanceID.NotFound", hosts.ErrInstanceNotFound},
	}

	for _, tt := range errorTests {
		t.Run(tt.testName, func(t *testing.T) {
			apiErr := &smithy.GenericAPIError{Code: tt.code, Message: "nope"}

			err := mapProviderError("test failure", apiErr)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected the error to wrap %v, got %v", tt.want, err)
			}
		})
	}

	plain := errors.New("connection reset")
	err := mapProviderError("test failure", plain)
	for _, sentinel := range []error{hosts.ErrQuotaExceeded, hosts.ErrCapacityUnavailable, hosts.ErrUnauthorized, hosts.ErrInstanceNotFound} {
		if errors.Is(err, sentinel) {
			t.Errorf("non-API error should not map to %v", sentinel)
		}
	}
}
