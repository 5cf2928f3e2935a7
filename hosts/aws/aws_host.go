package aws

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2Types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/skypoolhq/skypool/hosts"
	logger "github.com/skypoolhq/skypool/skylogger"
	"github.com/skypoolhq/skypool/types"
	"github.com/skypoolhq/skypool/utils"
)

type AWSHost struct {
	Region string
	Config aws.Config
	EC2    *ec2.Client
}

// Initialize starts the AWS and EC2 clients.
func (host *AWSHost) Initialize(region string) error {
	// Initialize general AWS config on the selected region
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return utils.MakeError("unable to load AWS SDK config: %s", err)
	}

	// Start AWS host and EC2 client
	host.Region = region
	host.Config = cfg
	host.EC2 = ec2.NewFromConfig(cfg)

	return nil
}

// SpinUpInstances launches `numInstances` machines from `imageID`, tagged so
// the pool can find them again after a restart. When `spot` is set the
// machines are requested as one-time spot instances that terminate on
// interruption.
func (host *AWSHost) SpinUpInstances(ctx context.Context, numInstances int32, spot bool, imageID string) ([]types.Instance, error) {
	input := &ec2.RunInstancesInput{
		MinCount:                          aws.Int32(MIN_INSTANCE_COUNT),
		MaxCount:                          aws.Int32(numInstances),
		ImageId:                           aws.String(imageID),
		InstanceInitiatedShutdownBehavior: ec2Types.ShutdownBehaviorTerminate,
		InstanceType:                      INSTANCE_TYPE,
		TagSpecifications: []ec2Types.TagSpecification{
			{
				ResourceType: ec2Types.ResourceTypeInstance,
				Tags: []ec2Types.Tag{
					{
						Key:   aws.String(POOL_TAG_KEY),
						Value: aws.String(POOL_TAG_VALUE),
					},
				},
			},
		},
	}

	if spot {
		input.InstanceMarketOptions = &ec2Types.InstanceMarketOptionsRequest{
			MarketType: ec2Types.MarketTypeSpot,
			SpotOptions: &ec2Types.SpotMarketOptions{
				SpotInstanceType:             ec2Types.SpotInstanceTypeOneTime,
				InstanceInterruptionBehavior: ec2Types.InstanceInterruptionBehaviorTerminate,
			},
		}
	}

	var result *ec2.RunInstancesOutput
	var err error

	// Spot capacity comes and goes, so retry capacity failures a few times
	// before giving up on the launch. Each attempt gets a fresh client token,
	// otherwise EC2 deduplicates the retry against the failed request.
	for attempts := 0; attempts < MAX_RETRY_ATTEMPTS; attempts++ {
		input.ClientToken = aws.String(utils.RandHex(16))
		result, err = host.EC2.RunInstances(ctx, input)
		if err == nil {
			break
		}

		err = mapProviderError("error creating instances", err)
		if !errors.Is(err, hosts.ErrCapacityUnavailable) {
			return nil, err
		}

		logger.Warningf("Insufficient capacity launching %d instances, retrying in %d seconds: %s",
			numInstances, WAIT_TIME_BEFORE_RETRY_IN_SECONDS, err)

		select {
		case <-time.After(WAIT_TIME_BEFORE_RETRY_IN_SECONDS * time.Second):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	// Create slice with created instances
	var outputInstances []types.Instance

	for _, outputInstance := range result.Instances {
		instance := host.toInstance(outputInstance)
		logger.Infof("Created tagged instance with ID %s", instance.ID)
		outputInstances = append(outputInstances, instance)
	}

	// Verify start output
	if len(result.Instances) != int(numInstances) {
		return outputInstances,
			utils.MakeError("failed to start requested number of instances. Requested: %d. Started: %d",
				numInstances, len(result.Instances))
	}

	return outputInstances, nil
}

// SpinDownInstances is responsible for terminating the instances in `instanceIDs`.
func (host *AWSHost) SpinDownInstances(ctx context.Context, instanceIDs []types.InstanceID) ([]types.Instance, error) {
	ids := make([]string, 0, len(instanceIDs))
	for _, id := range instanceIDs {
		ids = append(ids, string(id))
	}

	terminateInput := &ec2.TerminateInstancesInput{
		InstanceIds: ids,
	}

	terminateOutput, err := host.EC2.TerminateInstances(ctx, terminateInput)
	if err != nil {
		return nil, mapProviderError(utils.Sprintf("error terminating instances %v", instanceIDs), err)
	}

	// Create slice with terminated instances
	var outputInstances []types.Instance

	for _, outputInstance := range terminateOutput.TerminatingInstances {
		outputInstances = append(outputInstances, types.Instance{
			ID:     types.InstanceID(*outputInstance.InstanceId),
			Region: host.Region,
			State:  types.VMStateTerminating,
		})
	}

	// Verify termination output
	if len(terminateOutput.TerminatingInstances) != len(instanceIDs) {
		return outputInstances, utils.MakeError("failed to terminate requested number of instances. Requested: %d. Terminating: %d",
			len(instanceIDs), len(terminateOutput.TerminatingInstances))
	}

	return outputInstances, nil
}

// WaitForInstanceTermination waits until the given instance has been terminated on AWS.
func (host *AWSHost) WaitForInstanceTermination(ctx context.Context, instance types.Instance) error {
	waiter := ec2.NewInstanceTerminatedWaiter(host.EC2, func(*ec2.InstanceTerminatedWaiterOptions) {
		logger.Infof("Waiting for instance %s to terminate on AWS", instance.ID)
	})

	waitParams := &ec2.DescribeInstancesInput{
		InstanceIds: []string{string(instance.ID)},
	}

	err := waiter.Wait(ctx, waitParams, 5*time.Minute)
	if err != nil {
		return utils.MakeError("failed waiting for instance %s to terminate on AWS: %s", instance.ID, err)
	}

	return nil
}

// WaitForInstanceReady waits until the given instance is running on AWS.
func (host *AWSHost) WaitForInstanceReady(ctx context.Context, instance types.Instance) error {
	waiter := ec2.NewInstanceRunningWaiter(host.EC2, func(*ec2.InstanceRunningWaiterOptions) {
		logger.Infof("Waiting for instance %s to be ready on AWS", instance.ID)
	})

	waitParams := &ec2.DescribeInstancesInput{
		InstanceIds: []string{string(instance.ID)},
	}

	err := waiter.Wait(ctx, waitParams, 5*time.Minute)
	if err != nil {
		return utils.MakeError("failed waiting for instance %s to be ready on AWS: %s", instance.ID, err)
	}

	return nil
}

// DescribeInstance refreshes the state and address of a single machine.
func (host *AWSHost) DescribeInstance(ctx context.Context, id types.InstanceID) (types.Instance, error) {
	input := &ec2.DescribeInstancesInput{
		InstanceIds: []string{string(id)},
	}

	output, err := host.EC2.DescribeInstances(ctx, input)
	if err != nil {
		return types.Instance{}, mapProviderError(utils.Sprintf("error describing instance %s", id), err)
	}

	for _, reservation := range output.Reservations {
		for _, outputInstance := range reservation.Instances {
			return host.toInstance(outputInstance), nil
		}
	}

	return types.Instance{}, hosts.ErrInstanceNotFound
}

// ListPoolInstances returns every machine in the region that carries the
// pool's management tag and has not already been terminated.
func (host *AWSHost) ListPoolInstances(ctx context.Context) ([]types.Instance, error) {
	input := &ec2.DescribeInstancesInput{
		Filters: []ec2Types.Filter{
			{
				Name:   aws.String(utils.Sprintf("tag:%s", POOL_TAG_KEY)),
				Values: []string{POOL_TAG_VALUE},
			},
			{
				Name:   aws.String("instance-state-name"),
				Values: []string{"pending", "running", "stopping", "stopped"},
			},
		},
	}

	var instances []types.Instance

	paginator := ec2.NewDescribeInstancesPaginator(host.EC2, input)
	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, mapProviderError("error listing pool instances", err)
		}

		for _, reservation := range output.Reservations {
			for _, outputInstance := range reservation.Instances {
				instances = append(instances, host.toInstance(outputInstance))
			}
		}
	}

	return instances, nil
}

// toInstance converts the SDK's view of a machine into ours. Fields the
// provider has not populated yet, like the public address of a pending
// machine, are left empty.
func (host *AWSHost) toInstance(outputInstance ec2Types.Instance) types.Instance {
	instance := types.Instance{
		ID:     types.InstanceID(aws.ToString(outputInstance.InstanceId)),
		Region: host.Region,
		Type:   string(outputInstance.InstanceType),
		Spot:   outputInstance.InstanceLifecycle == ec2Types.InstanceLifecycleTypeSpot,
	}

	if outputInstance.ImageId != nil {
		instance.ImageID = *outputInstance.ImageId
	}

	if outputInstance.PublicIpAddress != nil {
		instance.Address = *outputInstance.PublicIpAddress
	}

	if outputInstance.LaunchTime != nil {
		instance.LaunchedAt = *outputInstance.LaunchTime
	}

	if outputInstance.State != nil {
		instance.State = toVMState(outputInstance.State.Name)
	}

	return instance
}

// toVMState maps EC2 lifecycle states onto ours.
func toVMState(name ec2Types.InstanceStateName) types.VMState {
	switch name {
	case ec2Types.InstanceStateNamePending:
		return types.VMStatePending
	case ec2Types.InstanceStateNameRunning:
		return types.VMStateRunning
	case ec2Types.InstanceStateNameShuttingDown:
		return types.VMStateTerminating
	case ec2Types.InstanceStateNameStopping:
		return types.VMStateStopping
	case ec2Types.InstanceStateNameStopped:
		return types.VMStateStopped
	case ec2Types.InstanceStateNameTerminated:
		return types.VMStateTerminated
	default:
		return types.VMStateFailed
	}
}

// mapProviderError wraps EC2 API failures with the provider-agnostic error
// values the scaling logic keys off of.
func mapProviderError(msg string, err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return utils.MakeError("%s: %s", msg, err)
	}

	var sentinel error
	switch apiErr.ErrorCode() {
	case "InstanceLimitExceeded", "VcpuLimitExceeded", "MaxSpotInstanceCountExceeded":
		sentinel = hosts.ErrQuotaExceeded
	case "InsufficientInstanceCapacity", "InsufficientCapacity", "SpotMaxPriceTooLow":
		sentinel = hosts.ErrCapacityUnavailable
	case "UnauthorizedOperation", "AuthFailure":
		sentinel = hosts.ErrUnauthorized
	case "InvalidInstanceID.NotFound":
		sentinel = hosts.ErrInstanceNotFound
	default:
		return utils.MakeError("%s: %s", msg, err)
	}

	return utils.MakeError("%s: %s (%w)", msg, err, sentinel)
}
