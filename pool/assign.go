package pool

import (
	"context"
	"time"

	"github.com/hashicorp/go-version"
	"github.com/skypoolhq/skypool/config"
	"github.com/skypoolhq/skypool/constants"
	"github.com/skypoolhq/skypool/httputils"
	logger "github.com/skypoolhq/skypool/skylogger"
	"github.com/skypoolhq/skypool/types"
	"github.com/skypoolhq/skypool/utils"
)

// Server event types produced by the HTTP layer.
const (
	// ServerInstanceAssignEvent asks the pool for a machine for a user.
	ServerInstanceAssignEvent = "SERVER_INSTANCE_ASSIGN_EVENT"
	// ServerInstanceReleaseEvent hands a machine back to the pool.
	ServerInstanceReleaseEvent = "SERVER_INSTANCE_RELEASE_EVENT"
	// ServerSessionActivityEvent resets a session's idle clock.
	ServerSessionActivityEvent = "SERVER_SESSION_ACTIVITY_EVENT"
)

// handleAssignRequest validates an assign request and allocates an instance
// for the user. The result goes back to the HTTP handler through the
// request's result channel.
func (m *Manager) handleAssignRequest(scalingCtx context.Context, event ScalingEvent) {
	req, ok := event.Data.(*httputils.InstanceAssignRequest)
	if !ok {
		logger.Errorf("Received an assign event with unexpected data: %v", event.Data)
		return
	}

	if err := m.validateAssignRequest(req); err != nil {
		req.ReturnResult(httputils.InstanceAssignRequestResult{Error: err.Error()}, err)
		return
	}

	// The email comes from the client and can be spoofed.
	email := utils.SanitizeEmail(req.UserEmail)
	if email == "" {
		err := utils.MakeError("user email %q is not a valid email address", req.UserEmail)
		req.ReturnResult(httputils.InstanceAssignRequestResult{Error: err.Error()}, err)
		return
	}

	timeout := time.Duration(req.SessionTimeoutMinutes) * time.Minute
	s, err := m.RequestInstance(scalingCtx, types.UserID(email), timeout)
	if err != nil {
		logger.Errorf("Failed to assign an instance to user %s: %s", req.UserEmail, err)
		req.ReturnResult(httputils.InstanceAssignRequestResult{Error: err.Error()}, err)
		return
	}

	req.ReturnResult(httputils.InstanceAssignRequestResult{
		SessionID:  s.ID,
		InstanceID: s.InstanceID,
		Address:    s.Address,
		Port:       s.Port,
	}, nil)
}

// validateAssignRequest rejects requests for regions this pool does not
// serve and clients older than the configured minimum version.
func (m *Manager) validateAssignRequest(req *httputils.InstanceAssignRequest) error {
	if len(req.Regions) > 0 && !utils.StringSliceContains(req.Regions, m.region) {
		return utils.MakeError("this pool serves region %s, which is not in the requested regions %v", m.region, req.Regions)
	}

	minVersion := config.GetMinClientVersion()
	if minVersion == nil {
		return nil
	}

	clientVersion, err := version.NewVersion(req.ClientVersion)
	if err != nil {
		return utils.MakeError("could not parse client version %q: %s", req.ClientVersion, err)
	}

	if clientVersion.LessThan(minVersion) {
		return utils.MakeError("client version %s is older than the minimum supported version %s", clientVersion, minVersion)
	}

	return nil
}

// handleReleaseRequest releases the machine named by the request.
func (m *Manager) handleReleaseRequest(scalingCtx context.Context, event ScalingEvent) {
	req, ok := event.Data.(*httputils.InstanceReleaseRequest)
	if !ok {
		logger.Errorf("Received a release event with unexpected data: %v", event.Data)
		return
	}

	if err := m.ReleaseInstance(scalingCtx, req.InstanceID, req.Reclaim); err != nil {
		logger.Errorf("Failed to release instance %s: %s", req.InstanceID, err)
		req.ReturnResult(nil, err)
		return
	}

	req.ReturnResult(httputils.InstanceReleaseRequestResult{InstanceID: req.InstanceID}, nil)
}

// handleActivityRequest resets the idle clock of the request's session.
func (m *Manager) handleActivityRequest(event ScalingEvent) {
	req, ok := event.Data.(*httputils.SessionActivityRequest)
	if !ok {
		logger.Errorf("Received an activity event with unexpected data: %v", event.Data)
		return
	}

	if !m.registry.UpdateActivity(req.SessionID) {
		req.ReturnResult(nil, ErrNotFound)
		return
	}

	req.ReturnResult(httputils.SessionActivityRequestResult{SessionID: req.SessionID}, nil)
}

// assignTimeout bounds how long an assign request may spend provisioning
// before it fails fast.
const assignTimeout = constants.MaxProvisionWait + 30*time.Second
