package httputils

import (
	"github.com/skypoolhq/skypool/types"
)

// Request types

// InstanceAssignRequest defines the `instance/assign` endpoint. It asks the
// pool for a machine for the authenticated user.
type InstanceAssignRequest struct {
	Regions               []string           `json:"regions"`                 // Regions the client will accept, in order of preference
	ClientVersion         string             `json:"client_version"`          // Version of the remote desktop client (e.g. "2.6.13")
	UserEmail             string             `json:"user_email"`              // Email of the requesting user
	SessionTimeoutMinutes int                `json:"session_timeout_minutes"` // Optional per-session inactivity timeout override
	ResultChan            chan RequestResult `json:"-"`                       // Channel to pass the request result between goroutines
}

// InstanceAssignRequestResult is the data returned by the `instance/assign`
// endpoint.
type InstanceAssignRequestResult struct {
	SessionID  types.SessionID  `json:"session_id"`
	InstanceID types.InstanceID `json:"instance_id"`
	Address    string           `json:"address"`
	Port       int              `json:"port"`
	Error      string           `json:"error"`
}

// ReturnResult is called to pass the result of a request back to the HTTP
// request handler.
func (s *InstanceAssignRequest) ReturnResult(result interface{}, err error) {
	s.ResultChan <- RequestResult{
		Result: result,
		Err:    err,
	}
}

// CreateResultChan is called to create the Go channel to pass the request
// result back to the HTTP request handler via ReturnResult.
func (s *InstanceAssignRequest) CreateResultChan() {
	if s.ResultChan == nil {
		s.ResultChan = make(chan RequestResult)
	}
}

// InstanceReleaseRequest defines the `instance/release` endpoint. It hands
// the user's machine back to the pool.
type InstanceReleaseRequest struct {
	InstanceID types.InstanceID   `json:"instance_id"`
	Reclaim    bool               `json:"reclaim"` // Return the machine to the warm buffer instead of terminating it
	ResultChan chan RequestResult `json:"-"`
}

// InstanceReleaseRequestResult is the data returned by the
// `instance/release` endpoint.
type InstanceReleaseRequestResult struct {
	InstanceID types.InstanceID `json:"instance_id"`
}

// ReturnResult is called to pass the result of a request back to the HTTP
// request handler.
func (s *InstanceReleaseRequest) ReturnResult(result interface{}, err error) {
	s.ResultChan <- RequestResult{
		Result: result,
		Err:    err,
	}
}

// CreateResultChan is called to create the Go channel to pass the request
// result back to the HTTP request handler via ReturnResult.
func (s *InstanceReleaseRequest) CreateResultChan() {
	if s.ResultChan == nil {
		s.ResultChan = make(chan RequestResult)
	}
}

// SessionActivityRequest defines the `session/activity` endpoint. Clients
// call it on user-visible actions so the session's idle clock resets.
type SessionActivityRequest struct {
	SessionID  types.SessionID    `json:"session_id"`
	ResultChan chan RequestResult `json:"-"`
}

// SessionActivityRequestResult is the data returned by the
// `session/activity` endpoint.
type SessionActivityRequestResult struct {
	SessionID types.SessionID `json:"session_id"`
}

// ReturnResult is called to pass the result of a request back to the HTTP
// request handler.
func (s *SessionActivityRequest) ReturnResult(result interface{}, err error) {
	s.ResultChan <- RequestResult{
		Result: result,
		Err:    err,
	}
}

// CreateResultChan is called to create the Go channel to pass the request
// result back to the HTTP request handler via ReturnResult.
func (s *SessionActivityRequest) CreateResultChan() {
	if s.ResultChan == nil {
		s.ResultChan = make(chan RequestResult)
	}
}
