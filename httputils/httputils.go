package httputils

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/skypoolhq/skypool/auth"
	"github.com/skypoolhq/skypool/metadata"
	logger "github.com/skypoolhq/skypool/skylogger"
	"github.com/skypoolhq/skypool/types"
	"github.com/skypoolhq/skypool/utils"
	"golang.org/x/time/rate"
)

// A ServerRequest represents a request from the server --- it is exported so
// that we can implement the top-level event handlers in parent packages. They
// simply return the result and any error message via ReturnResult.
type ServerRequest interface {
	ReturnResult(result interface{}, err error)
	CreateResultChan()
}

// A RequestResult represents the result of a request that was successfully
// authenticated, parsed, and processed by the consumer.
type RequestResult struct {
	Result interface{} `json:"-"`
	Err    error       `json:"error"`
}

// Send is called to send an HTTP response
func (r RequestResult) Send(w http.ResponseWriter) {
	var buf []byte
	var err error
	var status int

	if r.Err != nil {
		// Send a 406
		status = http.StatusNotAcceptable
		buf, err = json.Marshal(
			struct {
				Result interface{} `json:"result"`
				Error  string      `json:"error"`
			}{r.Result, r.Err.Error()},
		)
	} else {
		// Send a 200 code
		status = http.StatusOK
		buf, err = json.Marshal(
			struct {
				Result interface{} `json:"result"`
			}{r.Result},
		)
	}

	w.WriteHeader(status)
	if err != nil {
		logger.Errorf("error marshalling a %v HTTP response body: %s", status, err)
	}
	_, _ = w.Write(buf)
}

// Helper functions

// GetAccessToken is a helper function that extracts the access token
// from the request "Authorization" header.
func GetAccessToken(r *http.Request) (types.AccessToken, error) {
	if metadata.IsLocalEnv() {
		return "", nil
	}

	authorization := r.Header.Get("Authorization")
	bearer := strings.Split(authorization, "Bearer ")

	if len(bearer) <= 1 || bearer[1] == "" || bearer[1] == "undefined" {
		return "", utils.MakeError("bearer token is empty")
	}

	return types.AccessToken(bearer[1]), nil
}

// AuthenticateRequest will verify that the access token is valid
// and will parse the request body and try to unmarshal into a
// `ServerRequest` type.
func AuthenticateRequest(w http.ResponseWriter, r *http.Request, s ServerRequest) (*auth.Claims, error) {
	accessToken, err := GetAccessToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, err
	}

	var claims *auth.Claims
	// Skip token validation if running on local environment
	if !metadata.IsLocalEnv() {
		claims, err = auth.ParseToken(accessToken)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return nil, utils.MakeError("received an unpermissioned backend request on %s to URL %s: %s", r.Host, r.URL, err)
		}

		if err := auth.Verify(claims); err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return nil, utils.MakeError("received an unpermissioned backend request on %s to URL %s: %s", r.Host, r.URL, err)
		}
	}

	if _, err := ParseRequest(w, r, s); err != nil {
		return nil, utils.MakeError("error while parsing request: %s", err)
	}

	return claims, nil
}

// ParseRequest will read the request body, unmarshal it into a raw JSON map,
// and then unmarshal the fields into the struct `s`.
func ParseRequest(w http.ResponseWriter, r *http.Request, s ServerRequest) (map[string]*json.RawMessage, error) {
	// Get body of request
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Malformed body", http.StatusBadRequest)
		return nil, utils.MakeError("error getting body from request on %s to URL %s: %s", r.Host, r.URL, err)
	}
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewBuffer(body))

	// Unmarshal body into a raw JSON map first so unknown fields surface in
	// logs rather than silently dropping.
	rawMap := make(map[string]*json.RawMessage)
	if err := json.Unmarshal(body, &rawMap); err != nil {
		http.Error(w, "Malformed body", http.StatusBadRequest)
		return nil, utils.MakeError("error raw-unmarshalling request body on %s to URL %s: %s", r.Host, r.URL, err)
	}

	if err := json.Unmarshal(body, s); err != nil {
		http.Error(w, "Malformed body", http.StatusBadRequest)
		return nil, utils.MakeError("error unmarshalling request body on %s to URL %s: %s", r.Host, r.URL, err)
	}

	s.CreateResultChan()

	return rawMap, nil
}

// VerifyRequestType verifies the type (method) of a request.
func VerifyRequestType(w http.ResponseWriter, r *http.Request, method string) error {
	if r == nil {
		err := utils.MakeError("received a nil request expecting to be type %s", method)
		logger.Error(err)

		http.Error(w, utils.Sprintf("Bad request. Expected %s, got nil", method), http.StatusBadRequest)

		return err
	}

	if r.Method != method {
		err := utils.MakeError("received a request on %s to URL %s of type %s, but it should have been type %s", r.Host, r.URL, r.Method, method)
		logger.Error(err)

		http.Error(w, utils.Sprintf("Bad request type. Expected %s, got %s", method, r.Method), http.StatusBadRequest)

		return err
	}
	return nil
}

// ThrottleMiddleware will limit requests on the endpoint using the provided
// rate limiter. It uses a token bucket algorithm, so that every interval of
// time the "bucket" will refill and continue to serve tokens up to a maximum
// defined by the burst capacity. In case the limit is exceeded, return a
// http 429 error (too many requests).
func ThrottleMiddleware(limiter *rate.Limiter, f func(http.ResponseWriter, *http.Request)) func(http.ResponseWriter, *http.Request) {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(rw, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		f(rw, r)
	}
}
