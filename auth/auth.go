/*
Package auth provides functions for validating JWTs sent by remote desktop
clients.

Currently, it has been tested with JWTs generated by our Auth0 configuration.
It should work with other JWTs too, provided that they are signed with the
RS256 algorithm.
*/
package auth // import "github.com/skypoolhq/skypool/auth"

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/MicahParks/keyfunc"

	logger "github.com/skypoolhq/skypool/skylogger"
	"github.com/skypoolhq/skypool/types"
	"github.com/skypoolhq/skypool/utils"
)

// Audience is an alias for []string with some custom deserialization behavior.
// It is used to store the value of an access token's "aud" claim.
type Audience []string

// Scopes is an alias for []string with some custom deserialization behavior.
// It is used to store the value of an access token's "scope" claim.
type Scopes []string

// Claims models the claims that must be present in an access token the pool
// service accepts.
type Claims struct {
	jwt.RegisteredClaims

	// Audience stores the value of the access token's "aud" claim. Inside the
	// token's payload, the value of the "aud" claim can be either a JSON
	// string or list of strings. We implement custom deserialization on the
	// Audience type to handle both of these cases.
	Audience Audience `json:"aud"`

	// Scopes stores the value of the access token's "scope" claim. The value
	// of the "scope" claim is a string of one or more space-separated words.
	// The *Scopes type implements custom deserialization such that the string
	// of space-separated words becomes a string slice.
	Scopes Scopes `json:"scope"`

	// ClientVersion is the version of the remote desktop client that
	// requested the token. Used to gate outdated clients.
	ClientVersion string `json:"https://api.skypool.dev/client_version,omitempty"`
}

var config authConfig = getAuthConfig()
var jwks *keyfunc.JWKS

// Initialize fetches the signing keys from the issuer's JWKS endpoint and
// keeps them refreshed. Must be called once before ParseToken.
func Initialize() error {
	var err error // don't want to shadow jwks accidentally

	jwks, err = keyfunc.Get(config.getJwksURL(), keyfunc.Options{
		RefreshInterval: time.Hour,
		RefreshErrorHandler: func(err error) {
			logger.Errorf("Error refreshing JWKs: %s", err)
		},
		RefreshUnknownKID: true,
	})
	if err != nil {
		return utils.MakeError("error getting JWKs on startup: %s", err)
	}

	logger.Infof("Successfully got JWKs from %s on startup.", config.getJwksURL())

	return nil
}

// UnmarshalJSON unmarshals a JSON string or list of strings into an *Audience
// type. It overwrites the contents of *audience with the unmarshalled data.
func (audience *Audience) UnmarshalJSON(data []byte) error {
	var aud string

	// Try to unmarshal the input data into a string slice.
	err := json.Unmarshal(data, (*[]string)(audience))

	switch v := err.(type) {
	case *json.UnmarshalTypeError:
		// Ignore *json.UnmarshalTypeErrors, which are returned when the input
		// data cannot be unmarshalled into a string slice. Instead, we will
		// try to unmarshal the data into a string type below.
	default:
		// Return an error if err was non-nil or nil otherwise.
		return v
	}

	// Try to unmarshal the input data into a string.
	if err := json.Unmarshal(data, &aud); err != nil {
		return err
	}

	// Overwrite any pre-existing data in *audience. Avoid creating a new
	// allocation if possible by truncating and reusing the existing slice.
	*audience = append((*audience)[0:0], aud)

	return nil
}

// UnmarshalJSON unmarshals a space-separated string of words into a *Scopes
// type. It overwrites the contents of *scopes with the unmarshalled data.
func (scopes *Scopes) UnmarshalJSON(data []byte) error {
	var s string

	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	*scopes = append((*scopes)[0:0], strings.Fields(s)...)

	return nil
}

// ParseToken parses a raw access token and verifies the token's signature
// against the issuer's published keys.
func ParseToken(token types.AccessToken) (*Claims, error) {
	if jwks == nil {
		return nil, utils.MakeError("auth has not been initialized")
	}

	claims := new(Claims)
	if _, err := jwt.ParseWithClaims(string(token), claims, jwks.Keyfunc); err != nil {
		return nil, err
	}

	return claims, nil
}

// Verify ensures that parsed claims were issued by the proper issuer for the
// proper audience.
func Verify(claims *Claims) error {
	if !claims.VerifyAudience(config.Aud, true) {
		return jwt.NewValidationError(
			utils.Sprintf("bad audience %s", claims.Audience),
			jwt.ValidationErrorAudience,
		)
	}

	if !claims.VerifyIssuer(config.Iss, true) {
		return jwt.NewValidationError(
			utils.Sprintf("bad issuer %s", claims.Issuer),
			jwt.ValidationErrorIssuer,
		)
	}

	return nil
}

// VerifyAudience compares the "aud" claim against cmp. If req is false, this
// method will return true if the value of the "aud" claim matches cmp or is
// unset.
func (claims *Claims) VerifyAudience(cmp string, req bool) bool {
	c := &jwt.MapClaims{"aud": []string(claims.Audience)}
	return c.VerifyAudience(cmp, req)
}

// VerifyScope returns true if claims.Scopes contains the requested scope and
// false otherwise.
func (claims *Claims) VerifyScope(scope string) bool {
	for _, s := range claims.Scopes {
		if s == scope {
			return true
		}
	}

	return false
}
