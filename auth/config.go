package auth

import (
	"github.com/skypoolhq/skypool/metadata"
)

type authConfig struct {
	// JWT audience. Identifies the service that accepts the token.
	Aud string
	// JWT issuer. The issuing server.
	Iss string
}

func (a authConfig) getJwksURL() string {
	return a.Iss + ".well-known/jwks.json"
}

var authConfigDev = authConfig{
	Aud: "https://api.skypool.dev",
	Iss: "https://skypool-dev.us.auth0.com/",
}

var authConfigStaging = authConfig{
	Aud: "https://api.skypool.dev",
	Iss: "https://skypool-staging.us.auth0.com/",
}

var authConfigProd = authConfig{
	Aud: "https://api.skypool.dev",
	Iss: "https://login.skypool.dev/",
}

func getAuthConfig() authConfig {
	switch metadata.GetAppEnvironment() {
	case metadata.EnvDev:
		return authConfigDev
	case metadata.EnvStaging:
		return authConfigStaging
	case metadata.EnvProd:
		return authConfigProd
	default:
		return authConfigDev
	}
}
