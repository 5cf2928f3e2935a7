// Package types simply contains some useful types for the `pool` and
// `session` packages. We define this package separately so that we can safely
// pass these types around to other packages that `pool` itself might depend
// on.
package types // import "github.com/skypoolhq/skypool/types"

// We define special types for the following string types for all the benefits
// of type safety, including making sure we never switch instance and session
// IDs, for instance.

type (
	// An InstanceID is the opaque identifier the cloud provider assigns to a
	// provisioned machine. We treat it as a string because its format is
	// provider-specific.
	InstanceID string

	// UserID is the id assigned to a user by the authentication provider.
	UserID string

	// A SessionID is a random identifier created for each user session when
	// an instance gets assigned. We need some sort of identifier before the
	// remote desktop connection exists, so we mint one ourselves.
	SessionID string

	// AccessToken is a JWT created by the authentication provider and used
	// to authenticate the user to the pool service. It contains custom
	// claims and metadata.
	AccessToken string
)
