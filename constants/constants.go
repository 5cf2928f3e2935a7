// Package constants contains shared constants between the various
// pool service packages.
package constants

import "time"

// DefaultRemoteDesktopPort is the port the remote desktop server listens on
// inside every pool instance. We keep the protocol default instead of
// remapping so that off-the-shelf clients work against pool machines.
const DefaultRemoteDesktopPort = 3389

// MaxProvisionWait is the hard ceiling on how long a caller can wait for a
// freshly provisioned instance to become reachable before the request is
// failed. Instance boot plus the remote desktop stack coming up is measured
// in minutes, so this is deliberately generous.
const MaxProvisionWait = 600 * time.Second
