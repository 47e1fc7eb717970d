//nolint:revive // types is a common Go package naming convention
package types

// Version is the canonical lhrunner version.
const Version = "0.3.0"

// UserAgent is sent on outbound HTTP requests.
const UserAgent = "lhrunner/" + Version
