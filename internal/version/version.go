// Package version reports which build of shelfsync is running. The values
// are overridden at link time with -ldflags "-X ...".
package version

var (
	// Version is the release version.
	Version = "0.0.0"
	// GitCommit is the commit the binary was built from.
	GitCommit = "unknown"
	// BuildDate is the UTC build timestamp.
	BuildDate = "unknown"
)
