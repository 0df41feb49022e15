// Package version holds build metadata set with -ldflags -X.
package version

var (
	// Version is the release of the thermal binary
	Version = "dev"
	// GitSHA is the commit the binary was built from
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)
