package version

// Version is the service current released version.
// This value can be overridden at build time using ldflags:
//
//	go build -ldflags "-X github.com/datasage-io/datasage/internal/version.Version=v0.3.0"
var Version = "0.0.0-dev"

// GitCommit is the git commit hash at build time, set via ldflags.
var GitCommit = "unknown"

// BuildTime is the build timestamp in RFC3339 format, set via ldflags.
var BuildTime = "unknown"

// GetCurrentVersion returns the effective version string for the mode.
func GetCurrentVersion(mode string) string {
	if mode == "dev" || mode == "demo" {
		return Version + "+dev"
	}
	return Version
}
