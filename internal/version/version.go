package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String renders the build identity for --version.
func String() string {
	return fmt.Sprintf("save-laz %s (%s, built %s)", Version, GitSHA, BuildTime)
}

// GeneratingSoftware is the 32-byte LAS header field value.
func GeneratingSoftware() string {
	s := "save-laz " + Version
	if len(s) > 32 {
		s = s[:32]
	}
	return s
}
