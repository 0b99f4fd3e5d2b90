// Package version carries the build stamp for teamboard binaries.
package version

// Overridden with -ldflags "-X github.com/GoCodeAlone/teamboard/internal/version.Version=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String renders the stamp the way both binaries print it.
func String() string {
	return Version + " (commit " + Commit + ", built " + BuildDate + ")"
}
