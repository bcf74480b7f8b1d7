// Package version holds build-time version information for the kbase binary.
// The variables in this package are populated at build time via -ldflags:
//
//	go build -ldflags="-X github.com/54b3r/kbase-go/internal/version.Version=v1.2.3 \
//	                    -X github.com/54b3r/kbase-go/internal/version.Commit=abc1234 \
//	                    -X github.com/54b3r/kbase-go/internal/version.BuildDate=2025-01-01"
//
// When built without ldflags the values fall back to "dev" and "unknown".
package version

import "fmt"

// Version is the semantic version of the binary (e.g. "v1.2.3").
var Version = "dev"

// Commit is the short git SHA of the commit the binary was built from.
var Commit = "unknown"

// BuildDate is the UTC date the binary was built (RFC3339 format).
var BuildDate = "unknown"

// String formats the build information as a single line.
func String() string {
	return fmt.Sprintf("kbase %s (commit: %s, built: %s)", Version, Commit, BuildDate)
}
