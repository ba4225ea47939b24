// Package buildinfo holds version metadata meant to be overridden at
// link time via `go build -ldflags "-X ...=..."`, the Go equivalent of
// main.cc's VERSION/GIT_HASH/BUILD_TYPE preprocessor defines.
package buildinfo

import "fmt"

// Version, GitHash and BuildType default to the values main.cc falls
// back to when its own macros are undefined; override at build time,
// e.g.:
//
//	go build -ldflags "-X github.com/novawatcher-io/watchermen/internal/buildinfo.Version=0.5 -X github.com/novawatcher-io/watchermen/internal/buildinfo.GitHash=$(git rev-parse --short HEAD)"
var (
	Version   = "0.5"
	GitHash   = "unknown"
	BuildType = "release version"
)

// String renders the -v flag's output: "version: 0.5, build: abc123, release version".
func String() string {
	return fmt.Sprintf("version: %s, build: %s, %s", Version, GitHash, BuildType)
}
