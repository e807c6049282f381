// Package buildinfo holds version metadata injected at link time:
//
//	go build -ldflags "-X github.com/modoterra/reqlog/internal/buildinfo.Version=v0.3.0"
package buildinfo

import "fmt"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String formats the build metadata for version output.
func String(program string) string {
	return fmt.Sprintf("%s %s (%s) built %s", program, Version, Commit, Date)
}
