// Package buildinfo holds the application identity injected at build time.
package buildinfo

// These variables are intended to be overridden via -ldflags at build time:
//
//	go build -ldflags "-X github.com/macg4dave/duopane/pkg/buildinfo.Version=v1.2.3"
var (
	// Name is the canonical application name.
	Name = "duopane"

	// Version is the semantic version of the build.
	Version = "dev"

	// Commit is the VCS revision the binary was built from.
	Commit = "none"
)
