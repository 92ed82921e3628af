// Package version reports build information stamped in by ldflags.
package version

import (
	"fmt"
	"runtime"

	"github.com/Masterminds/semver/v3"
)

// Set at build time:
//
//	-ldflags "-X github.com/teranos/weave/version.Version=0.3.1 -X ...CommitHash=$(git rev-parse HEAD)"
var (
	Version    = "dev"
	CommitHash = "dev"
	BuildTime  = "unknown"
)

// Info is the build description printed by `weave version`.
type Info struct {
	Version    string `json:"version"`
	CommitHash string `json:"commit_hash"`
	BuildTime  string `json:"build_time"`
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`
	// Protocol is the sandbox RPC protocol revision.
	Protocol int `json:"protocol"`
}

// SandboxProtocol is bumped whenever the host/guest RPC methods change shape.
const SandboxProtocol = 1

// Get returns the running build.
func Get() Info {
	return Info{
		Version:    Version,
		CommitHash: CommitHash,
		BuildTime:  BuildTime,
		GoVersion:  runtime.Version(),
		Platform:   fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		Protocol:   SandboxProtocol,
	}
}

// Semver parses the version. Development builds have none.
func (i Info) Semver() (*semver.Version, bool) {
	v, err := semver.NewVersion(i.Version)
	if err != nil {
		return nil, false
	}
	return v, true
}

// String is the one-line description.
func (i Info) String() string {
	if _, ok := i.Semver(); ok {
		return fmt.Sprintf("weave %s (commit %s, built %s, %s)", i.Version, i.Short(), i.BuildTime, i.Platform)
	}
	return fmt.Sprintf("weave dev (commit %s, built %s, %s)", i.Short(), i.BuildTime, i.Platform)
}

// Short is the abbreviated commit hash.
func (i Info) Short() string {
	if len(i.CommitHash) >= 7 {
		return i.CommitHash[:7]
	}
	return i.CommitHash
}
