// Package version identifies a tarssh build. Release builds stamp the
// variables below through ldflags:
//
//	go build -ldflags "\
//	  -X github.com/sivizius/tarssh/version.Version=0.7.0 \
//	  -X github.com/sivizius/tarssh/version.GitCommit=$(git rev-parse --short HEAD) \
//	  -X github.com/sivizius/tarssh/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
//
// Unstamped binaries report "dev" and, when built from a git checkout,
// pick the commit out of the embedded module build info instead.
package version

import "runtime/debug"

// Version is the release tag, or "dev" for unstamped builds.
var Version = "dev"

// GitCommit is the short commit hash of the build, if stamped.
var GitCommit = ""

// BuildTime is the UTC build timestamp, if stamped.
var BuildTime = ""

// Full renders the complete build identifier, e.g.
// "0.7.0-1a2b3c4 (2026-08-31T10:00:00Z)". Pieces that were never
// stamped are left out rather than rendered empty.
func Full() string {
	v := Version
	if commit := commit(); commit != "" {
		v += "-" + commit
	}
	if BuildTime != "" {
		v += " (" + BuildTime + ")"
	}
	return v
}

// commit prefers the ldflags-stamped hash and falls back to the VCS
// revision Go embeds in module builds, shortened to the usual 7 chars.
func commit() string {
	if GitCommit != "" {
		return GitCommit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && len(setting.Value) >= 7 {
			return setting.Value[:7]
		}
	}
	return ""
}
