// Package version identifies the running build. The commit comes from
// an -ldflags override when set, otherwise from the module's embedded
// VCS metadata, falling back to "dev" for test and non-git builds.
package version

import "runtime/debug"

// AppName appears in version strings, user agents and log lines.
const AppName = "colony"

// commit may be injected at build time:
//
//	go build -ldflags "-X github.com/moltworks/colony/pkg/version.commit=$(git rev-parse HEAD)"
var commit string

// GitCommit is the short commit hash of this build, or "dev".
var GitCommit = resolveCommit()

func resolveCommit() string {
	if commit != "" {
		return short(commit)
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return short(s.Value)
			}
		}
	}
	return "dev"
}

func short(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns "<app>/<commit>", e.g. "colony/a3f8c2d1".
func Full() string {
	return AppName + "/" + GitCommit
}
