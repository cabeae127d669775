// Package version exposes the client version derived from build metadata.
//
// Priority: -ldflags override > VCS info from debug.BuildInfo > "dev" fallback.
// The result is sent as the User-Agent of every chat connection so the
// orchestrator can tell client builds apart.
package version

import "runtime/debug"

// AppName is the client name used in version strings and the dial User-Agent.
const AppName = "chatstream"

// gitCommitOverride is set via -ldflags at build time. Empty means no override.
var gitCommitOverride string

// GitCommit is the short git commit hash, or "dev" when unavailable.
var GitCommit = resolveCommit(gitCommitOverride, readVCSRevision())

func readVCSRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return ""
}

func resolveCommit(override, revision string) string {
	commit := override
	if commit == "" {
		commit = revision
	}
	if commit == "" {
		return "dev"
	}
	if len(commit) > 8 {
		return commit[:8]
	}
	return commit
}

// UserAgent returns "chatstream/<commit>".
func UserAgent() string {
	return AppName + "/" + GitCommit
}
