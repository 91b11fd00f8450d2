// Package version carries the build identity the binary reports in logs, on
// the admin API, and in the handshakes and user agents of outbound clients.
package version

import "runtime/debug"

// AppName tags log lines, MCP handshakes and user-agent strings.
const AppName = "nergal"

// commit can be stamped at build time for environments without VCS metadata:
//
//	go build -ldflags "-X github.com/finnetrolle/nergal-sub000/pkg/version.commit=<sha>"
var commit string

// GitCommit is the short hash the binary was built from, suffixed "-dirty"
// when the tree had local changes, or "dev" when no VCS stamp is available
// (go test, containers built without .git).
var GitCommit = resolve()

func resolve() string {
	if commit != "" {
		return short(commit)
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	var revision string
	var dirty bool
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	if revision == "" {
		return "dev"
	}
	if dirty {
		return short(revision) + "-dirty"
	}
	return short(revision)
}

func short(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full is "nergal/<commit>", the identity string clients send and logs carry.
func Full() string {
	return AppName + "/" + GitCommit
}
