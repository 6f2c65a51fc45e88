// Package version holds the compiled-in dogma version and the
// client/server compatibility check the CLI's status command runs, ported
// from BeadsLog's internal/rpc.checkVersionCompatibility but using
// golang.org/x/mod/semver properly instead of its informal string
// comparison.
package version

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// Version is the compiled-in version of this build, overridden at
// build time with -ldflags "-X .../internal/version.Version=...".
var Version = "0.1.0"

// CheckCompatible compares a client's version against a server's
// reported version. An empty clientVersion or serverVersion (old
// builds that predate this check) is always allowed, as is either
// version failing to parse as semver (dev builds). Otherwise the
// server must be the same major version as the client, and at least as
// new — an older server may not understand requests a newer client
// sends.
func CheckCompatible(serverVersion, clientVersion string) error {
	if clientVersion == "" || serverVersion == "" {
		return nil
	}
	sv, cv := normalize(serverVersion), normalize(clientVersion)
	if !semver.IsValid(sv) || !semver.IsValid(cv) {
		return nil
	}
	if semver.Major(sv) != semver.Major(cv) {
		if semver.Compare(sv, cv) < 0 {
			return fmt.Errorf("incompatible major versions: client %s, server %s (server is older; upgrade and restart it)", clientVersion, serverVersion)
		}
		return fmt.Errorf("incompatible major versions: client %s, server %s (client is older; upgrade the dogma CLI)", clientVersion, serverVersion)
	}
	if semver.Compare(sv, cv) < 0 {
		return fmt.Errorf("server %s is older than client %s; upgrade and restart the server", serverVersion, clientVersion)
	}
	return nil
}

func normalize(v string) string {
	if !strings.HasPrefix(v, "v") {
		return "v" + v
	}
	return v
}
