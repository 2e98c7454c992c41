package protocol

import (
	"strings"

	"golang.org/x/mod/semver"
)

// ClientVersion is sent with every handshake
const ClientVersion = "1.2.0"

func canonical(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// ValidVersion reports whether v is a MAJOR.MINOR.PATCH version
func ValidVersion(v string) bool {
	c := canonical(v)
	return semver.IsValid(c) && semver.Canonical(c) == c
}

// Compatible reports whether a client version can talk to a relay version.
// Breaking protocol changes bump the major number.
func Compatible(client, relay string) bool {
	if !ValidVersion(client) || !ValidVersion(relay) {
		return false
	}
	return semver.Major(canonical(client)) == semver.Major(canonical(relay))
}
