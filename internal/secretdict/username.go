package secretdict

import "strings"

const (
	// CloneSuffix marks the alternate identity of a base username.
	CloneSuffix = "_clone"

	// MaxIdentifierLength is the PostgreSQL NAMEDATALEN-1 limit in bytes.
	MaxIdentifierLength = 63
)

// AlternateUsername toggles the clone suffix. Applying it twice returns the
// original username.
func AlternateUsername(username string) string {
	if strings.HasSuffix(username, CloneSuffix) {
		return strings.TrimSuffix(username, CloneSuffix)
	}
	return username + CloneSuffix
}

// IsAlternateOf reports whether candidate is the alternate identity of username.
func IsAlternateOf(candidate, username string) bool {
	return candidate == AlternateUsername(username)
}
