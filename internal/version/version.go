// Package version canonicalizes partial app-version strings supplied by
// mobile clients into a full three-segment semver form suitable for range
// comparison with a release's appVersion constraint.
package version

import "regexp"

var (
	integerOnly  = regexp.MustCompile(`^\d+$`)
	majorMinor   = regexp.MustCompile(`^(\d+\.\d+)([+-].*)?$`)
)

// Normalize canonicalizes a client-supplied version string.
//
//   - "2"        -> "2.0.0"
//   - "2.1"      -> "2.1.0"
//   - "2.1-beta" -> "2.1.0-beta"
//   - "2.1.0"    -> "2.1.0" (unchanged)
//
// The function is total, deterministic, and idempotent on already-valid
// semver input. Empty input is returned unchanged.
func Normalize(input string) string {
	if input == "" {
		return input
	}
	if integerOnly.MatchString(input) {
		return input + ".0.0"
	}
	if m := majorMinor.FindStringSubmatch(input); m != nil {
		return m[1] + ".0" + m[2]
	}
	return input
}
