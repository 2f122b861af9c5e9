// Package version provides SCPI protocol version parsing and feature gating.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// SpecVersion represents a parsed "major.minor" protocol version.
type SpecVersion struct {
	Major int
	Minor int
}

// Default is the protocol version assumed for a device whose version has
// not been queried yet.
var Default = SpecVersion{Major: 1, Minor: 5}

// Minimum versions for version-gated device features.
var (
	// MinDimensionQuery is required for the per-channel dimension query.
	MinDimensionQuery = SpecVersion{Major: 1, Minor: 6}

	// MinElog is required for the event-log subsystem.
	MinElog = SpecVersion{Major: 1, Minor: 7}

	// MinDataStream is required for data-stream item selection.
	MinDataStream = SpecVersion{Major: 1, Minor: 7}

	// MinBinaryFormat is required for binary value transfer.
	MinBinaryFormat = SpecVersion{Major: 1, Minor: 20}
)

// Parse parses a "major.minor" version string.
func Parse(s string) (SpecVersion, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return SpecVersion{}, fmt.Errorf("invalid version %q: expected major.minor", s)
	}

	major, err := strconv.Atoi(parts[0])
	if err != nil || major < 0 {
		return SpecVersion{}, fmt.Errorf("invalid version %q: bad major component", s)
	}

	minor, err := strconv.Atoi(parts[1])
	if err != nil || minor < 0 {
		return SpecVersion{}, fmt.Errorf("invalid version %q: bad minor component", s)
	}

	return SpecVersion{Major: major, Minor: minor}, nil
}

// ParseReply extracts the protocol version from a *VER? device reply, e.g.
//
//	SCPI,"1999.0",RC_SCPI,"1.6",OXYGEN,"2.5.71"
//
// Replies echoed with a header token and embedded spaces are handled: the
// first space-separated token is dropped and the remainder rejoined before
// the comma fields are inspected. The protocol version is the fourth field.
func ParseReply(reply string) (SpecVersion, error) {
	reply = strings.TrimSpace(reply)
	if fields := strings.Split(reply, " "); len(fields) > 1 {
		reply = strings.Join(fields[1:], "")
	}

	fields := strings.Split(reply, ",")
	if len(fields) < 4 {
		return SpecVersion{}, fmt.Errorf("invalid version reply %q: expected at least 4 fields", reply)
	}

	return Parse(strings.Trim(fields[3], `"`))
}

// String returns the version as "major.minor".
func (v SpecVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// AtLeast reports whether v meets the given minimum version: true iff the
// major version is greater, or the major versions are equal and the minor
// version is greater or equal.
func (v SpecVersion) AtLeast(min SpecVersion) bool {
	if v.Major != min.Major {
		return v.Major > min.Major
	}
	return v.Minor >= min.Minor
}
