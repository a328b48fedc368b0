package store

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is the schema version marker a store is stamped with before any
// payload write. Backends with the same major version are loadable by the
// same release of the resource manager.
type Version struct {
	Major int32 `json:"major"`
	Minor int32 `json:"minor"`
}

// CurrentVersion is the marker written by StoreVersion.
var CurrentVersion = Version{Major: 1, Minor: 2}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// IsCompatible reports whether state written under v can be loaded by a
// reader at version other. Minor revisions are additive only.
func (v Version) IsCompatible(other Version) bool {
	return v.Major == other.Major
}

// ParseVersion parses the "major.minor" form produced by String.
func ParseVersion(s string) (Version, error) {
	major, minor, ok := strings.Cut(s, ".")
	if !ok {
		return Version{}, fmt.Errorf("invalid version %q", s)
	}
	maj, err := strconv.ParseInt(major, 10, 32)
	if err != nil {
		return Version{}, fmt.Errorf("invalid version %q: %w", s, err)
	}
	min, err := strconv.ParseInt(minor, 10, 32)
	if err != nil {
		return Version{}, fmt.Errorf("invalid version %q: %w", s, err)
	}
	return Version{Major: int32(maj), Minor: int32(min)}, nil
}
