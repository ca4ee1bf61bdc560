package policy

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a three-component policy version identifier
type Version struct {
	Major int
	Minor int
	Patch int
}

// String returns the dotted form of the version
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// NextPatch returns the version with its patch component incremented
func (v Version) NextPatch() Version {
	return Version{Major: v.Major, Minor: v.Minor, Patch: v.Patch + 1}
}

// Compare returns -1, 0 or 1 as v is older than, equal to or newer than other
func (v Version) Compare(other Version) int {
	switch {
	case v.Major != other.Major:
		return compareInts(v.Major, other.Major)
	case v.Minor != other.Minor:
		return compareInts(v.Minor, other.Minor)
	default:
		return compareInts(v.Patch, other.Patch)
	}
}

// ParseVersion parses a "major.minor.patch" identifier of non-negative integers
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("invalid version %q: expected major.minor.patch", s)
	}

	var nums [3]int
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || part == "" || part[0] == '+' || part[0] == '-' {
			return Version{}, fmt.Errorf("invalid version %q: component %q is not a non-negative integer", s, part)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// NextPatchVersion increments the patch component of a version identifier
func NextPatchVersion(s string) (string, error) {
	v, err := ParseVersion(s)
	if err != nil {
		return "", err
	}
	return v.NextPatch().String(), nil
}

// CompareVersions compares two version identifiers numerically
func CompareVersions(a, b string) (int, error) {
	va, err := ParseVersion(a)
	if err != nil {
		return 0, err
	}
	vb, err := ParseVersion(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}

func compareInts(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
