// Package version parses and orders dot-separated browser/driver version
// strings such as "120.0.6099.129".
package version

import (
	"errors"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// ErrUnparseable is returned when a string is not a valid version.
var ErrUnparseable = errors.New("version: unparseable version string")

var reVersion = regexp.MustCompile(`^[\d.]+$`)

// IsVersionString reports whether s consists only of digits and dots.
// It is the coarse filter applied to browser output and cache directory names;
// Parse additionally rejects empty components.
func IsVersionString(s string) bool {
	return reVersion.MatchString(s)
}

// Version is a parsed version: one non-negative integer per component.
type Version []int

// Parse converts s into a Version.
func Parse(s string) (Version, error) {
	if !IsVersionString(s) {
		return nil, ErrUnparseable
	}
	parts := strings.Split(s, ".")
	v := make(Version, len(parts))
	for i, p := range parts {
		if p == "" {
			return nil, ErrUnparseable
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, ErrUnparseable
		}
		v[i] = n
	}
	return v, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Major returns the first component.
func (v Version) Major() int {
	if len(v) == 0 {
		return 0
	}
	return v[0]
}

func (v Version) String() string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}

// Compare orders a and b numerically component by component.
// Missing trailing components count as zero, so "120" equals "120.0".
func Compare(a, b Version) int {
	n := max(len(a), len(b))
	for i := 0; i < n; i++ {
		var x, y int
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	}
	return 0
}

// Less reports whether v sorts before o.
func (v Version) Less(o Version) bool { return Compare(v, o) < 0 }

// Equal reports whether v and o denote the same version.
func (v Version) Equal(o Version) bool { return Compare(v, o) == 0 }

// Sort orders versions ascending in place.
func Sort(vs []Version) {
	slices.SortStableFunc(vs, Compare)
}
