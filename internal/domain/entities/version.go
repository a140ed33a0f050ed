package entities

import (
	"fmt"
	"strconv"
	"strings"
)

// Version represents a full package version: [epoch:]pkgver[-pkgrel]
type Version struct {
	Epoch int
	Ver   string
	Rel   string
}

// ParseVersion parses a version string of the form [epoch:]pkgver[-pkgrel]
func ParseVersion(s string) (Version, error) {
	if s == "" {
		return Version{}, fmt.Errorf("version string is empty")
	}

	v := Version{}
	rest := s

	if idx := strings.Index(rest, ":"); idx >= 0 {
		epoch, err := strconv.Atoi(rest[:idx])
		if err != nil || epoch < 0 {
			return Version{}, fmt.Errorf("invalid epoch in %q", s)
		}
		v.Epoch = epoch
		rest = rest[idx+1:]
	}

	if idx := strings.LastIndex(rest, "-"); idx >= 0 {
		v.Rel = rest[idx+1:]
		rest = rest[:idx]
		if v.Rel == "" {
			return Version{}, fmt.Errorf("empty release in %q", s)
		}
	}

	if rest == "" {
		return Version{}, fmt.Errorf("empty version in %q", s)
	}
	if strings.ContainsAny(rest, "-:/ ") {
		return Version{}, fmt.Errorf("version %q contains forbidden characters", rest)
	}
	v.Ver = rest

	return v, nil
}

// String renders the version as [epoch:]pkgver[-pkgrel]
func (v Version) String() string {
	var b strings.Builder
	if v.Epoch > 0 {
		b.WriteString(strconv.Itoa(v.Epoch))
		b.WriteString(":")
	}
	b.WriteString(v.Ver)
	if v.Rel != "" {
		b.WriteString("-")
		b.WriteString(v.Rel)
	}
	return b.String()
}

// Compare orders two versions: -1 if v is older, 0 if equal, 1 if newer.
// Epoch dominates; the release is only compared when both sides carry one.
func (v Version) Compare(o Version) int {
	if v.Epoch != o.Epoch {
		if v.Epoch < o.Epoch {
			return -1
		}
		return 1
	}
	if ret := alpmvercmp(v.Ver, o.Ver); ret != 0 {
		return ret
	}
	if v.Rel != "" && o.Rel != "" {
		return alpmvercmp(v.Rel, o.Rel)
	}
	return 0
}

// VerCmp compares two raw version strings with package manager ordering
// rules. Both sides may carry epoch and release components.
func VerCmp(a, b string) int {
	return splitEVR(a).Compare(splitEVR(b))
}

// splitEVR is the lenient counterpart of ParseVersion used for comparison:
// malformed pieces degrade instead of failing, matching vercmp(8).
func splitEVR(s string) Version {
	v := Version{}
	rest := s
	if idx := strings.Index(rest, ":"); idx >= 0 {
		if epoch, err := strconv.Atoi(rest[:idx]); err == nil && epoch >= 0 {
			v.Epoch = epoch
		}
		rest = rest[idx+1:]
	}
	if idx := strings.LastIndex(rest, "-"); idx >= 0 {
		v.Rel = rest[idx+1:]
		rest = rest[:idx]
	}
	v.Ver = rest
	return v
}

// alpmvercmp compares two bare version segments the way libalpm does:
// alternating numeric and alphabetic blocks, numeric blocks compare as
// integers, alphabetic blocks lexicographically, and a numeric block
// always beats an alphabetic one.
func alpmvercmp(a, b string) int {
	if a == b {
		return 0
	}

	one, two := a, b
	for len(one) > 0 && len(two) > 0 {
		sep1, sep2 := 0, 0
		for sep1 < len(one) && !isAlnum(one[sep1]) {
			sep1++
		}
		for sep2 < len(two) && !isAlnum(two[sep2]) {
			sep2++
		}
		one, two = one[sep1:], two[sep2:]

		if len(one) == 0 || len(two) == 0 {
			break
		}
		// blocks separated by different run lengths of separators order
		// by separator count
		if sep1 != sep2 {
			if sep1 < sep2 {
				return -1
			}
			return 1
		}

		isnum := isDigit(one[0])
		var seg1, seg2 string
		if isnum {
			seg1, one = takeWhile(one, isDigit)
			seg2, two = takeWhile(two, isDigit)
		} else {
			seg1, one = takeWhile(one, isAlpha)
			seg2, two = takeWhile(two, isAlpha)
		}

		// the other side has a different block type at this position; a
		// numeric block is always newer than an alphabetic one
		if seg2 == "" {
			if isnum {
				return 1
			}
			return -1
		}

		if isnum {
			seg1 = strings.TrimLeft(seg1, "0")
			seg2 = strings.TrimLeft(seg2, "0")
			if len(seg1) != len(seg2) {
				if len(seg1) < len(seg2) {
					return -1
				}
				return 1
			}
		}
		if cmp := strings.Compare(seg1, seg2); cmp != 0 {
			return cmp
		}
	}

	if len(one) == 0 && len(two) == 0 {
		return 0
	}
	// a trailing alphabetic run never beats an empty remainder: 1.0 > 1.0a
	if (len(one) == 0 && !isAlpha(two[0])) || (len(one) > 0 && isAlpha(one[0])) {
		return -1
	}
	return 1
}

func takeWhile(s string, pred func(byte) bool) (segment, rest string) {
	i := 0
	for i < len(s) && pred(s[i]) {
		i++
	}
	return s[:i], s[i:]
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isAlpha(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

func isAlnum(c byte) bool { return isDigit(c) || isAlpha(c) }

// IsValidPkgver reports whether s is usable as a package version:
// alphanumeric plus periods and underscores, no release separator.
func IsValidPkgver(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !isAlnum(c) && c != '.' && c != '_' && c != '+' {
			return false
		}
	}
	return true
}

// IsValidPkgrel reports whether s is a valid release number: an integer
// with an optional single decimal suffix.
func IsValidPkgrel(s string) bool {
	parts := strings.SplitN(s, ".", 2)
	for _, p := range parts {
		if p == "" {
			return false
		}
		for i := 0; i < len(p); i++ {
			if !isDigit(p[i]) {
				return false
			}
		}
	}
	return true
}
