package updater

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// CompareVersions compares two version strings.
// Returns -1 if a < b, 0 if equal, 1 if a > b.
//
// Dotted numeric versions of any length are compared segment by segment
// after padding the shorter one with zeros, so "1.2" == "1.2.0" and
// "1.10" > "1.2". Strings with a non-numeric segment fall back to semver
// ordering ("1.0.0-beta" < "1.0.0"). A leading "v" is ignored.
func CompareVersions(a, b string) (int, error) {
	av, aok := parseDotted(a)
	bv, bok := parseDotted(b)
	if aok && bok {
		return compareDotted(av, bv), nil
	}

	as, err := parseSemver(a)
	if err != nil {
		return 0, fmt.Errorf("parsing version %q: %w", a, err)
	}
	bs, err := parseSemver(b)
	if err != nil {
		return 0, fmt.Errorf("parsing version %q: %w", b, err)
	}
	return as.Compare(bs), nil
}

// IsNewer reports whether latest is strictly newer than current.
// Malformed input is never newer.
func IsNewer(latest, current string) bool {
	cmp, err := CompareVersions(latest, current)
	return err == nil && cmp > 0
}

// IsUpdateAvailable returns true if latest is newer than current.
func IsUpdateAvailable(current, latest string) (bool, error) {
	cmp, err := CompareVersions(current, latest)
	if err != nil {
		return false, err
	}
	return cmp == -1, nil
}

func parseDotted(version string) ([]uint64, bool) {
	version = strings.TrimPrefix(strings.TrimSpace(version), "v")
	if version == "" {
		return nil, false
	}
	parts := strings.Split(version, ".")
	out := make([]uint64, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, false
		}
		out[i] = n
	}
	return out, true
}

func compareDotted(a, b []uint64) int {
	n := max(len(a), len(b))
	for i := 0; i < n; i++ {
		var x, y uint64
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

// parseSemver strips a leading "v" and parses the version string.
func parseSemver(version string) (*semver.Version, error) {
	version = strings.TrimPrefix(strings.TrimSpace(version), "v")
	return semver.NewVersion(version)
}
