// Package installer resolves and invokes the language runtime installer.
package installer

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/mod/semver"
)

var versionPattern = regexp.MustCompile(`\b(\d+\.\d+(?:\.\d+)?)/?`)

// ParseVersions extracts release version strings from a directory listing.
// Only versions starting with prefix are kept. Duplicates are removed and the
// result is sorted ascending by version.
func ParseVersions(listing string, prefix string) []string {
	seen := make(map[string]struct{})
	var versions []string
	for _, match := range versionPattern.FindAllStringSubmatch(listing, -1) {
		v := match[1]
		if prefix != "" && !strings.HasPrefix(v, prefix) {
			continue
		}
		if !semver.IsValid(canonical(v)) {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool {
		return semver.Compare(canonical(versions[i]), canonical(versions[j])) < 0
	})
	return versions
}

// Latest returns the highest version using numeric component comparison, so
// "3.10" ranks above "3.9".
func Latest(versions []string) (string, error) {
	var best string
	for _, v := range versions {
		if !semver.IsValid(canonical(v)) {
			continue
		}
		if best == "" || semver.Compare(canonical(v), canonical(best)) > 0 {
			best = v
		}
	}
	if best == "" {
		return "", fmt.Errorf("no valid versions found")
	}
	return best, nil
}

func canonical(v string) string {
	return "v" + strings.TrimPrefix(v, "v")
}
