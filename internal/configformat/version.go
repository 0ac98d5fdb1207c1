package configformat

import (
	"strconv"
	"strings"
)

// CurrentVersion is the version this build writes into every saved file.
const CurrentVersion = "4.0.0"

// versionPrefix marks the trailing line of a modern file.
const versionPrefix = "@oidc-agent "

// compareVersions compares two dotted-numeric version strings
// lexicographically component by component, treating a missing component as
// zero and a missing version string entirely as "0.0.0" (spec §4.2).
// Returns -1, 0, or 1 the way strings.Compare does.
func compareVersions(a, b string) int {
	if a == "" {
		a = "0.0.0"
	}
	if b == "" {
		b = "0.0.0"
	}
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		av := component(as, i)
		bv := component(bs, i)
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

func component(parts []string, i int) int {
	if i >= len(parts) {
		return 0
	}
	v, err := strconv.Atoi(parts[i])
	if err != nil {
		return 0
	}
	return v
}

// isModernVersionLine reports whether line is a version line whose version
// is >= 2.1.0, the cutoff at which the modern on-disk format was introduced.
func isModernVersionLine(line string) (string, bool) {
	if !strings.HasPrefix(line, versionPrefix) {
		return "", false
	}
	v := strings.TrimSpace(strings.TrimPrefix(line, versionPrefix))
	return v, compareVersions(v, "2.1.0") >= 0
}
