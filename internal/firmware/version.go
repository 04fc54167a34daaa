package firmware

import (
	"github.com/Masterminds/semver/v3"
)

// parseVersion parses a firmware version leniently: "1.2" equals "1.2.0"
// and a leading "v" is accepted.
func parseVersion(v string) (*semver.Version, error) {
	return semver.NewVersion(v)
}

// IsNewer reports whether candidate is strictly greater than installed.
// An unparseable installed version is treated as older than any valid
// candidate; an unparseable candidate is never newer.
func IsNewer(candidate, installed string) bool {
	cv, err := parseVersion(candidate)
	if err != nil {
		return false
	}
	iv, err := parseVersion(installed)
	if err != nil {
		return true
	}
	return cv.GreaterThan(iv)
}

// selectLatest returns the candidate with the numerically greatest version.
// Candidates whose version cannot be parsed are skipped. The second return
// value lists the skipped versions.
func selectLatest(candidates []Candidate) (*Candidate, []string) {
	var (
		best     *Candidate
		bestVer  *semver.Version
		rejected []string
	)
	for i := range candidates {
		v, err := parseVersion(candidates[i].Version)
		if err != nil {
			rejected = append(rejected, candidates[i].Version)
			continue
		}
		if bestVer == nil || v.GreaterThan(bestVer) {
			best = &candidates[i]
			bestVer = v
		}
	}
	if best == nil {
		return nil, rejected
	}
	c := cloneCandidate(*best)
	return &c, rejected
}

func cloneCandidate(c Candidate) Candidate {
	files := make([]File, len(c.Files))
	copy(files, c.Files)
	c.Files = files
	return c
}
