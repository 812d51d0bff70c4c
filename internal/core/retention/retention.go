// Package retention decides which artifacts a pruning pass may delete
package retention

import (
	"slices"
	"strings"
	"time"

	"stallwatch/internal/platform/config"
	perr "stallwatch/internal/platform/errors"
)

// Artifact is one prunable item, a file or a history row
type Artifact struct {
	Name    string
	ModTime time.Time
	Size    int64
}

// Policy bounds how much is kept
// an artifact goes only when the count is above MaxFiles and it is older than MaxAge
type Policy struct {
	MaxFiles int
	MaxAge   time.Duration
}

// DefaultPolicy keeps 200 files and anything younger than 2h
func DefaultPolicy() Policy { return Policy{MaxFiles: 200, MaxAge: 2 * time.Hour} }

// PolicyFrom reads RETENTION_MAX_FILES and RETENTION_MAX_AGE
func PolicyFrom(c config.Conf) Policy {
	d := DefaultPolicy()
	return Policy{
		MaxFiles: c.MayInt("MAX_FILES", d.MaxFiles),
		MaxAge:   c.MayDuration("MAX_AGE", d.MaxAge),
	}
}

// Validate rejects negative bounds
func (p Policy) Validate() error {
	if p.MaxFiles < 0 {
		return perr.WithField(perr.Configf("max files %d is negative", p.MaxFiles), "max_files")
	}
	if p.MaxAge < 0 {
		return perr.WithField(perr.Configf("max age %v is negative", p.MaxAge), "max_age")
	}
	return nil
}

// Sort orders artifacts oldest first, ties by name
func Sort(as []Artifact) {
	slices.SortFunc(as, func(a, b Artifact) int {
		if c := a.ModTime.Compare(b.ModTime); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
}

// Select returns the artifacts to delete, oldest first
// the newest artifact is never selected; the input is not modified
func Select(as []Artifact, now time.Time, p Policy) []Artifact {
	if len(as) < 2 {
		return nil
	}
	sorted := slices.Clone(as)
	Sort(sorted)

	cutoff := now.Add(-p.MaxAge)
	remaining := len(sorted)
	var out []Artifact
	for _, a := range sorted[:len(sorted)-1] {
		if remaining <= p.MaxFiles || !a.ModTime.Before(cutoff) {
			break
		}
		out = append(out, a)
		remaining--
	}
	return out
}
