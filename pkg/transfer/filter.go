package transfer

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/3leaps/snapbridge/pkg/output"
)

// Filter selects items by doublestar glob patterns.
//
// An empty include list includes every key. Excludes are applied after
// includes.
type Filter struct {
	includes []string
	excludes []string
}

// NewFilter validates the patterns and returns a filter.
func NewFilter(includes, excludes []string) (*Filter, error) {
	f := &Filter{}
	for _, p := range includes {
		p = strings.TrimPrefix(strings.TrimSpace(p), "/")
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid include pattern %q", p)
		}
		f.includes = append(f.includes, p)
	}
	for _, p := range excludes {
		p = strings.TrimPrefix(strings.TrimSpace(p), "/")
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid exclude pattern %q", p)
		}
		f.excludes = append(f.excludes, p)
	}
	return f, nil
}

// Allow reports whether key passes the filter, and the skip reason when not.
func (f *Filter) Allow(key string) (bool, string) {
	if f == nil {
		return true, ""
	}
	if len(f.includes) > 0 {
		included := false
		for _, p := range f.includes {
			if matchPattern(p, key) {
				included = true
				break
			}
		}
		if !included {
			return false, output.SkipReasonNotIncluded
		}
	}
	for _, p := range f.excludes {
		if matchPattern(p, key) {
			return false, output.SkipReasonExcluded
		}
	}
	return true, ""
}

// matchPattern matches a key against a validated doublestar pattern.
func matchPattern(pattern, key string) bool {
	matched, err := doublestar.Match(pattern, key)
	if err != nil {
		return false
	}
	return matched
}
