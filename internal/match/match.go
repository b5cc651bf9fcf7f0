// Package match selects minion ids with shell-style glob patterns.
package match

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// All is the selector meaning every candidate in scope. An empty
// pattern behaves the same way.
const All = "all"

// Match returns the candidate ids matched by pattern, sorted. Patterns
// use shell wildcards (*, ?, character classes), are case-sensitive and
// anchor to the whole id. A comma-separated pattern list matches the
// union of its parts.
func Match(pattern string, ids []string) ([]string, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || pattern == All {
		out := append([]string(nil), ids...)
		sort.Strings(out)
		return out, nil
	}

	var globs []glob.Glob
	for _, part := range strings.Split(pattern, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		g, err := glob.Compile(part)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", part, err)
		}
		globs = append(globs, g)
	}

	matched := make(map[string]struct{})
	for _, id := range ids {
		for _, g := range globs {
			if g.Match(id) {
				matched[id] = struct{}{}
				break
			}
		}
	}

	out := make([]string, 0, len(matched))
	for id := range matched {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
