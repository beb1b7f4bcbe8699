package store

import "strings"

// matchesTags reports whether a document tagged with docTags passes the
// filter. A filter tag matches when it equals any whitespace-separated token
// of any document tag, so "ford" matches a document tagged
// "ford lincoln manual". An empty filter matches everything; filter tags are
// OR-combined.
func matchesTags(docTags, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, want := range filter {
		want = strings.ToLower(strings.TrimSpace(want))
		if want == "" {
			continue
		}
		for _, tag := range docTags {
			for _, token := range strings.Fields(strings.ToLower(tag)) {
				if token == want {
					return true
				}
			}
		}
	}
	return false
}
