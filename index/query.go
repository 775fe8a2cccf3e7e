package index

import (
	"strings"

	"github.com/ruteri/chunkstore/interfaces"
)

// Query is a parsed search expression: whitespace separated terms, any of
// which must match. A term matches a chunk when it equals one of the chunk's
// tags, or has the form key=value and the chunk has that property. An empty
// query matches every chunk.
type Query struct {
	terms []term
}

type term struct {
	raw   string
	key   string
	value string
	isKV  bool
}

// ParseQuery parses a search expression.
func ParseQuery(q string) Query {
	fields := strings.Fields(q)
	terms := make([]term, 0, len(fields))
	for _, f := range fields {
		t := term{raw: f}
		if k, v, ok := strings.Cut(f, "="); ok && k != "" {
			t.key, t.value, t.isKV = k, v, true
		}
		terms = append(terms, t)
	}
	return Query{terms: terms}
}

// Empty reports whether the query matches everything.
func (q Query) Empty() bool {
	return len(q.terms) == 0
}

// Matches reports whether an entry with the given tags and properties matches.
func (q Query) Matches(tags []string, properties map[string]string) bool {
	if q.Empty() {
		return true
	}
	for _, t := range q.terms {
		if t.isKV {
			if v, ok := properties[t.key]; ok && v == t.value {
				return true
			}
		}
		for _, tag := range tags {
			if tag == t.raw {
				return true
			}
		}
	}
	return false
}

// MatchesEntry reports whether entry matches.
func (q Query) MatchesEntry(entry interfaces.IndexEntry) bool {
	return q.Matches(entry.Tags, entry.Properties)
}
