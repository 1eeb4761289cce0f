package event

import (
	"fmt"
	"strings"
)

// Match is a single "column = value" predicate.
type Match struct {
	Column string `json:"column"`
	Value  string `json:"value"`
}

// Filter is an OR of matches. An empty filter matches every row.
type Filter struct {
	Any []Match `json:"any"`
}

func Eq(column, value string) Filter {
	return Filter{Any: []Match{{Column: column, Value: value}}}
}

func (f Filter) Or(column, value string) Filter {
	f.Any = append(append([]Match(nil), f.Any...), Match{Column: column, Value: value})
	return f
}

// Matches tells whether the change concerns the filtered scope.
// Resync always matches: the consumer cannot know what it missed.
func (f Filter) Matches(c Change) bool {
	if c.Op == OpResync || len(f.Any) == 0 {
		return true
	}
	for _, m := range f.Any {
		if v, ok := c.Row[m.Column]; ok && v == m.Value {
			return true
		}
	}
	return false
}

func (f Filter) String() string {
	parts := make([]string, 0, len(f.Any))
	for _, m := range f.Any {
		parts = append(parts, fmt.Sprintf("%s.eq.%s", m.Column, m.Value))
	}
	return strings.Join(parts, ",")
}
