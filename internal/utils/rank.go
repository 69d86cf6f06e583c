package utils

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// RankByTitle orders items by how closely their title matches query:
// 1. Titles containing the query verbatim come first
// 2. Then by edit distance between the lower-cased query and title
// Ties keep their upstream order.
func RankByTitle[T any](items []T, query string, title func(T) string) []T {
	query = strings.ToLower(strings.TrimSpace(query))
	ranked := make([]T, len(items))
	copy(ranked, items)
	if query == "" {
		return ranked
	}

	type scored struct {
		contains bool
		distance int
	}
	scores := make(map[int]scored, len(ranked))
	index := make([]int, len(ranked))
	for i, item := range ranked {
		t := strings.ToLower(title(item))
		scores[i] = scored{
			contains: strings.Contains(t, query),
			distance: levenshtein.ComputeDistance(query, t),
		}
		index[i] = i
	}

	sort.SliceStable(index, func(a, b int) bool {
		sa, sb := scores[index[a]], scores[index[b]]
		if sa.contains != sb.contains {
			return sa.contains
		}
		return sa.distance < sb.distance
	})

	out := make([]T, len(ranked))
	for i, idx := range index {
		out[i] = ranked[idx]
	}
	return out
}
