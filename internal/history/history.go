package history

import (
	"strings"
	"sync"
)

// DefaultLimit is how many recent searches are remembered
const DefaultLimit = 5

// SearchHistory keeps the most recent distinct search queries, newest first
type SearchHistory struct {
	mu      sync.Mutex
	limit   int
	entries []string
}

// NewSearchHistory creates a new search history bounded to limit entries
func NewSearchHistory(limit int) *SearchHistory {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &SearchHistory{limit: limit}
}

// Record moves query to the front, dropping an older duplicate and anything past the limit
func (h *SearchHistory) Record(query string) {
	query = strings.TrimSpace(query)
	if query == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	entries := make([]string, 0, h.limit)
	entries = append(entries, query)
	for _, existing := range h.entries {
		if existing == query {
			continue
		}
		if len(entries) == h.limit {
			break
		}
		entries = append(entries, existing)
	}
	h.entries = entries
}

// List returns a copy of the recent searches, newest first
func (h *SearchHistory) List() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]string, len(h.entries))
	copy(out, h.entries)
	return out
}

// Restore merges persisted entries behind the current ones
func (h *SearchHistory) Restore(entries []string) {
	current := h.List()
	for i := len(entries) - 1; i >= 0; i-- {
		h.Record(entries[i])
	}
	for i := len(current) - 1; i >= 0; i-- {
		h.Record(current[i])
	}
}
