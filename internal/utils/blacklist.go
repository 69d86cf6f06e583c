package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// Blacklist holds lower-cased terms that hide matching search results
type Blacklist struct {
	terms []string
}

// NewBlacklist builds a blacklist from raw terms; blank terms are ignored
func NewBlacklist(terms ...string) *Blacklist {
	b := &Blacklist{}
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term != "" {
			b.terms = append(b.terms, term)
		}
	}
	return b
}

// LoadBlacklist reads one term per line; lines starting with # are comments.
// A missing file yields an empty blacklist.
func LoadBlacklist(path string) (*Blacklist, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewBlacklist(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read blacklist %s: %w", path, err)
	}

	var terms []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		terms = append(terms, line)
	}
	return NewBlacklist(terms...), nil
}

// Match reports the first term contained in title, case-insensitively
func (b *Blacklist) Match(title string) (string, bool) {
	if b == nil {
		return "", false
	}
	lower := strings.ToLower(title)
	for _, term := range b.terms {
		if strings.Contains(lower, term) {
			return term, true
		}
	}
	return "", false
}

// Len returns the number of active terms
func (b *Blacklist) Len() int {
	if b == nil {
		return 0
	}
	return len(b.terms)
}
