// Package recipients resolves the enabled recipients of an organization by paging
// through one of several identity backends.
package recipients

import "context"

type Recipient struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

type PageRequest struct {
	OrgID    string
	Cursor   string // empty on the first page
	PageSize int
}

type Page struct {
	Recipients []Recipient
	NextCursor string // empty when the backend has no more pages
}

// Provider is one identity backend. FetchPage returns *ResolutionError on failure.
type Provider interface {
	Name() string
	FetchPage(ctx context.Context, req PageRequest) (Page, error)
}

// Set is an insertion-ordered set of recipients keyed by ID.
type Set struct {
	// Source is the name of the provider that produced the set.
	Source string

	items []Recipient
	index map[string]struct{}
}

func NewSet(source string) *Set {
	return &Set{Source: source, index: make(map[string]struct{})}
}

// Add inserts r unless a recipient with the same ID is already present.
func (s *Set) Add(r Recipient) bool {
	if _, ok := s.index[r.ID]; ok {
		return false
	}
	s.index[r.ID] = struct{}{}
	s.items = append(s.items, r)
	return true
}

func (s *Set) Contains(id string) bool {
	_, ok := s.index[id]
	return ok
}

func (s *Set) Len() int {
	return len(s.items)
}

func (s *Set) Items() []Recipient {
	out := make([]Recipient, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Set) IDs() []string {
	ids := make([]string, 0, len(s.items))
	for _, r := range s.items {
		ids = append(ids, r.ID)
	}
	return ids
}
