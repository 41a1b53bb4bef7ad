package tokens

import "strings"

// Set is an insertion-ordered set of push tokens. The zero value is ready to use.
type Set struct {
	order []string
	seen  map[string]struct{}
}

func NewSet(tokens ...string) *Set {
	s := &Set{}
	for _, t := range tokens {
		s.Add(t)
	}
	return s
}

// Add trims t and stores it unless blank or already present.
func (s *Set) Add(t string) bool {
	t = strings.TrimSpace(t)
	if t == "" {
		return false
	}
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, ok := s.seen[t]; ok {
		return false
	}
	s.seen[t] = struct{}{}
	s.order = append(s.order, t)
	return true
}

func (s *Set) Merge(other *Set) {
	if other == nil {
		return
	}
	for _, t := range other.order {
		s.Add(t)
	}
}

func (s *Set) Contains(t string) bool {
	_, ok := s.seen[strings.TrimSpace(t)]
	return ok
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Slice returns the tokens in insertion order. The result is a copy.
func (s *Set) Slice() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.order...)
}
