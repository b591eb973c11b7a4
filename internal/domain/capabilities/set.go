package capabilities

import "sort"

// Set is an ordered collection of distinct capabilities.
type Set []Capability

// NewSet parses raw names into a Set, dropping blanks and duplicates.
func NewSet(raw ...string) Set {
	s := make(Set, 0, len(raw))
	for _, r := range raw {
		s.Add(Parse(r))
	}
	return s
}

// Add adds a capability if it is not blank and not already present.
func (s *Set) Add(c Capability) {
	if c.IsEmpty() || s.Contains(c) {
		return
	}
	*s = append(*s, c)
}

// Contains checks if the set contains a capability.
func (s Set) Contains(c Capability) bool {
	for _, existing := range s {
		if existing == c {
			return true
		}
	}
	return false
}

// ContainsAny checks if the set contains any of the given capabilities.
func (s Set) ContainsAny(caps ...Capability) bool {
	for _, c := range caps {
		if s.Contains(c) {
			return true
		}
	}
	return false
}

// Remove removes a capability from the set.
func (s *Set) Remove(c Capability) {
	for i, existing := range *s {
		if existing == c {
			*s = append((*s)[:i], (*s)[i+1:]...)
			return
		}
	}
}

// Clone returns an independent copy.
func (s Set) Clone() Set {
	if s == nil {
		return nil
	}
	out := make(Set, len(s))
	copy(out, s)
	return out
}

// Strings returns the sorted capability names.
func (s Set) Strings() []string {
	out := make([]string, 0, len(s))
	for _, c := range s {
		out = append(out, string(c))
	}
	sort.Strings(out)
	return out
}
