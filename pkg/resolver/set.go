package resolver

import (
	"encoding/json"
	"sort"
)

// PermissionSet is an immutable set of permission names.
type PermissionSet struct {
	names map[string]struct{}
}

// NewPermissionSet builds a set from names.
func NewPermissionSet(names ...string) PermissionSet {
	s := PermissionSet{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		s.names[n] = struct{}{}
	}
	return s
}

// Has reports whether name is in the set.
func (s PermissionSet) Has(name string) bool {
	_, ok := s.names[name]
	return ok
}

// Len returns the number of permissions.
func (s PermissionSet) Len() int {
	return len(s.names)
}

// Names returns the permissions in lexical order.
func (s PermissionSet) Names() []string {
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Equal reports whether both sets hold the same names.
func (s PermissionSet) Equal(o PermissionSet) bool {
	if len(s.names) != len(o.names) {
		return false
	}
	for n := range s.names {
		if !o.Has(n) {
			return false
		}
	}
	return true
}

func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Names())
}

func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	*s = NewPermissionSet(names...)
	return nil
}
