package model

import (
	"encoding/json"
	"sort"
)

// StaffSet is an immutable, sorted set of staff identifiers. It is a value:
// copying a StaffSet never shares state with the staff directory it was
// computed from.
type StaffSet struct {
	ids []string
}

// NewStaffSet builds a set from ids, dropping duplicates and empty entries.
func NewStaffSet(ids ...string) StaffSet {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return StaffSet{ids: out}
}

// Contains reports whether id is a member of the set.
func (s StaffSet) Contains(id string) bool {
	i := sort.SearchStrings(s.ids, id)
	return i < len(s.ids) && s.ids[i] == id
}

// IDs returns a copy of the members in ascending order.
func (s StaffSet) IDs() []string {
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

func (s StaffSet) Len() int { return len(s.ids) }

// IsSupersetOf reports whether every member of other is in s.
func (s StaffSet) IsSupersetOf(other StaffSet) bool {
	for _, id := range other.ids {
		if !s.Contains(id) {
			return false
		}
	}
	return true
}

// Equal reports whether both sets hold the same members.
func (s StaffSet) Equal(other StaffSet) bool {
	if len(s.ids) != len(other.ids) {
		return false
	}
	for i := range s.ids {
		if s.ids[i] != other.ids[i] {
			return false
		}
	}
	return true
}

func (s StaffSet) MarshalJSON() ([]byte, error) {
	if s.ids == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.ids)
}

func (s *StaffSet) UnmarshalJSON(b []byte) error {
	var ids []string
	if err := json.Unmarshal(b, &ids); err != nil {
		return err
	}
	*s = NewStaffSet(ids...)
	return nil
}
