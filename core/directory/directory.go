// Package directory defines the read-only staff directory consumed by the
// eligibility calculator.
package directory

import (
	"context"
	"sync"

	"github.com/kilianp07/villadispatch/core/model"
)

// Directory answers which staff members hold a role.
type Directory interface {
	StaffByRole(ctx context.Context, role string) ([]model.StaffMember, error)
}

// Static is an in-memory Directory. Replace swaps the whole roster
// atomically, which is how file-backed directories reload.
type Static struct {
	mu      sync.RWMutex
	members []model.StaffMember
}

// NewStatic returns a Directory serving members.
func NewStatic(members ...model.StaffMember) *Static {
	s := &Static{}
	s.Replace(members)
	return s
}

// Replace swaps the roster.
func (s *Static) Replace(members []model.StaffMember) {
	cp := make([]model.StaffMember, len(members))
	for i, m := range members {
		m.Roles = append([]string(nil), m.Roles...)
		cp[i] = m
	}
	s.mu.Lock()
	s.members = cp
	s.mu.Unlock()
}

// Update applies fn to the member with the given id, if present.
func (s *Static) Update(id string, fn func(*model.StaffMember)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.members {
		if s.members[i].ID == id {
			fn(&s.members[i])
			return true
		}
	}
	return false
}

// All returns a copy of the roster.
func (s *Static) All() []model.StaffMember {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.StaffMember(nil), s.members...)
}

func (s *Static) StaffByRole(_ context.Context, role string) ([]model.StaffMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.StaffMember
	for _, m := range s.members {
		if m.HasRole(role) {
			out = append(out, m)
		}
	}
	return out, nil
}
