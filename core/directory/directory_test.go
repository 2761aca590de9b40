package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/villadispatch/core/model"
)

func TestStaticStaffByRole(t *testing.T) {
	d := NewStatic(
		model.StaffMember{ID: "a", Roles: []string{"cleaner"}},
		model.StaffMember{ID: "b", Roles: []string{"gardener", "cleaner"}},
		model.StaffMember{ID: "c", Roles: []string{"gardener"}},
	)
	got, err := d.StaffByRole(context.Background(), "cleaner")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}

func TestStaticUpdate(t *testing.T) {
	d := NewStatic(model.StaffMember{ID: "a", Roles: []string{"cleaner"}, Active: true})
	assert.True(t, d.Update("a", func(m *model.StaffMember) { m.Suspended = true }))
	assert.False(t, d.Update("missing", func(*model.StaffMember) {}))
	assert.True(t, d.All()[0].Suspended)
}
