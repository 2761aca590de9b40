package directory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/villadispatch/core/model"
)

const roster = `staff:
  - id: ana
    name: Ana
    roles: [cleaner]
    active: true
    availability: available
    endpoint: ana-phone
  - id: ben
    name: Ben
    roles: [cleaner, maintenance]
    active: true
    availability: busy
`

func writeRoster(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestParse(t *testing.T) {
	members, err := Parse([]byte(roster))
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, model.Available, members[0].Availability)
	assert.Equal(t, "ana-phone", members[0].Endpoint)
	assert.True(t, members[1].HasRole("maintenance"))
}

func TestParseDefaultsAvailability(t *testing.T) {
	members, err := Parse([]byte("staff:\n  - id: cleo\n    active: true\n"))
	require.NoError(t, err)
	assert.Equal(t, model.OffDuty, members[0].Availability)
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"missing id":   "staff:\n  - name: nobody\n",
		"duplicate":    "staff:\n  - id: a\n  - id: a\n",
		"availability": "staff:\n  - id: a\n    availability: sleeping\n",
		"syntax":       "staff: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestLoadServesRoles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "staff.yaml")
	writeRoster(t, path, roster)
	f, err := Load(Config{Path: path}, nil)
	require.NoError(t, err)

	cleaners, err := f.StaffByRole(context.Background(), "cleaner")
	require.NoError(t, err)
	assert.Len(t, cleaners, 2)
	maint, err := f.StaffByRole(context.Background(), "maintenance")
	require.NoError(t, err)
	require.Len(t, maint, 1)
	assert.Equal(t, "ben", maint[0].ID)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(Config{Path: filepath.Join(t.TempDir(), "nope.yaml")}, nil)
	assert.Error(t, err)
}

func TestReloadKeepsRosterOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "staff.yaml")
	writeRoster(t, path, roster)
	f, err := Load(Config{Path: path}, nil)
	require.NoError(t, err)

	writeRoster(t, path, "staff: [")
	assert.Error(t, f.Reload())
	assert.Len(t, f.All(), 2)
}

func TestWatchPicksUpChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "staff.yaml")
	writeRoster(t, path, roster)
	f, err := Load(Config{Path: path, DebounceMS: 20}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Watch(ctx) }()
	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)

	writeRoster(t, path, "staff:\n  - id: gus\n    roles: [cleaner]\n    active: true\n    availability: available\n")
	assert.Eventually(t, func() bool {
		all := f.All()
		return len(all) == 1 && all[0].ID == "gus"
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
