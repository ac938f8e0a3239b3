package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/w1xm/rotoscope/slots"
)

// exercise mutates a store backed by p and checks a fresh store reloads
// the same contents.
func exercise(t *testing.T, p slots.Persister) {
	t.Helper()
	s, err := slots.Open(p)
	require.NoError(t, err)
	require.NoError(t, s.SetPosition(0, 100))
	require.NoError(t, s.SetMedia(0, "/videos/a.mp4"))
	require.NoError(t, s.SetPosition(1, 500))
	require.NoError(t, s.SetMedia(3, "/videos/only media.mp4"))
	require.NoError(t, s.SetPosition(7, -42))
	_, err = s.InsertSlot()
	require.NoError(t, err)
	require.NoError(t, s.DeleteSlot(2))

	reloaded, err := slots.Open(p)
	require.NoError(t, err)
	if diff := cmp.Diff(s.Snapshot(), reloaded.Snapshot()); diff != "" {
		t.Errorf("reload mismatch: want(-)/got(+):\n%s", diff)
	}
	assert.Equal(t, slots.DefaultTotal, reloaded.Total())
	ref, ok := reloaded.Media(2)
	assert.True(t, ok)
	assert.Equal(t, "/videos/only media.mp4", ref)
}

func TestJSONFileRoundTrip(t *testing.T) {
	exercise(t, NewJSONFile(filepath.Join(t.TempDir(), "nested", "rotoscope-settings.json")))
}

func TestJSONFileMissing(t *testing.T) {
	snap, err := NewJSONFile(filepath.Join(t.TempDir(), "absent.json")).Load()
	require.NoError(t, err)
	if diff := cmp.Diff(slots.DefaultSnapshot(), snap); diff != "" {
		t.Errorf("want(-)/got(+):\n%s", diff)
	}
}

func TestJSONFileLegacyFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rotoscope-settings.json")
	legacy := `{
  "positions": {"0": 120, "2": 900},
  "videos": {"0": "/home/user/a.mp4"},
  "lastSavedData": null,
  "totalSlots": 4,
  "lastSaved": "2024-05-01T10:00:00.000Z"
}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))
	s, err := slots.Open(NewJSONFile(path))
	require.NoError(t, err)
	assert.Equal(t, 4, s.Total())
	pos, ok := s.Position(2)
	assert.True(t, ok)
	assert.Equal(t, 900, pos)
	ref, _ := s.Media(0)
	assert.Equal(t, "/home/user/a.mp4", ref)
}

func TestJSONFileCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := NewJSONFile(path).Load()
	assert.Error(t, err)
}

func TestSQLiteRoundTrip(t *testing.T) {
	db, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "slots.db"))
	require.NoError(t, err)
	defer db.Close()
	exercise(t, db)
}

func TestSQLiteEmpty(t *testing.T) {
	db, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	defer db.Close()
	snap, err := db.Load()
	require.NoError(t, err)
	if diff := cmp.Diff(slots.DefaultSnapshot(), snap); diff != "" {
		t.Errorf("want(-)/got(+):\n%s", diff)
	}

	require.NoError(t, db.Save(slots.Snapshot{TotalSlots: 2, Positions: map[int]int{1: 3}, Media: map[int]string{}}))
	snap, err = db.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, snap.TotalSlots)
	assert.Equal(t, map[int]int{1: 3}, snap.Positions)
	assert.True(t, snap.SavedAt.IsZero())
}
