package slots

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memPersister struct {
	snap  Snapshot
	saves int
	err   error
}

func (m *memPersister) Load() (Snapshot, error) {
	if m.err != nil {
		return Snapshot{}, m.err
	}
	return m.snap, nil
}

func (m *memPersister) Save(snap Snapshot) error {
	m.saves++
	if m.err != nil {
		return m.err
	}
	m.snap = snap
	return nil
}

func intp(v int) *int { return &v }

// populated returns a store with five slots where slot i has position
// 100*(i+1) and every odd slot has media.
func populated(t *testing.T) *Store {
	t.Helper()
	s := New(nil)
	require.NoError(t, s.ResetAll())
	for s.Total() > 5 {
		require.NoError(t, s.DeleteSlot(s.Total()-1))
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, s.SetPosition(i, 100*(i+1)))
		if i%2 == 1 {
			require.NoError(t, s.SetMedia(i, "/media/clip"+string(rune('a'+i))+".mp4"))
		}
	}
	return s
}

func TestNewDefaults(t *testing.T) {
	s := New(nil)
	require.Equal(t, DefaultTotal, s.Total())
	for _, sl := range s.Slots() {
		assert.True(t, sl.Empty(), "slot %d", sl.Index)
	}
}

func TestInsertSlot(t *testing.T) {
	p := &memPersister{snap: DefaultSnapshot()}
	s, err := Open(p)
	require.NoError(t, err)
	before := s.Total()

	i, err := s.InsertSlot()
	require.NoError(t, err)
	assert.Equal(t, before, i)
	assert.Equal(t, before+1, s.Total())
	sl, err := s.Slot(i)
	require.NoError(t, err)
	assert.True(t, sl.Empty())
	assert.Equal(t, 1, p.saves)
	assert.Equal(t, before+1, p.snap.TotalSlots)
}

func TestDeleteSlotRenumbers(t *testing.T) {
	for del := 0; del < 5; del++ {
		s := populated(t)
		before := s.Slots()

		require.NoError(t, s.DeleteSlot(del))

		after := s.Slots()
		require.Len(t, after, len(before)-1)
		for j, sl := range after {
			src := before[j]
			if j >= del {
				src = before[j+1]
			}
			want := Slot{Index: j, Position: src.Position, Media: src.Media}
			if diff := cmp.Diff(want, sl); diff != "" {
				t.Errorf("delete %d: slot %d want(-)/got(+):\n%s", del, j, diff)
			}
		}
	}
}

func TestDeleteSparse(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.SetPosition(2, 20))
	require.NoError(t, s.SetMedia(5, "five.mp4"))
	require.NoError(t, s.SetPosition(9, 90))

	require.NoError(t, s.DeleteSlot(4))

	assert.Equal(t, 9, s.Total())
	pos, ok := s.Position(2)
	assert.True(t, ok)
	assert.Equal(t, 20, pos)
	ref, ok := s.Media(4)
	assert.True(t, ok)
	assert.Equal(t, "five.mp4", ref)
	assert.False(t, s.HasMedia(5))
	pos, ok = s.Position(8)
	assert.True(t, ok)
	assert.Equal(t, 90, pos)
	assert.False(t, s.HasPosition(9))
}

func TestOutOfRange(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.SetPosition(0, 1))
	before := s.Snapshot()
	for _, i := range []int{-1, DefaultTotal, DefaultTotal + 3} {
		for name, fn := range map[string]func() error{
			"delete":         func() error { return s.DeleteSlot(i) },
			"set position":   func() error { return s.SetPosition(i, 5) },
			"set media":      func() error { return s.SetMedia(i, "x") },
			"clear":          func() error { return s.ClearSlot(i) },
			"clear position": func() error { return s.ClearPosition(i) },
			"slot":           func() error { _, err := s.Slot(i); return err },
		} {
			err := fn()
			assert.True(t, errors.Is(err, ErrOutOfRange), "%s(%d): got %v", name, i, err)
		}
	}
	if diff := cmp.Diff(before, s.Snapshot()); diff != "" {
		t.Errorf("state changed: want(-)/got(+):\n%s", diff)
	}
}

func TestClearAndReset(t *testing.T) {
	s := populated(t)
	require.NoError(t, s.ClearSlot(1))
	sl, err := s.Slot(1)
	require.NoError(t, err)
	assert.True(t, sl.Empty())
	assert.Equal(t, 5, s.Total())

	require.NoError(t, s.ClearPosition(3))
	assert.False(t, s.HasPosition(3))
	assert.True(t, s.HasMedia(3))

	require.NoError(t, s.SetMedia(3, ""))
	assert.False(t, s.HasMedia(3))

	require.NoError(t, s.ResetAll())
	assert.Equal(t, DefaultTotal, s.Total())
	for _, sl := range s.Slots() {
		assert.True(t, sl.Empty())
	}
}

func TestPersistenceFailureKeepsState(t *testing.T) {
	p := &memPersister{snap: DefaultSnapshot()}
	s, err := Open(p)
	require.NoError(t, err)
	p.err = errors.New("disk full")

	err = s.SetPosition(3, 42)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPersistence))
	pos, ok := s.Position(3)
	assert.True(t, ok)
	assert.Equal(t, 42, pos)

	i, err := s.InsertSlot()
	assert.True(t, errors.Is(err, ErrPersistence))
	assert.Equal(t, DefaultTotal, i)
	assert.Equal(t, DefaultTotal+1, s.Total())
}

func TestOpenNormalises(t *testing.T) {
	p := &memPersister{snap: Snapshot{
		Positions:  map[int]int{-1: 5, 0: 10, 6: 60},
		Media:      map[int]string{1: "a.mp4", 2: ""},
		TotalSlots: 3,
	}}
	s, err := Open(p)
	require.NoError(t, err)
	assert.Equal(t, 7, s.Total())
	assert.False(t, s.HasMedia(2))
	want := []Slot{
		{Index: 0, Position: intp(10)},
		{Index: 1, Media: "a.mp4"},
		{Index: 2}, {Index: 3}, {Index: 4}, {Index: 5},
		{Index: 6, Position: intp(60)},
	}
	if diff := cmp.Diff(want, s.Slots()); diff != "" {
		t.Errorf("want(-)/got(+):\n%s", diff)
	}
}

func TestOpenError(t *testing.T) {
	_, err := Open(&memPersister{err: errors.New("corrupt")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPersistence))
}

func TestSnapshotRoundTrip(t *testing.T) {
	p := &memPersister{snap: DefaultSnapshot()}
	s, err := Open(p)
	require.NoError(t, err)
	require.NoError(t, s.SetPosition(0, 100))
	require.NoError(t, s.SetMedia(0, "/videos/a.mp4"))
	require.NoError(t, s.SetPosition(4, -20))
	_, err = s.InsertSlot()
	require.NoError(t, err)

	reloaded, err := Open(p)
	require.NoError(t, err)
	if diff := cmp.Diff(s.Snapshot(), reloaded.Snapshot()); diff != "" {
		t.Errorf("reload mismatch: want(-)/got(+):\n%s", diff)
	}
}

func TestSummaries(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.SetMedia(1, "/srv/videos/intro.mp4"))
	require.NoError(t, s.SetPosition(2, 7))
	sums := s.Summaries()
	require.Len(t, sums, DefaultTotal)
	assert.Equal(t, Summary{Slot: 1, HasMedia: true, MediaName: "intro.mp4"}, sums[1])
	assert.Equal(t, Summary{Slot: 2, HasPosition: true}, sums[2])
}
