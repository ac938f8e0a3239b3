package engine

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/w1xm/rotoscope/mount"
	"github.com/w1xm/rotoscope/slots"
)

func twoSlots(t *testing.T) *slots.Store {
	t.Helper()
	s := slots.New(nil)
	require.NoError(t, s.SetPosition(0, 100))
	require.NoError(t, s.SetMedia(0, "a.mp4"))
	require.NoError(t, s.SetPosition(1, 500))
	require.NoError(t, s.SetMedia(1, "b.mp4"))
	return s
}

func intp(v int) *int { return &v }

func TestReconciler(t *testing.T) {
	for _, test := range []struct {
		name   string
		events []mount.Event
		want   []string
		state  PlaybackState
	}{
		{
			name: "pause and resume without reload",
			events: []mount.Event{
				mount.PositionReport{Position: 101},
				mount.MovingStarted{},
				mount.MovingFinished{},
			},
			want:  []string{"present a.mp4", "pause", "resume"},
			state: PlaybackState{Mode: ModeIdle, Slot: intp(0), Media: "a.mp4"},
		},
		{
			name: "placeholder while moving",
			events: []mount.Event{
				mount.PositionReport{Position: 101},
				mount.MovingStarted{},
				mount.PositionReport{Position: 300},
			},
			want:  []string{"present a.mp4", "pause"},
			state: PlaybackState{Mode: ModeMoving, Slot: intp(0), Media: "a.mp4", Placeholder: true},
		},
		{
			name: "move to another slot",
			events: []mount.Event{
				mount.PositionReport{Position: 100},
				mount.MovingStarted{},
				mount.PositionReport{Position: 498},
				mount.MovingFinished{},
			},
			want:  []string{"present a.mp4", "pause", "present b.mp4"},
			state: PlaybackState{Mode: ModeIdle, Slot: intp(1), Media: "b.mp4"},
		},
		{
			name: "move to nowhere",
			events: []mount.Event{
				mount.PositionReport{Position: 100},
				mount.MovingStarted{},
				mount.PositionReport{Position: 300},
				mount.MovingFinished{},
			},
			want:  []string{"present a.mp4", "pause", "stop"},
			state: PlaybackState{Mode: ModeIdle},
		},
		{
			name: "placeholder cleared without media",
			events: []mount.Event{
				mount.PositionReport{Position: 300},
				mount.MovingStarted{},
				mount.MovingFinished{},
			},
			want:  []string{"pause", "stop"},
			state: PlaybackState{Mode: ModeIdle},
		},
		{
			name: "idle drift leaves slot",
			events: []mount.Event{
				mount.PositionReport{Position: 500},
				mount.PositionReport{Position: 503},
				mount.PositionReport{Position: 520},
			},
			want:  []string{"present b.mp4", "stop"},
			state: PlaybackState{Mode: ModeIdle},
		},
		{
			name: "repeated start is ignored",
			events: []mount.Event{
				mount.MovingStarted{},
				mount.MovingStarted{},
			},
			want:  []string{"pause"},
			state: PlaybackState{Mode: ModeMoving, Placeholder: true},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			p := &recorder{}
			r := NewReconciler(twoSlots(t), p, slots.DefaultTolerance)
			for _, ev := range test.events {
				r.OnEvent(ev)
			}
			if diff := cmp.Diff(test.want, p.calls); diff != "" {
				t.Errorf("presenter calls (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(test.state, r.State()); diff != "" {
				t.Errorf("state (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReconcilerRefreshAndReset(t *testing.T) {
	store := twoSlots(t)
	p := &recorder{}
	r := NewReconciler(store, p, slots.DefaultTolerance)

	// No position yet, nothing to match.
	r.Refresh()
	require.Empty(t, p.take())

	r.OnEvent(mount.PositionReport{Position: 100})
	require.NoError(t, store.SetMedia(0, "c.mp4"))
	r.Refresh()
	require.Equal(t, []string{"present a.mp4", "present c.mp4"}, p.take())

	r.Reset()
	require.Equal(t, []string{"stop"}, p.take())
	require.Equal(t, PlaybackState{Mode: ModeIdle}, r.State())

	// After a reset the old position is forgotten.
	r.Refresh()
	require.Empty(t, p.take())
}
