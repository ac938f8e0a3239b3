package slots

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindSlot(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.SetPosition(0, 100))
	require.NoError(t, s.SetPosition(1, 500))

	for _, test := range []struct {
		live   int
		want   int
		wantOK bool
	}{
		{102, 0, true},
		{300, 0, false},
		{96, 0, true},
		{95, 0, false},
		{105, 0, true},
		{106, 0, false},
		{495, 1, true},
		{500, 1, true},
	} {
		got, ok := FindSlot(test.live, s, DefaultTolerance)
		assert.Equal(t, test.wantOK, ok, "FindSlot(%d)", test.live)
		if ok {
			assert.Equal(t, test.want, got, "FindSlot(%d)", test.live)
		}
	}
}

func TestFindSlotOverlapLowestWins(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.SetPosition(4, 103))
	require.NoError(t, s.SetPosition(2, 98))
	got, ok := FindSlot(100, s, 5)
	require.True(t, ok)
	assert.Equal(t, 2, got)
}

func TestFindSlotExtremes(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.SetPosition(0, -1))
	require.NoError(t, s.SetPosition(1, math.MaxInt))

	for _, test := range []struct {
		live      int
		tolerance int
		want      int
		wantOK    bool
	}{
		{math.MaxInt, 5, 1, true},
		{math.MaxInt - 5, 5, 1, true},
		{math.MaxInt - 6, 5, 0, false},
		{math.MinInt, 5, 0, false},
		{math.MinInt, math.MaxInt - 1, 0, false},
		{math.MinInt, math.MaxInt, 0, true},
		{3, -5, 0, true},
		{0, math.MinInt, 0, true},
	} {
		got, ok := FindSlot(test.live, s, test.tolerance)
		assert.Equal(t, test.wantOK, ok, "FindSlot(%d, %d)", test.live, test.tolerance)
		if ok {
			assert.Equal(t, test.want, got, "FindSlot(%d, %d)", test.live, test.tolerance)
		}
	}
}

func TestDistance(t *testing.T) {
	assert.Equal(t, uint(math.MaxInt)+1, distance(math.MaxInt, -1))
	assert.Equal(t, uint(math.MaxUint), distance(math.MinInt, math.MaxInt))
	assert.Equal(t, uint(7), distance(-3, 4))
	assert.Equal(t, uint(0), distance(9, 9))
	assert.Equal(t, uint(math.MaxInt)+1, magnitude(math.MinInt))
}

func TestFindSlotNoPositions(t *testing.T) {
	s := New(nil)
	_, ok := FindSlot(0, s, DefaultTolerance)
	assert.False(t, ok)
}

func TestMatch(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.SetPosition(3, 1000))
	require.NoError(t, s.SetMedia(3, "c.mp4"))
	sl, ok := s.Match(998, DefaultTolerance)
	require.True(t, ok)
	assert.Equal(t, 3, sl.Index)
	assert.Equal(t, "c.mp4", sl.Media)

	_, ok = s.Match(0, 0)
	assert.False(t, ok)
}
