package watch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNext(t *testing.T) {
	v := New("a")
	got, seq := v.Get()
	assert.Equal(t, "a", got)

	done := make(chan string)
	go func() {
		s, _, err := v.Next(context.Background(), seq)
		if err != nil {
			s = err.Error()
		}
		done <- s
	}()
	v.Set("b")
	select {
	case s := <-done:
		assert.Equal(t, "b", s)
	case <-time.After(time.Second):
		t.Fatal("Next did not return")
	}
}

func TestNextAlreadyNewer(t *testing.T) {
	v := New(1)
	_, seq := v.Get()
	v.Set(2)
	v.Set(3)
	got, newSeq, err := v.Next(context.Background(), seq)
	require.NoError(t, err)
	assert.Equal(t, 3, got)
	assert.Equal(t, seq+2, newSeq)
}

func TestNextCancel(t *testing.T) {
	v := New(0)
	_, seq := v.Get()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := v.Next(ctx, seq)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
