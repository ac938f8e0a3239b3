package mount

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type NoopCloser struct {
	io.Reader
	write bytes.Buffer
}

func (nc *NoopCloser) Write(p []byte) (n int, err error) {
	return nc.write.Write(p)
}

func (nc *NoopCloser) Close() error {
	return nil
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("device unplugged")
}

func TestWatch(t *testing.T) {
	for _, test := range []struct {
		input string
		want  []Event
	}{
		{"POS:120\n", []Event{PositionReport{Position: 120}}},
		{"POS:1\r\n\r\nPOS:2\n", []Event{PositionReport{Position: 1}, PositionReport{Position: 2}}},
		{"Moving to position: 10\nPOS:5\nSuccessfully reached position: 10\n", []Event{
			MovingStarted{}, PositionReport{Position: 5}, MovingFinished{},
		}},
		{"POS 0: 100\nPOS 1: EMPTY", []Event{
			ListEntry{Slot: 0, Position: 100}, ListEntry{Slot: 1, Empty: true},
		}},
	} {
		t.Run(test.input, func(t *testing.T) {
			p := NewPort("test", &NoopCloser{Reader: strings.NewReader(test.input)})
			var got []Event
			err := p.Watch(context.Background(), func(line string) {
				got = append(got, Decode(line))
			})
			require.NoError(t, err)
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Errorf("unexpected events: want(-)/got(+):\n%s", diff)
			}
		})
	}
}

func TestWatchReadError(t *testing.T) {
	p := NewPort("test", &NoopCloser{Reader: failingReader{}})
	err := p.Watch(context.Background(), func(string) {})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransport), "got %v", err)
}

func TestWatchCancel(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	p := NewPort("test", &pipeConn{Reader: r, closer: r})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- p.Watch(ctx, func(string) {})
	}()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
	assert.ErrorIs(t, p.Send(Home()), ErrNotConnected)
}

type pipeConn struct {
	io.Reader
	closer io.Closer
}

func (pc *pipeConn) Write(p []byte) (int, error) { return len(p), nil }
func (pc *pipeConn) Close() error                { return pc.closer.Close() }

func TestSend(t *testing.T) {
	conn := &NoopCloser{Reader: strings.NewReader("")}
	p := NewPort("test", conn)
	for _, cmd := range []Command{Save(2), Move(-40), QueryPosition(), List()} {
		require.NoError(t, p.Send(cmd))
	}
	assert.Equal(t, "SAVE:2\nMOVE:-40\nPOS?\nLIST\n", conn.write.String())

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Send(Home()), ErrNotConnected)
	assert.ErrorIs(t, p.Watch(context.Background(), func(string) {}), ErrNotConnected)
}
