// Package simulator emulates a rotating mount speaking the line protocol.
package simulator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/w1xm/rotoscope/mount"
)

const (
	// Maximum travel per step in encoder counts
	maxStep = 40
	// Encoder counts per full turn of the mount
	countsPerRev = 3200
	// Travel limits in encoder counts
	minPosition = 0
	maxPosition = 20 * countsPerRev
	// Number of memory slots reported by LIST
	listSlots = 10
	// Discrete simulation step size
	stepSize = 25 * time.Millisecond
)

type Simulator struct {
	conn io.ReadWriteCloser
	out  chan string
	done chan struct{}

	mu       sync.Mutex
	position int
	target   int
	moving   bool
	saved    map[int]int
}

// New returns a simulator and the host end of its connection.
func New() (*Simulator, net.Conn) {
	a, b := net.Pipe()
	return &Simulator{
		conn:  a,
		out:   make(chan string, 256),
		done:  make(chan struct{}),
		saved: make(map[int]int),
	}, b
}

// Position returns the current simulated encoder position.
func (s *Simulator) Position() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

func (s *Simulator) Run(ctx context.Context) error {
	defer s.conn.Close()
	t := time.NewTicker(stepSize)
	defer t.Stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		close(s.done)
		// Unblock the reader.
		s.conn.Close()
		return ctx.Err()
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
			s.step()
		}
	})
	g.Go(s.reader)
	g.Go(func() error {
		return s.writer(ctx)
	})
	return g.Wait()
}

func (s *Simulator) reader() error {
	scanner := bufio.NewScanner(s.conn)
	for scanner.Scan() {
		input := scanner.Text()
		zlog.Debug().Msgf("host->sim: %s", input)
		if err := s.parseInput(input); err != nil {
			zlog.Debug().Err(err).Msgf("parsing %q", input)
			s.send("ERROR: %v", err)
			continue
		}
	}
	select {
	case <-s.done:
		return nil
	default:
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading port: %w", err)
	}
	return io.EOF
}

func (s *Simulator) writer(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line := <-s.out:
			zlog.Debug().Msgf("sim->host: %s", line)
			if _, err := fmt.Fprintf(s.conn, "%s\n", line); err != nil {
				return fmt.Errorf("writing port: %w", err)
			}
		}
	}
}

func (s *Simulator) parseInput(input string) error {
	cmd, err := mount.ParseCommand(input)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch cmd.Kind {
	case mount.CommandMove:
		s.startMove(cmd.Arg)
	case mount.CommandHome:
		s.startMove(minPosition)
	case mount.CommandSave:
		s.saved[cmd.Arg] = s.position
		s.send("Saved at position: %d", s.position)
	case mount.CommandGoto:
		pos, ok := s.saved[cmd.Arg]
		if !ok {
			s.send("Slot %d is empty", cmd.Arg)
			return nil
		}
		s.startMove(pos)
	case mount.CommandQueryPosition:
		s.send("POS:%d", s.position)
		s.send("Total Rotations: %.2f", float64(s.position)/countsPerRev)
	case mount.CommandLimits:
		s.send("START: %s END: %s", limitState(s.position <= minPosition), limitState(s.position >= maxPosition))
	case mount.CommandList:
		for i := 0; i < listSlots; i++ {
			if pos, ok := s.saved[i]; ok {
				s.send("POS %d: %d", i, pos)
			} else {
				s.send("POS %d: EMPTY", i)
			}
		}
	case mount.CommandTest:
		s.send("Direction test: OK")
	}
	return nil
}

func limitState(hit bool) string {
	if hit {
		return "TRIGGERED"
	}
	return "OPEN"
}

// startMove must be called with s.mu held.
func (s *Simulator) startMove(target int) {
	if target < minPosition {
		target = minPosition
	} else if target > maxPosition {
		target = maxPosition
	}
	s.target = target
	s.moving = true
	s.send("Moving to position: %d", target)
}

func (s *Simulator) step() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.moving {
		return
	}
	delta := s.target - s.position
	if delta > maxStep {
		delta = maxStep
	} else if delta < -maxStep {
		delta = -maxStep
	}
	s.position += delta
	s.send("POS:%d", s.position)
	if s.position == s.target {
		s.moving = false
		s.send("Successfully reached position: %d", s.position)
	}
}

func (s *Simulator) send(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	select {
	case s.out <- line:
	case <-s.done:
	}
}
