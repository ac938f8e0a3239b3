package main

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/w1xm/rotoscope/engine"
	"github.com/w1xm/rotoscope/mount"
	"github.com/w1xm/rotoscope/mount/simulator"
)

// simulatorPort is the port name that selects the built-in simulator.
const simulatorPort = "simulator"

// Session owns the device link. It never reconnects on its own; a lost
// link stays down until Connect is called again.
type Session struct {
	ctx context.Context
	e   *engine.Engine

	mu     sync.Mutex
	port   *mount.Port
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSession returns a session whose links live at most as long as ctx.
func NewSession(ctx context.Context, e *engine.Engine) *Session {
	return &Session{ctx: ctx, e: e}
}

// Connect opens name at baud and attaches it to the engine.
func (s *Session) Connect(name string, baud int) error {
	if err := s.connect(name, baud); err != nil {
		return err
	}
	// Learn where the mount is and what it remembers.
	for _, query := range []func() error{s.e.QueryPosition, s.e.List} {
		if err := query(); err != nil {
			zlog.Warn().Err(err).Msg("initial query failed")
		}
	}
	return nil
}

func (s *Session) connect(name string, baud int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		return errors.Wrapf(engine.ErrAlreadyConnected, "connected to %q", s.port.Name())
	}

	ctx, cancel := context.WithCancel(s.ctx)
	var p *mount.Port
	if name == simulatorPort {
		sim, conn := simulator.New()
		go func() {
			if err := sim.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				zlog.Error().Err(err).Msg("simulator stopped")
			}
		}()
		p = mount.NewPort(simulatorPort, conn)
	} else {
		var err error
		p, err = mount.Open(mount.Config{Name: name, Baud: baud})
		if err != nil {
			cancel()
			return err
		}
	}

	if err := s.e.Attach(p.Name(), p); err != nil {
		cancel()
		p.Close()
		return err
	}
	done := make(chan struct{})
	s.port, s.cancel, s.done = p, cancel, done

	go func() {
		defer close(done)
		if err := p.Watch(ctx, s.e.HandleLine); err != nil {
			zlog.Error().Err(err).Str("port", p.Name()).Msg("link lost")
		}
		s.e.Detach()
		s.mu.Lock()
		if s.port == p {
			s.port, s.cancel, s.done = nil, nil, nil
		}
		s.mu.Unlock()
		cancel()
	}()
	return nil
}

// Disconnect closes the link and waits for the engine to be detached.
func (s *Session) Disconnect() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port != nil
}
