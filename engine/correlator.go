package engine

import (
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/w1xm/rotoscope/internal/metrics"
	"github.com/w1xm/rotoscope/mount"
	"github.com/w1xm/rotoscope/slots"
)

// maxPending bounds the outstanding command queue. A device that never
// confirms would otherwise grow it without limit.
const maxPending = 64

// ErrCorrelationMiss is returned for a confirmation with nothing pending.
var ErrCorrelationMiss = errors.New("no pending command for confirmation")

// PendingCommand is a command written to the device that may still be
// answered.
type PendingCommand struct {
	Kind mount.CommandKind `json:"kind"`
	// Slot is only meaningful for SAVE and GOTO.
	Slot   int       `json:"slot"`
	SentAt time.Time `json:"sentAt"`
}

// SlotWriter is the part of the slot store the correlator mutates.
type SlotWriter interface {
	SetPosition(i, pos int) error
	ClearPosition(i int) error
}

// Correlator attributes confirmations to the commands that caused them.
// It is not safe for concurrent use; the Engine serializes access.
type Correlator struct {
	store   SlotWriter
	pending []PendingCommand
	now     func() time.Time
}

func NewCorrelator(store SlotWriter) *Correlator {
	return &Correlator{store: store, now: time.Now}
}

func (c *Correlator) OnCommandSent(cmd mount.Command) {
	p := PendingCommand{Kind: cmd.Kind, SentAt: c.now()}
	if cmd.Kind.HasSlot() {
		p.Slot = cmd.Arg
	}
	if len(c.pending) >= maxPending {
		c.evict()
	}
	c.pending = append(c.pending, p)
}

// evict drops the oldest entry, preferring commands that are never
// confirmed over outstanding SAVEs.
func (c *Correlator) evict() {
	victim := 0
	for i, p := range c.pending {
		if p.Kind != mount.CommandSave {
			victim = i
			break
		}
	}
	zlog.Warn().Str("kind", string(c.pending[victim].Kind)).Msg("pending queue full, dropping command")
	c.pending = append(c.pending[:victim], c.pending[victim+1:]...)
}

// OnEvent applies ev to the store when it confirms something. Events that
// carry no slot data are ignored.
func (c *Correlator) OnEvent(ev mount.Event) error {
	switch ev := ev.(type) {
	case mount.SaveConfirmed:
		return c.confirmSave(ev.Position)
	case mount.ListEntry:
		if ev.Empty {
			return c.store.ClearPosition(ev.Slot)
		}
		return c.store.SetPosition(ev.Slot, ev.Position)
	}
	return nil
}

func (c *Correlator) confirmSave(position int) error {
	for i := len(c.pending) - 1; i >= 0; i-- {
		p := c.pending[i]
		if p.Kind != mount.CommandSave {
			continue
		}
		c.pending = append(c.pending[:i], c.pending[i+1:]...)
		zlog.Info().Int("slot", p.Slot).Int("position", position).Msg("save confirmed")
		return c.store.SetPosition(p.Slot, position)
	}
	metrics.CorrelationMisses.Inc()
	return errors.Wrapf(ErrCorrelationMiss, "save confirmed at %d", position)
}

// SlotDeleted keeps pending slot numbers aligned after slot i was removed.
func (c *Correlator) SlotDeleted(i int) {
	kept := c.pending[:0]
	for _, p := range c.pending {
		if p.Kind.HasSlot() {
			if p.Slot == i {
				zlog.Debug().Str("kind", string(p.Kind)).Int("slot", i).Msg("dropping pending command for deleted slot")
				continue
			}
			if p.Slot > i {
				p.Slot--
			}
		}
		kept = append(kept, p)
	}
	c.pending = kept
}

// Reset forgets every pending command. Called when the session ends.
func (c *Correlator) Reset() {
	c.pending = nil
}

// Pending returns a copy of the outstanding commands, oldest first.
func (c *Correlator) Pending() []PendingCommand {
	return append([]PendingCommand(nil), c.pending...)
}

var _ SlotWriter = (*slots.Store)(nil)
